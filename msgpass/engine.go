package msgpass

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-sgg/config"
	"github.com/nvr-ai/go-sgg/nn"
	"github.com/nvr-ai/go-sgg/scene"
)

// Result is the outcome of a propagation run.
type Result struct {
	// Objects is the final vertex factor, (objects, hidden).
	Objects *tensor.Dense
	// Edges is the final edge factor, (pairs, hidden).
	Edges *tensor.Dense
	// VertexFactors holds one snapshot per round, round 0 first.
	VertexFactors []*tensor.Dense
	// EdgeFactors holds one snapshot per round, round 0 first.
	EdgeFactors []*tensor.Dense
}

// Rounds returns the number of propagation rounds after the initial projection.
func (r *Result) Rounds() int {
	return len(r.VertexFactors) - 1
}

// Engine refines object and relation features by alternating edge and
// vertex GRU updates over the pair graph.
//
// The four gates map a (rows, 2*hidden) input to a (rows, 1) weight. They
// default to learned Linear -> Sigmoid layers and may be replaced.
type Engine struct {
	hidden  int
	numIter int
	logger  logrus.FieldLogger

	ObjUnary  *nn.Linear
	EdgeUnary *nn.Linear
	EdgeGRU   *nn.GRUCell
	NodeGRU   *nn.GRUCell

	SubVertGate nn.Module
	ObjVertGate nn.Module
	OutEdgeGate nn.Module
	InEdgeGate  nn.Module
}

// NewEngine builds an engine for cfg with freshly initialized layers.
func NewEngine(cfg *config.Config, init *nn.Init, logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := cfg.HiddenDim
	gate := func(name string) *nn.Sequential {
		return nn.NewSequential(name, nn.NewLinear(nn.Child(name, 0), 2*h, 1, init), nn.Sigmoid{})
	}
	return &Engine{
		hidden:      h,
		numIter:     cfg.NumIter,
		logger:      logger,
		ObjUnary:    nn.NewLinear("obj_unary", cfg.PoolingDim, h, init),
		EdgeUnary:   nn.NewLinear("edge_unary", cfg.PoolingDim, h, init),
		EdgeGRU:     nn.NewGRUCell("edge_gru", h, h, init),
		NodeGRU:     nn.NewGRUCell("node_gru", h, h, init),
		SubVertGate: gate("sub_vert_w_fc"),
		ObjVertGate: gate("obj_vert_w_fc"),
		OutEdgeGate: gate("out_edge_w_fc"),
		InEdgeGate:  gate("in_edge_w_fc"),
	}
}

// Params implements nn.Parameterized. Replaced gates without parameters are
// skipped.
func (e *Engine) Params() []nn.Param {
	return nn.CollectParams(
		e.ObjUnary, e.EdgeUnary, e.EdgeGRU, e.NodeGRU,
		e.SubVertGate, e.ObjVertGate, e.OutEdgeGate, e.InEdgeGate,
	)
}

// Forward runs the initial projection and the configured number of rounds.
//
// Arguments:
//   - objFeats: Augmented object features, (objects, pooling).
//   - relFeats: Relation features, (pairs, pooling).
//   - batch: The proposals and candidate pairs the rows belong to.
//
// Returns:
//   - *Result: The final factors and the per-round history.
//   - error: If the pair lists are invalid or a shape does not fit.
func (e *Engine) Forward(objFeats, relFeats *tensor.Dense, batch *scene.Batch) (*Result, error) {
	if err := batch.CheckNonEmpty(); err != nil {
		return nil, err
	}
	inc, err := BuildIncidence(batch.Pairs, batch.ObjectCounts())
	if err != nil {
		return nil, err
	}
	return e.Propagate(objFeats, relFeats, inc)
}

// Propagate runs message passing over a prebuilt incidence structure.
func (e *Engine) Propagate(objFeats, relFeats *tensor.Dense, inc *Incidence) (*Result, error) {
	idx := inc.Index
	objRows, _, err := nn.Dims(objFeats)
	if err != nil {
		return nil, errors.Wrap(err, "object features")
	}
	relRows, _, err := nn.Dims(relFeats)
	if err != nil {
		return nil, errors.Wrap(err, "relation features")
	}
	if objRows != idx.NumObjects {
		return nil, errors.Errorf("%d object feature rows for %d objects", objRows, idx.NumObjects)
	}
	if relRows != idx.NumPairs() {
		return nil, errors.Errorf("%d relation feature rows for %d pairs", relRows, idx.NumPairs())
	}

	if objRows == 0 {
		return nil, errors.Wrapf(scene.ErrEmptyBatch, "%d pairs", relRows)
	}

	objRep, err := e.ObjUnary.Forward(objFeats)
	if err != nil {
		return nil, err
	}
	v, err := e.NodeGRU.Step(objRep, nil)
	if err != nil {
		return nil, err
	}
	edge := nn.Zeros(0, e.hidden)
	if relRows > 0 {
		relRep, err := e.EdgeUnary.Forward(relFeats)
		if err != nil {
			return nil, err
		}
		relRep, _ = nn.ReLU{}.Forward(relRep)
		if edge, err = e.EdgeGRU.Step(relRep, nil); err != nil {
			return nil, err
		}
	}
	res := &Result{VertexFactors: []*tensor.Dense{v}, EdgeFactors: []*tensor.Dense{edge}}

	for t := 0; t < e.numIter; t++ {
		if v, edge, err = e.round(inc, v, edge); err != nil {
			return nil, errors.Wrapf(err, "round %d", t)
		}
		res.VertexFactors = append(res.VertexFactors, v)
		res.EdgeFactors = append(res.EdgeFactors, edge)
	}
	res.Objects, res.Edges = v, edge

	e.logger.WithFields(logrus.Fields{
		"objects": idx.NumObjects,
		"pairs":   idx.NumPairs(),
		"rounds":  res.Rounds(),
	}).Debug("message passing done")
	return res, nil
}

// round computes the next vertex and edge factors from the current ones.
// Without pairs the vertices are updated from a zero context.
func (e *Engine) round(inc *Incidence, v, edge *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	if inc.Index.NumPairs() == 0 {
		rows, _, err := nn.Dims(v)
		if err != nil {
			return nil, nil, err
		}
		nextV, err := e.NodeGRU.Step(nn.Zeros(rows, e.hidden), v)
		if err != nil {
			return nil, nil, err
		}
		return nextV, nn.Zeros(0, e.hidden), nil
	}

	sub, err := nn.GatherRows(v, inc.Index.Subjects)
	if err != nil {
		return nil, nil, err
	}
	obj, err := nn.GatherRows(v, inc.Index.Objects)
	if err != nil {
		return nil, nil, err
	}

	weightedSub, err := gated(e.SubVertGate, sub, edge, sub)
	if err != nil {
		return nil, nil, errors.Wrap(err, "subject vertex gate")
	}
	weightedObj, err := gated(e.ObjVertGate, obj, edge, obj)
	if err != nil {
		return nil, nil, errors.Wrap(err, "object vertex gate")
	}
	msg, err := nn.Add(weightedSub, weightedObj)
	if err != nil {
		return nil, nil, err
	}
	nextEdge, err := e.EdgeGRU.Step(msg, edge)
	if err != nil {
		return nil, nil, err
	}

	out, err := gated(e.OutEdgeGate, sub, nextEdge, nextEdge)
	if err != nil {
		return nil, nil, errors.Wrap(err, "outgoing edge gate")
	}
	in, err := gated(e.InEdgeGate, obj, nextEdge, nextEdge)
	if err != nil {
		return nil, nil, errors.Wrap(err, "incoming edge gate")
	}
	ctx, err := Aggregate(inc, out, in)
	if err != nil {
		return nil, nil, err
	}
	nextV, err := e.NodeGRU.Step(ctx, v)
	if err != nil {
		return nil, nil, err
	}
	return nextV, nextEdge, nil
}

// gated returns gate([vertex, edge]) * x, broadcasting the gate over columns.
func gated(gate nn.Module, vertex, edge, x *tensor.Dense) (*tensor.Dense, error) {
	in, err := nn.ConcatCols(vertex, edge)
	if err != nil {
		return nil, err
	}
	w, err := gate.Forward(in)
	if err != nil {
		return nil, err
	}
	return nn.ScaleRows(w, x)
}
