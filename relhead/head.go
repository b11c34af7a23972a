// Package relhead - The relation context head: label assignment, pairwise
// feature extraction and message passing wired into one forward pass.
package relhead

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-sgg/config"
	"github.com/nvr-ai/go-sgg/metrics"
	"github.com/nvr-ai/go-sgg/msgpass"
	"github.com/nvr-ai/go-sgg/nn"
	"github.com/nvr-ai/go-sgg/pairwise"
	"github.com/nvr-ai/go-sgg/postprocess"
	"github.com/nvr-ai/go-sgg/scene"
)

// Options carries the optional collaborators of a Head.
type Options struct {
	// Logger receives construction and per-call logs. Nil uses the logrus
	// standard logger.
	Logger logrus.FieldLogger
	// Metrics receives per-call observations. Nil disables metrics.
	Metrics *metrics.Head
}

// Output is the result of one forward pass.
type Output struct {
	// Objects is the object context, (objects, hidden).
	Objects *tensor.Dense
	// Edges is the edge context, (pairs, hidden).
	Edges *tensor.Dense
	// PredLabels holds the labels used for every image, including the ones
	// assigned by NMS during this call.
	PredLabels [][]int
	// Assignments holds the NMS round records per image. Images whose labels
	// were supplied by the caller have a nil entry.
	Assignments [][]postprocess.Result
	// Propagation is the full message passing history.
	Propagation *msgpass.Result
	// Timings is the cost breakdown of the call.
	Timings metrics.Timings
}

// Head runs a batch of proposals through the relation context pipeline.
//
// Weights are read-only after construction or LoadWeights, so a Head may
// serve concurrent Forward calls.
type Head struct {
	cfg     *config.Config
	logger  logrus.FieldLogger
	metrics *metrics.Head

	Extractor *pairwise.Extractor
	Engine    *msgpass.Engine
}

// New builds a head for cfg with freshly initialized layers seeded by
// cfg.Seed.
//
// Arguments:
//   - cfg: The head configuration. It must not be modified afterwards.
//   - opts: Optional logger and metrics.
//
// Returns:
//   - *Head: The head, ready for Forward or LoadWeights.
//   - error: If the configuration is invalid.
func New(cfg *config.Config, opts Options) (*Head, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	init := nn.NewInit(cfg.Seed)
	extractor, err := pairwise.NewExtractor(cfg, init, logger)
	if err != nil {
		return nil, errors.Wrap(err, "building pairwise feature extractor")
	}
	return &Head{
		cfg:       cfg,
		logger:    logger,
		metrics:   opts.Metrics,
		Extractor: extractor,
		Engine:    msgpass.NewEngine(cfg, init, logger),
	}, nil
}

// Config returns the configuration the head was built with.
func (h *Head) Config() *config.Config {
	return h.cfg
}

// Params implements nn.Parameterized.
func (h *Head) Params() []nn.Param {
	return nn.CollectParams(h.Extractor, h.Engine)
}

// LoadWeights reads every parameter from dir/<name>.npy.
func (h *Head) LoadWeights(dir string) error {
	if err := nn.LoadNpy(dir, h.Params()); err != nil {
		return errors.Wrapf(err, "loading weights from %s", dir)
	}
	h.logger.WithFields(logrus.Fields{
		"dir":    dir,
		"params": len(h.Params()),
	}).Info("loaded weights")
	return nil
}

// SaveWeights writes every parameter to dir/<name>.npy.
func (h *Head) SaveWeights(dir string) error {
	return errors.Wrapf(nn.SaveNpy(dir, h.Params()), "saving weights to %s", dir)
}

// Forward assigns missing labels, builds pairwise features and refines them
// by message passing.
//
// The caller's batch is never modified: labels assigned by NMS are carried on
// a shallow copy and reported in Output.PredLabels.
//
// Arguments:
//   - objFeats: Appearance features of every proposal, (objects, in_channels).
//   - unionFeats: Union-region features of every pair, (pairs, in_channels).
//     May be nil in obj_pair mode.
//   - batch: The proposals and candidate pairs.
//
// Returns:
//   - *Output: The object and edge contexts with the labels used.
//   - error: If the batch is empty or inconsistent, or a stage fails.
func (h *Head) Forward(objFeats, unionFeats *tensor.Dense, batch *scene.Batch) (*Output, error) {
	start := time.Now()
	if batch == nil {
		return nil, errors.New("nil batch")
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	out := &Output{}
	stage := time.Now()
	labeled, assignments, err := h.assignLabels(batch)
	if err != nil {
		return nil, errors.Wrap(err, "label assignment")
	}
	if assignments != nil {
		out.Timings.NMS = time.Since(stage)
		for _, rounds := range assignments {
			assigned, suppressed := postprocess.Summary(rounds)
			out.Timings.NMSAssigned += assigned
			out.Timings.NMSSuppressed += suppressed
		}
	}
	out.Assignments = assignments

	stage = time.Now()
	features, err := h.Extractor.Forward(objFeats, unionFeats, labeled)
	if err != nil {
		return nil, errors.Wrap(err, "pairwise features")
	}
	out.Timings.Extract = time.Since(stage)

	stage = time.Now()
	prop, err := h.Engine.Forward(features.Objects, features.Relations, labeled)
	if err != nil {
		return nil, errors.Wrap(err, "message passing")
	}
	out.Timings.Propagate = time.Since(stage)

	out.Objects, out.Edges, out.Propagation = prop.Objects, prop.Edges, prop
	out.PredLabels = make([][]int, len(labeled.Images))
	for i, img := range labeled.Images {
		out.PredLabels[i] = img.PredLabels
	}

	out.Timings.Total = time.Since(start)
	out.Timings.Objects = labeled.NumObjects()
	out.Timings.Pairs = labeled.NumPairs()
	out.Timings.Rounds = prop.Rounds()
	h.metrics.Observe(out.Timings)

	h.logger.WithFields(logrus.Fields{
		"mode":     h.cfg.Mode.String(),
		"objects":  out.Timings.Objects,
		"pairs":    out.Timings.Pairs,
		"rounds":   out.Timings.Rounds,
		"assigned": out.Timings.NMSAssigned,
		"duration": out.Timings.Total,
	}).Debug("forward done")
	return out, nil
}

// assignLabels returns the batch to run with and the NMS records of every
// image. Outside predcls, images that have no predicted labels but carry
// per-class boxes and logits get their labels from postprocess.Assign. The
// returned batch is the input itself when nothing was assigned.
func (h *Head) assignLabels(batch *scene.Batch) (*scene.Batch, [][]postprocess.Result, error) {
	if h.cfg.Mode == config.ModePredCls {
		return batch, nil, nil
	}

	var (
		images      []*scene.Proposals
		assignments [][]postprocess.Result
	)
	nms := &postprocess.NMSConfig{IoUThreshold: h.cfg.NMS.IoUThreshold}
	for i, img := range batch.Images {
		if img.PredLabels != nil || img.ClassBoxes == nil || img.Logits == nil || img.Len() == 0 {
			continue
		}
		labels, rounds, err := postprocess.Assign(img.ClassBoxes, img.Logits, nms)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "image %d", i)
		}
		if images == nil {
			images = append([]*scene.Proposals(nil), batch.Images...)
			assignments = make([][]postprocess.Result, len(batch.Images))
		}
		cp := *img
		cp.PredLabels = labels
		images[i] = &cp
		assignments[i] = rounds
	}
	if images == nil {
		return batch, nil, nil
	}
	return &scene.Batch{Images: images, Pairs: batch.Pairs}, assignments, nil
}
