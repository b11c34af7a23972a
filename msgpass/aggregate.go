package msgpass

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-sgg/nn"
)

// Aggregate sums edge messages into their vertices:
//
//	ctx = Sub2Rel x out + Obj2Rel x in
//
// out and in are (pairs, hidden) messages addressed to each pair's subject
// and object respectively. The expression is evaluated on a graph built for
// this call. Without pairs every vertex gets a zero context.
func Aggregate(inc *Incidence, out, in *tensor.Dense) (*tensor.Dense, error) {
	n, p, err := nn.Dims(inc.Sub2Rel)
	if err != nil {
		return nil, errors.Wrap(err, "sub2rel")
	}
	rows, hidden, err := nn.Dims(out)
	if err != nil {
		return nil, errors.Wrap(err, "outgoing messages")
	}
	if rows != p {
		return nil, errors.Errorf("%d outgoing messages for %d pairs", rows, p)
	}
	if in == nil {
		return nil, errors.New("incoming messages: nil tensor")
	}
	if s := in.Shape(); len(s) != 2 || s[0] != p || s[1] != hidden {
		return nil, errors.Errorf("incoming messages have shape %v, want (%d, %d)", s, p, hidden)
	}
	if p == 0 {
		return nn.Zeros(n, hidden), nil
	}

	g := G.NewGraph()
	sub2rel := G.NewMatrix(g, tensor.Float32, G.WithShape(n, p), G.WithName("sub2rel"))
	obj2rel := G.NewMatrix(g, tensor.Float32, G.WithShape(n, p), G.WithName("obj2rel"))
	outMsg := G.NewMatrix(g, tensor.Float32, G.WithShape(p, hidden), G.WithName("out"))
	inMsg := G.NewMatrix(g, tensor.Float32, G.WithShape(p, hidden), G.WithName("in"))

	fromSub, err := G.Mul(sub2rel, outMsg)
	if err != nil {
		return nil, errors.Wrap(err, "sub2rel x out")
	}
	fromObj, err := G.Mul(obj2rel, inMsg)
	if err != nil {
		return nil, errors.Wrap(err, "obj2rel x in")
	}
	ctx, err := G.Add(fromSub, fromObj)
	if err != nil {
		return nil, errors.Wrap(err, "vertex context")
	}

	lets := []struct {
		node  *G.Node
		value *tensor.Dense
	}{
		{sub2rel, inc.Sub2Rel},
		{obj2rel, inc.Obj2Rel},
		{outMsg, out},
		{inMsg, in},
	}
	for _, l := range lets {
		if err := G.Let(l.node, l.value); err != nil {
			return nil, errors.Wrapf(err, "binding %s", l.node.Name())
		}
	}

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "running aggregation graph")
	}

	val, ok := ctx.Value().(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("aggregation produced %T", ctx.Value())
	}
	return val.Clone().(*tensor.Dense), nil
}
