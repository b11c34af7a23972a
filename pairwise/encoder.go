package pairwise

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-sgg/config"
	"github.com/nvr-ai/go-sgg/nn"
)

// Encoder transforms the explicit head x tail signal of every pair from the
// hidden width to the pooling width.
type Encoder interface {
	nn.Parameterized
	Encode(x *tensor.Dense) (*tensor.Dense, error)
}

// FeedForwardEncoder maps each pair independently: Linear -> ReLU.
type FeedForwardEncoder struct {
	seq *nn.Sequential
}

// NewFeedForwardEncoder creates the per-pair encoder named name.
func NewFeedForwardEncoder(name string, hidden, pooling int, init *nn.Init) *FeedForwardEncoder {
	return &FeedForwardEncoder{
		seq: nn.NewSequential(name,
			nn.NewLinear(nn.Child(name, 0), hidden, pooling, init),
			nn.ReLU{},
		),
	}
}

// Encode implements Encoder.
func (e *FeedForwardEncoder) Encode(x *tensor.Dense) (*tensor.Dense, error) {
	return e.seq.Forward(x)
}

// Params implements nn.Parameterized.
func (e *FeedForwardEncoder) Params() []nn.Param {
	return e.seq.Params()
}

// SequenceEncoder runs self attention across all pairs of a forward call,
// treating them as one sequence, then maps each to the pooling width:
// TransformerEncoder -> ReLU -> Linear -> ReLU.
type SequenceEncoder struct {
	seq *nn.Sequential
}

// NewSequenceEncoder creates the attention encoder named name.
func NewSequenceEncoder(name string, hidden, pooling int, p config.PairwiseConfig, init *nn.Init) (*SequenceEncoder, error) {
	enc, err := nn.NewTransformerEncoder(nn.Child(name, 0), p.Layers, hidden, p.Heads, p.FeedForwardDim, init)
	if err != nil {
		return nil, err
	}
	return &SequenceEncoder{
		seq: nn.NewSequential(name,
			enc,
			nn.ReLU{},
			nn.NewLinear(nn.Child(name, 2), hidden, pooling, init),
			nn.ReLU{},
		),
	}, nil
}

// Encode implements Encoder.
func (e *SequenceEncoder) Encode(x *tensor.Dense) (*tensor.Dense, error) {
	return e.seq.Forward(x)
}

// Params implements nn.Parameterized.
func (e *SequenceEncoder) Params() []nn.Param {
	return e.seq.Params()
}

// NewEncoder builds the encoder selected by cfg.Pairwise.Func.
func NewEncoder(name string, cfg *config.Config, init *nn.Init) (Encoder, error) {
	switch cfg.Pairwise.Func {
	case config.PairwiseFuncIdentity:
		return NewFeedForwardEncoder(name, cfg.HiddenDim, cfg.PoolingDim, init), nil
	case config.PairwiseFuncMHA:
		enc, err := NewSequenceEncoder(name, cfg.HiddenDim, cfg.PoolingDim, cfg.Pairwise, init)
		if err != nil {
			return nil, err
		}
		return enc, nil
	default:
		return nil, errors.Wrapf(config.ErrUnknownPairwiseFunc, "%q", cfg.Pairwise.Func)
	}
}
