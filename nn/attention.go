package nn

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// MultiheadAttention is scaled dot-product self attention over a single
// sequence of rows.
type MultiheadAttention struct {
	Name    string
	Dim     int
	Heads   int
	InProj  *Linear
	OutProj *Linear
}

// NewMultiheadAttention creates a self-attention block. dim must be divisible
// by heads.
func NewMultiheadAttention(name string, dim, heads int, init *Init) (*MultiheadAttention, error) {
	if heads <= 0 || dim%heads != 0 {
		return nil, errors.Errorf("%s: %d features cannot be split into %d heads", name, dim, heads)
	}
	return &MultiheadAttention{
		Name:    name,
		Dim:     dim,
		Heads:   heads,
		InProj:  NewLinear(name+".in_proj", dim, 3*dim, init).renamed(name+".in_proj_weight", name+".in_proj_bias"),
		OutProj: NewLinear(name+".out_proj", dim, dim, init),
	}, nil
}

// Forward implements Module. Every row of x attends to every row of x.
func (m *MultiheadAttention) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	qkv, err := m.InProj.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, m.Name)
	}

	rows := qkv.Shape()[0]
	E, d := m.Dim, m.Dim/m.Heads
	scale := 1 / math32.Sqrt(float32(d))
	proj := Values(qkv)
	ctx := make([]float32, rows*E)
	scores := make([]float32, rows)

	for h := 0; h < m.Heads; h++ {
		qo, ko, vo := h*d, E+h*d, 2*E+h*d
		for i := 0; i < rows; i++ {
			q := proj[i*3*E+qo : i*3*E+qo+d]
			best := math32.Inf(-1)
			for j := 0; j < rows; j++ {
				k := proj[j*3*E+ko : j*3*E+ko+d]
				var s float32
				for t := range q {
					s += q[t] * k[t]
				}
				scores[j] = s * scale
				best = math32.Max(best, scores[j])
			}
			var total float32
			for j := range scores {
				scores[j] = math32.Exp(scores[j] - best)
				total += scores[j]
			}
			out := ctx[i*E+h*d : i*E+(h+1)*d]
			for j := 0; j < rows; j++ {
				w := scores[j] / total
				v := proj[j*3*E+vo : j*3*E+vo+d]
				for t := range out {
					out[t] += w * v[t]
				}
			}
		}
	}

	y, err := m.OutProj.Forward(New(rows, E, ctx))
	if err != nil {
		return nil, errors.Wrap(err, m.Name)
	}
	return y, nil
}

// Params implements Parameterized.
func (m *MultiheadAttention) Params() []Param {
	return CollectParams(m.InProj, m.OutProj)
}

// TransformerEncoderLayer is a post-norm self-attention block followed by a
// ReLU feed-forward block.
type TransformerEncoderLayer struct {
	Name     string
	SelfAttn *MultiheadAttention
	Linear1  *Linear
	Linear2  *Linear
	Norm1    *LayerNorm
	Norm2    *LayerNorm
}

// NewTransformerEncoderLayer creates one encoder layer.
func NewTransformerEncoderLayer(name string, dim, heads, ff int, init *Init) (*TransformerEncoderLayer, error) {
	attn, err := NewMultiheadAttention(name+".self_attn", dim, heads, init)
	if err != nil {
		return nil, err
	}
	return &TransformerEncoderLayer{
		Name:     name,
		SelfAttn: attn,
		Linear1:  NewLinear(name+".linear1", dim, ff, init),
		Linear2:  NewLinear(name+".linear2", ff, dim, init),
		Norm1:    NewLayerNorm(name+".norm1", dim),
		Norm2:    NewLayerNorm(name+".norm2", dim),
	}, nil
}

// Forward implements Module.
func (l *TransformerEncoderLayer) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	a, err := l.SelfAttn.Forward(x)
	if err != nil {
		return nil, err
	}
	if x, err = Add(x, a); err != nil {
		return nil, errors.Wrap(err, l.Name)
	}
	if x, err = l.Norm1.Forward(x); err != nil {
		return nil, err
	}

	f, err := l.Linear1.Forward(x)
	if err != nil {
		return nil, err
	}
	if f, err = l.Linear2.Forward(Map(f, relu)); err != nil {
		return nil, err
	}
	if x, err = Add(x, f); err != nil {
		return nil, errors.Wrap(err, l.Name)
	}
	return l.Norm2.Forward(x)
}

// Params implements Parameterized.
func (l *TransformerEncoderLayer) Params() []Param {
	return CollectParams(l.SelfAttn, l.Linear1, l.Linear2, l.Norm1, l.Norm2)
}

// TransformerEncoder stacks encoder layers named "<name>.layers.<i>".
type TransformerEncoder struct {
	Name   string
	Layers []*TransformerEncoderLayer
}

// NewTransformerEncoder creates n identical-shape encoder layers.
func NewTransformerEncoder(name string, n, dim, heads, ff int, init *Init) (*TransformerEncoder, error) {
	if n <= 0 {
		return nil, errors.Errorf("%s: need at least one layer, got %d", name, n)
	}
	enc := &TransformerEncoder{Name: name}
	for i := 0; i < n; i++ {
		l, err := NewTransformerEncoderLayer(Child(name+".layers", i), dim, heads, ff, init)
		if err != nil {
			return nil, err
		}
		enc.Layers = append(enc.Layers, l)
	}
	return enc, nil
}

// Forward implements Module.
func (e *TransformerEncoder) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	var err error
	for _, l := range e.Layers {
		if x, err = l.Forward(x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Params implements Parameterized.
func (e *TransformerEncoder) Params() []Param {
	var out []Param
	for _, l := range e.Layers {
		out = append(out, l.Params()...)
	}
	return out
}
