package nn

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Linear is a fully connected layer y = x W + b.
//
// Weight is stored as (in, out) so the forward pass is a single MatMul. The
// serialized layout is the conventional (out, in), see Param.Transposed.
type Linear struct {
	Name   string
	In     int
	Out    int
	Weight *tensor.Dense
	Bias   *tensor.Dense

	weightName string
	biasName   string
}

// NewLinear creates a linear layer with Xavier-normal weights and zero bias.
func NewLinear(name string, in, out int, init *Init) *Linear {
	l := &Linear{
		Name:       name,
		In:         in,
		Out:        out,
		Weight:     Zeros(in, out),
		Bias:       vector(out),
		weightName: name + ".weight",
		biasName:   name + ".bias",
	}
	if init != nil {
		init.XavierNormal(l.Weight, 1)
	}
	return l
}

// Forward implements Module.
func (l *Linear) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	rows, cols, err := Dims(x)
	if err != nil {
		return nil, errors.Wrap(err, l.Name)
	}
	if cols != l.In {
		return nil, errors.Errorf("%s: input has %d features, want %d", l.Name, cols, l.In)
	}

	y, err := MatMul(x, l.Weight)
	if err != nil {
		return nil, errors.Wrap(err, l.Name)
	}

	out, b := Values(y), Values(l.Bias)
	for i := 0; i < rows; i++ {
		row := out[i*l.Out : (i+1)*l.Out]
		for j := range row {
			row[j] += b[j]
		}
	}
	return y, nil
}

// Params implements Parameterized.
func (l *Linear) Params() []Param {
	return []Param{
		{Name: l.weightName, Value: l.Weight, Transposed: true},
		{Name: l.biasName, Value: l.Bias},
	}
}

// renamed overrides the serialized parameter names of l.
func (l *Linear) renamed(weight, bias string) *Linear {
	l.weightName, l.biasName = weight, bias
	return l
}
