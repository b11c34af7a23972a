package nn

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// GRUCell is a single gated recurrent unit step with reset, update and
// candidate gates laid out in that order along the projected columns.
type GRUCell struct {
	Name   string
	Input  int
	Hidden int
	IH     *Linear
	HH     *Linear
}

// NewGRUCell creates a cell with weights drawn from U(-1/sqrt(hidden), 1/sqrt(hidden)).
func NewGRUCell(name string, input, hidden int, init *Init) *GRUCell {
	c := &GRUCell{
		Name:   name,
		Input:  input,
		Hidden: hidden,
		IH:     NewLinear(name+".ih", input, 3*hidden, nil).renamed(name+".weight_ih", name+".bias_ih"),
		HH:     NewLinear(name+".hh", hidden, 3*hidden, nil).renamed(name+".weight_hh", name+".bias_hh"),
	}
	if init != nil {
		bound := 1 / math32.Sqrt(float32(hidden))
		for _, p := range c.Params() {
			init.Uniform(p.Value, bound)
		}
	}
	return c
}

// Step advances hidden state h with input x. A nil h is treated as zeros.
func (c *GRUCell) Step(x, h *tensor.Dense) (*tensor.Dense, error) {
	rows, _, err := Dims(x)
	if err != nil {
		return nil, errors.Wrap(err, c.Name)
	}
	if h == nil {
		h = Zeros(rows, c.Hidden)
	}
	hr, hc, err := Dims(h)
	if err != nil {
		return nil, errors.Wrap(err, c.Name)
	}
	if hr != rows || hc != c.Hidden {
		return nil, errors.Errorf("%s: hidden state is (%d, %d), want (%d, %d)", c.Name, hr, hc, rows, c.Hidden)
	}

	gi, err := c.IH.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, c.Name)
	}
	gh, err := c.HH.Forward(h)
	if err != nil {
		return nil, errors.Wrap(err, c.Name)
	}

	H := c.Hidden
	xi, hh, prev := Values(gi), Values(gh), Values(h)
	out := make([]float32, rows*H)
	for i := 0; i < rows; i++ {
		a, b := xi[i*3*H:(i+1)*3*H], hh[i*3*H:(i+1)*3*H]
		for j := 0; j < H; j++ {
			r := sigmoid(a[j] + b[j])
			z := sigmoid(a[H+j] + b[H+j])
			n := math32.Tanh(a[2*H+j] + r*b[2*H+j])
			out[i*H+j] = (1-z)*n + z*prev[i*H+j]
		}
	}
	return New(rows, H, out), nil
}

// Params implements Parameterized.
func (c *GRUCell) Params() []Param {
	return CollectParams(c.IH, c.HH)
}
