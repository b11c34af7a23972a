package nn

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Module is a layer mapping a (rows, in) matrix to a (rows, out) matrix.
type Module interface {
	Forward(x *tensor.Dense) (*tensor.Dense, error)
}

// Param is a named learnable tensor.
type Param struct {
	// Name is the dotted parameter path, e.g. "pos_embed.0.weight".
	Name string
	// Value is the tensor the layer reads during Forward.
	Value *tensor.Dense
	// Transposed is set when Value stores the transpose of the serialized
	// (out, in) layout.
	Transposed bool
}

// Parameterized is implemented by layers that own learnable tensors.
type Parameterized interface {
	Params() []Param
}

// CollectParams gathers the parameters of every parameterized module.
func CollectParams(modules ...interface{}) []Param {
	var out []Param
	for _, m := range modules {
		if p, ok := m.(Parameterized); ok {
			out = append(out, p.Params()...)
		}
	}
	return out
}

// ReLU is the rectifying activation.
type ReLU struct{}

// Forward implements Module.
func (ReLU) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	return Map(x, relu), nil
}

// Sigmoid is the logistic activation.
type Sigmoid struct{}

// Forward implements Module.
func (Sigmoid) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	return Map(x, sigmoid), nil
}

// Sequential chains modules. Parameterized children are expected to have been
// named "<name>.<position>" so parameter paths match the serialized layout.
type Sequential struct {
	Name   string
	Layers []Module
}

// NewSequential creates a named chain of modules.
func NewSequential(name string, layers ...Module) *Sequential {
	return &Sequential{Name: name, Layers: layers}
}

// Child returns the conventional name of the layer at position i.
func Child(name string, i int) string {
	return fmt.Sprintf("%s.%d", name, i)
}

// Forward implements Module.
func (s *Sequential) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	var err error
	for i, l := range s.Layers {
		if x, err = l.Forward(x); err != nil {
			return nil, errors.Wrapf(err, "%s", Child(s.Name, i))
		}
	}
	return x, nil
}

// Params implements Parameterized.
func (s *Sequential) Params() []Param {
	mods := make([]interface{}, len(s.Layers))
	for i, l := range s.Layers {
		mods[i] = l
	}
	return CollectParams(mods...)
}
