package nn

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Embedding is a lookup table of num rows of width dim.
type Embedding struct {
	Name   string
	Num    int
	Dim    int
	Weight *tensor.Dense
}

// NewEmbedding creates a table with N(0, 1) rows.
func NewEmbedding(name string, num, dim int, init *Init) *Embedding {
	e := &Embedding{Name: name, Num: num, Dim: dim, Weight: Zeros(num, dim)}
	if init != nil {
		init.Normal(e.Weight, 1)
	}
	return e
}

// Lookup returns the rows selected by labels.
func (e *Embedding) Lookup(labels []int) (*tensor.Dense, error) {
	out, err := GatherRows(e.Weight, labels)
	if err != nil {
		return nil, errors.Wrap(err, e.Name)
	}
	return out, nil
}

// Weighted returns probs x table, the expectation of the embedding under
// each row's distribution.
func (e *Embedding) Weighted(probs *tensor.Dense) (*tensor.Dense, error) {
	_, cols, err := Dims(probs)
	if err != nil {
		return nil, errors.Wrap(err, e.Name)
	}
	if cols != e.Num {
		return nil, errors.Errorf("%s: distribution over %d classes, table has %d", e.Name, cols, e.Num)
	}
	return MatMul(probs, e.Weight)
}

// Params implements Parameterized.
func (e *Embedding) Params() []Param {
	return []Param{{Name: e.Name + ".weight", Value: e.Weight}}
}
