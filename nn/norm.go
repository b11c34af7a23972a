package nn

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const normEps = 1e-5

// BatchNorm1d normalizes features with running statistics (inference mode).
type BatchNorm1d struct {
	Name        string
	Features    int
	Weight      *tensor.Dense
	Bias        *tensor.Dense
	RunningMean *tensor.Dense
	RunningVar  *tensor.Dense
}

// NewBatchNorm1d creates an identity-initialized batch norm layer.
func NewBatchNorm1d(name string, features int) *BatchNorm1d {
	bn := &BatchNorm1d{
		Name:        name,
		Features:    features,
		Weight:      vector(features),
		Bias:        vector(features),
		RunningMean: vector(features),
		RunningVar:  vector(features),
	}
	Fill(bn.Weight, 1)
	Fill(bn.RunningVar, 1)
	return bn
}

// Forward implements Module.
func (bn *BatchNorm1d) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	rows, cols, err := Dims(x)
	if err != nil {
		return nil, errors.Wrap(err, bn.Name)
	}
	if cols != bn.Features {
		return nil, errors.Errorf("%s: input has %d features, want %d", bn.Name, cols, bn.Features)
	}

	w, b := Values(bn.Weight), Values(bn.Bias)
	mean, variance := Values(bn.RunningMean), Values(bn.RunningVar)
	src := Values(x)
	out := make([]float32, len(src))
	for j := 0; j < cols; j++ {
		scale := w[j] / math32.Sqrt(variance[j]+normEps)
		for i := 0; i < rows; i++ {
			out[i*cols+j] = (src[i*cols+j]-mean[j])*scale + b[j]
		}
	}
	return New(rows, cols, out), nil
}

// Params implements Parameterized.
func (bn *BatchNorm1d) Params() []Param {
	return []Param{
		{Name: bn.Name + ".weight", Value: bn.Weight},
		{Name: bn.Name + ".bias", Value: bn.Bias},
		{Name: bn.Name + ".running_mean", Value: bn.RunningMean},
		{Name: bn.Name + ".running_var", Value: bn.RunningVar},
	}
}

// LayerNorm normalizes every row to zero mean and unit variance.
type LayerNorm struct {
	Name     string
	Features int
	Weight   *tensor.Dense
	Bias     *tensor.Dense
}

// NewLayerNorm creates an identity-initialized layer norm.
func NewLayerNorm(name string, features int) *LayerNorm {
	ln := &LayerNorm{
		Name:     name,
		Features: features,
		Weight:   vector(features),
		Bias:     vector(features),
	}
	Fill(ln.Weight, 1)
	return ln
}

// Forward implements Module.
func (ln *LayerNorm) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	rows, cols, err := Dims(x)
	if err != nil {
		return nil, errors.Wrap(err, ln.Name)
	}
	if cols != ln.Features {
		return nil, errors.Errorf("%s: input has %d features, want %d", ln.Name, cols, ln.Features)
	}

	w, b := Values(ln.Weight), Values(ln.Bias)
	src := Values(x)
	out := make([]float32, len(src))
	for i := 0; i < rows; i++ {
		row := src[i*cols : (i+1)*cols]
		var mean float32
		for _, v := range row {
			mean += v
		}
		mean /= float32(cols)
		var variance float32
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		variance /= float32(cols)
		inv := 1 / math32.Sqrt(variance+normEps)
		for j, v := range row {
			out[i*cols+j] = (v-mean)*inv*w[j] + b[j]
		}
	}
	return New(rows, cols, out), nil
}

// Params implements Parameterized.
func (ln *LayerNorm) Params() []Param {
	return []Param{
		{Name: ln.Name + ".weight", Value: ln.Weight},
		{Name: ln.Name + ".bias", Value: ln.Bias},
	}
}
