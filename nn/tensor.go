// Package nn - Inference-mode neural network layers over gorgonia tensors.
//
// Every activation is a row-major (rows, cols) float32 *tensor.Dense. Layers
// never mutate their inputs; each call allocates its result.
package nn

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// New wraps data as a (rows, cols) float32 tensor without copying.
func New(rows, cols int, data []float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
}

// Zeros allocates a (rows, cols) tensor of zeros.
func Zeros(rows, cols int) *tensor.Dense {
	return New(rows, cols, make([]float32, rows*cols))
}

// FromRows copies a slice of equally sized rows into a tensor.
func FromRows(rows [][]float32) (*tensor.Dense, error) {
	if len(rows) == 0 {
		return nil, errors.New("no rows")
	}
	cols := len(rows[0])
	data := make([]float32, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, errors.Errorf("row %d has %d columns, want %d", i, len(r), cols)
		}
		data = append(data, r...)
	}
	return New(len(rows), cols, data), nil
}

// Values returns the float32 backing slice of t.
func Values(t *tensor.Dense) []float32 {
	return t.Data().([]float32)
}

// Dims returns the row and column counts of a matrix.
func Dims(t *tensor.Dense) (rows, cols int, err error) {
	if t == nil {
		return 0, 0, errors.New("nil tensor")
	}
	s := t.Shape()
	if len(s) != 2 {
		return 0, 0, errors.Errorf("expected a matrix, got shape %v", s)
	}
	if t.Dtype() != tensor.Float32 {
		return 0, 0, errors.Errorf("expected float32, got %v", t.Dtype())
	}
	return s[0], s[1], nil
}

// Row returns a copy of row i of a matrix.
func Row(t *tensor.Dense, i int) []float32 {
	cols := t.Shape()[1]
	out := make([]float32, cols)
	copy(out, Values(t)[i*cols:(i+1)*cols])
	return out
}

// MatMul multiplies two matrices.
func MatMul(a, b *tensor.Dense) (*tensor.Dense, error) {
	out, err := a.MatMul(b)
	if err != nil {
		return nil, errors.Wrapf(err, "matmul %v x %v", a.Shape(), b.Shape())
	}
	return out, nil
}

// Transpose returns a materialized transpose of a matrix.
func Transpose(t *tensor.Dense) (*tensor.Dense, error) {
	if _, _, err := Dims(t); err != nil {
		return nil, err
	}
	out, err := tensor.Transpose(t)
	if err != nil {
		return nil, errors.Wrapf(err, "transpose %v", t.Shape())
	}
	return out.(*tensor.Dense), nil
}

// ConcatCols joins matrices with the same row count side by side. Nil
// entries are skipped so optional blocks can be passed through unchanged.
func ConcatCols(ts ...*tensor.Dense) (*tensor.Dense, error) {
	rows := -1
	parts := make([]*tensor.Dense, 0, len(ts))
	for _, t := range ts {
		if t == nil {
			continue
		}
		r, _, err := Dims(t)
		if err != nil {
			return nil, err
		}
		if rows >= 0 && r != rows {
			return nil, errors.Errorf("concat row mismatch: %d vs %d", rows, r)
		}
		rows = r
		parts = append(parts, t)
	}
	switch len(parts) {
	case 0:
		return nil, errors.New("concat of no tensors")
	case 1:
		return parts[0].Clone().(*tensor.Dense), nil
	}

	out, err := parts[0].Concat(1, parts[1:]...)
	if err != nil {
		return nil, errors.Wrap(err, "concat columns")
	}
	return out, nil
}

// SplitCols cuts a matrix into the columns before and after at.
func SplitCols(t *tensor.Dense, at int) (left, right *tensor.Dense, err error) {
	rows, cols, err := Dims(t)
	if err != nil {
		return nil, nil, err
	}
	if at <= 0 || at >= cols {
		return nil, nil, errors.Errorf("split at %d outside (0, %d) columns", at, cols)
	}
	if left, err = sliceCols(t, rows, 0, at); err != nil {
		return nil, nil, err
	}
	if right, err = sliceCols(t, rows, at, cols); err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

// sliceCols copies columns [start, end) of a (rows, cols) matrix. Slicing
// drops unit dimensions, so the copy is reshaped back to a matrix.
func sliceCols(t *tensor.Dense, rows, start, end int) (*tensor.Dense, error) {
	view, err := t.Slice(nil, tensor.S(start, end))
	if err != nil {
		return nil, errors.Wrapf(err, "slice columns [%d, %d)", start, end)
	}
	out := tensor.Materialize(view).(*tensor.Dense)
	if err := out.Reshape(rows, end-start); err != nil {
		return nil, errors.Wrapf(err, "slice columns [%d, %d)", start, end)
	}
	return out, nil
}

// GatherRows builds a matrix from the rows of t selected by idx.
func GatherRows(t *tensor.Dense, idx []int) (*tensor.Dense, error) {
	rows, cols, err := Dims(t)
	if err != nil {
		return nil, err
	}
	src := Values(t)
	out := make([]float32, len(idx)*cols)
	for k, i := range idx {
		if i < 0 || i >= rows {
			return nil, errors.Errorf("gather index %d outside %d rows", i, rows)
		}
		copy(out[k*cols:(k+1)*cols], src[i*cols:(i+1)*cols])
	}
	return New(len(idx), cols, out), nil
}

// Add sums matrices of identical shape element-wise. Nil entries are skipped.
func Add(ts ...*tensor.Dense) (*tensor.Dense, error) {
	var out *tensor.Dense
	for _, t := range ts {
		if t == nil {
			continue
		}
		if _, _, err := Dims(t); err != nil {
			return nil, err
		}
		if out == nil {
			out = t.Clone().(*tensor.Dense)
			continue
		}
		if !out.Shape().Eq(t.Shape()) {
			return nil, errors.Errorf("add shape mismatch: %v vs %v", out.Shape(), t.Shape())
		}
		if _, err := out.Add(t, tensor.UseUnsafe()); err != nil {
			return nil, errors.Wrap(err, "add")
		}
	}
	if out == nil {
		return nil, errors.New("add of no tensors")
	}
	return out, nil
}

// Hadamard multiplies two matrices of identical shape element-wise.
func Hadamard(a, b *tensor.Dense) (*tensor.Dense, error) {
	if _, _, err := Dims(a); err != nil {
		return nil, err
	}
	if _, _, err := Dims(b); err != nil {
		return nil, err
	}
	if !a.Shape().Eq(b.Shape()) {
		return nil, errors.Errorf("hadamard shape mismatch: %v vs %v", a.Shape(), b.Shape())
	}
	out, err := a.Mul(b)
	if err != nil {
		return nil, errors.Wrap(err, "hadamard")
	}
	return out, nil
}

// ScaleRows multiplies every row i of x by the scalar gate[i, 0].
func ScaleRows(gate, x *tensor.Dense) (*tensor.Dense, error) {
	rg, cg, err := Dims(gate)
	if err != nil {
		return nil, err
	}
	rows, cols, err := Dims(x)
	if err != nil {
		return nil, err
	}
	if cg != 1 || rg != rows {
		return nil, errors.Errorf("gate shape (%d, %d) does not broadcast over (%d, %d)", rg, cg, rows, cols)
	}
	g, src := Values(gate), Values(x)
	out := make([]float32, len(src))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = g[i] * src[i*cols+j]
		}
	}
	return New(rows, cols, out), nil
}

// Map applies fn to every element of t.
func Map(t *tensor.Dense, fn func(float32) float32) *tensor.Dense {
	s := t.Shape()
	src := Values(t)
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = fn(v)
	}
	return tensor.New(tensor.WithShape(s.Clone()...), tensor.WithBacking(out))
}

// SoftmaxRows normalizes every row of a matrix into a probability distribution.
func SoftmaxRows(t *tensor.Dense) (*tensor.Dense, error) {
	rows, cols, err := Dims(t)
	if err != nil {
		return nil, err
	}
	src := Values(t)
	out := make([]float32, len(src))
	for i := 0; i < rows; i++ {
		row := src[i*cols : (i+1)*cols]
		m := math32.Inf(-1)
		for _, v := range row {
			m = math32.Max(m, v)
		}
		var total float32
		for j, v := range row {
			e := math32.Exp(v - m)
			out[i*cols+j] = e
			total += e
		}
		for j := range row {
			out[i*cols+j] /= total
		}
	}
	return New(rows, cols, out), nil
}

func relu(x float32) float32 {
	if x > 0 {
		return x
	}
	return 0
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}
