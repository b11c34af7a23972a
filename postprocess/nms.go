package postprocess

import (
	flatbush "github.com/bmharper/flatbush-go"
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-sgg/geometry"
)

// ErrObjectCountMismatch is returned when the logits and the per-class boxes
// describe a different number of objects.
var ErrObjectCountMismatch = errors.New("object count mismatch between logits and class boxes")

// NMSConfig defines parameters for label assignment.
type NMSConfig struct {
	IoUThreshold float32 // Same-class overlap at or above which a class is suppressed.
}

// DefaultNMSConfig returns the default label assignment configuration.
func DefaultNMSConfig() *NMSConfig {
	return &NMSConfig{IoUThreshold: 0.3}
}

// classBoxes is a read-only view over an (n, classes, 4) box tensor.
type classBoxes struct {
	n, classes int
	data       []float32
}

func newClassBoxes(t *tensor.Dense) (*classBoxes, error) {
	if t == nil {
		return nil, errors.New("nil class boxes")
	}
	s := t.Shape()
	if len(s) != 3 || s[2] != 4 {
		return nil, errors.Errorf("class boxes must have shape (n, classes, 4), got %v", s)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("class boxes must be float32, got %v", t.Dtype())
	}
	return &classBoxes{n: s[0], classes: s[1], data: data}, nil
}

func (cb *classBoxes) box(i, c int) geometry.Box {
	o := (i*cb.classes + c) * 4
	return geometry.Box{X1: cb.data[o], Y1: cb.data[o+1], X2: cb.data[o+2], Y2: cb.data[o+3]}
}

// Overlaps computes the (n, n, classes) tensor whose element (i, j, c) is the
// IoU of the class-c boxes of objects i and j.
//
// Arguments:
//   - classBoxes: Per-class boxes with shape (n, classes, 4).
//
// Returns:
//   - *tensor.Dense: The overlap tensor, symmetric in its first two axes.
//   - error: If the input is not an (n, classes, 4) float32 tensor.
func Overlaps(classBoxes *tensor.Dense) (*tensor.Dense, error) {
	cb, err := newClassBoxes(classBoxes)
	if err != nil {
		return nil, err
	}

	n, c := cb.n, cb.classes
	out := make([]float32, n*n*c)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			for k := 0; k < c; k++ {
				iou := cb.box(i, k).IoU(cb.box(j, k))
				out[(i*n+j)*c+k] = iou
				out[(j*n+i)*c+k] = iou
			}
		}
	}
	return tensor.New(tensor.WithShape(n, n, c), tensor.WithBacking(out)), nil
}

// AssignLabels assigns at most one class to every object by global greedy
// suppression over the class probability table.
//
// See Assign for the procedure. Objects that never won a non-background class
// keep label 0.
func AssignLabels(classBoxes, logits *tensor.Dense, config *NMSConfig) ([]int, error) {
	labels, _, err := Assign(classBoxes, logits, config)
	return labels, err
}

// Assign runs exactly n rounds over the softmax probabilities of logits, with
// the background column zeroed. Each round picks the highest remaining cell
// (the first in row-major order on ties), labels its object with the cell's
// class unless the object already has a non-zero label, zeroes that class for
// every object whose same-class box overlaps the winner's by at least the
// threshold, and finally sets the winner's whole row to -1.
//
// Arguments:
//   - classBoxes: Per-class boxes with shape (n, classes, 4).
//   - logits: Per-class scores with shape (n, classes).
//   - config: Assignment configuration. Nil uses DefaultNMSConfig.
//
// Returns:
//   - []int: One label per object.
//   - []Result: One record per round, in round order.
//   - error: ErrObjectCountMismatch (via errors.Cause) if the row counts differ,
//     or a shape error.
func Assign(classBoxes, logits *tensor.Dense, config *NMSConfig) ([]int, []Result, error) {
	if config == nil {
		config = DefaultNMSConfig()
	}
	cb, err := newClassBoxes(classBoxes)
	if err != nil {
		return nil, nil, err
	}
	if logits == nil || len(logits.Shape()) != 2 {
		return nil, nil, errors.New("logits must be an (n, classes) matrix")
	}
	if rows := logits.Shape()[0]; rows != cb.n {
		return nil, nil, errors.Wrapf(ErrObjectCountMismatch, "%d logit rows, %d box rows", rows, cb.n)
	}
	if cols := logits.Shape()[1]; cols != cb.classes {
		return nil, nil, errors.Errorf("logits have %d classes, class boxes have %d", cols, cb.classes)
	}

	n, c := cb.n, cb.classes
	probs, err := backgroundFreeSoftmax(logits, n, c)
	if err != nil {
		return nil, nil, err
	}

	overlap := newOverlapIndex(cb, config.IoUThreshold)
	labels := make([]int, n)
	rounds := make([]Result, 0, n)

	for round := 0; round < n; round++ {
		best := 0
		for k := 1; k < len(probs); k++ {
			if probs[k] > probs[best] {
				best = k
			}
		}
		obj, cls := best/c, best%c
		r := Result{Object: obj, Class: cls, Score: probs[best]}

		if labels[obj] > 0 {
			r.Kept = true
		} else {
			labels[obj] = cls
		}

		overlap.each(obj, cls, func(j int) {
			probs[j*c+cls] = 0
			r.Suppressed++
		})

		row := probs[obj*c : (obj+1)*c]
		for k := range row {
			row[k] = -1
		}
		rounds = append(rounds, r)
	}
	return labels, rounds, nil
}

// backgroundFreeSoftmax returns a call-owned copy of the row-wise softmax of
// logits with column 0 set to zero.
func backgroundFreeSoftmax(logits *tensor.Dense, n, c int) ([]float32, error) {
	src, ok := logits.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("logits must be float32, got %v", logits.Dtype())
	}
	out := make([]float32, n*c)
	for i := 0; i < n; i++ {
		row := src[i*c : (i+1)*c]
		m := math32.Inf(-1)
		for _, v := range row {
			m = math32.Max(m, v)
		}
		var total float32
		for k, v := range row {
			out[i*c+k] = math32.Exp(v - m)
			total += out[i*c+k]
		}
		for k := range row {
			out[i*c+k] /= total
		}
		out[i*c] = 0
	}
	return out, nil
}

// overlapIndex answers "which objects overlap object i in class c by at least
// the threshold". A flatbush index per class is built on first use and
// narrows the candidates to boxes whose pixel extents intersect.
type overlapIndex struct {
	boxes     *classBoxes
	threshold float32
	trees     map[int]extentTree
}

// extentTree is the query side of a finished flatbush index.
type extentTree interface {
	Search(minX, minY, maxX, maxY int32) []int
}

func newOverlapIndex(boxes *classBoxes, threshold float32) *overlapIndex {
	return &overlapIndex{boxes: boxes, threshold: threshold, trees: map[int]extentTree{}}
}

func (o *overlapIndex) each(i, c int, fn func(j int)) {
	anchor := o.boxes.box(i, c)

	// A non-positive threshold also matches disjoint boxes.
	if o.threshold <= 0 {
		for j := 0; j < o.boxes.n; j++ {
			if anchor.IoU(o.boxes.box(j, c)) >= o.threshold {
				fn(j)
			}
		}
		return
	}

	tree := o.tree(c)
	x1, y1, x2, y2 := pixelExtent(anchor)
	for _, j := range tree.Search(x1, y1, x2, y2) {
		if anchor.IoU(o.boxes.box(j, c)) >= o.threshold {
			fn(j)
		}
	}
}

func (o *overlapIndex) tree(c int) extentTree {
	if t, ok := o.trees[c]; ok {
		return t
	}
	t := flatbush.NewFlatbush[int32]()
	t.Reserve(o.boxes.n)
	for j := 0; j < o.boxes.n; j++ {
		x1, y1, x2, y2 := pixelExtent(o.boxes.box(j, c))
		t.Add(x1, y1, x2, y2)
	}
	t.Finish()
	o.trees[c] = t
	return t
}

// pixelExtent covers every pixel of b under the inclusive convention, so two
// boxes with a positive inclusive intersection always have intersecting
// extents.
func pixelExtent(b geometry.Box) (x1, y1, x2, y2 int32) {
	return int32(math32.Floor(b.X1)), int32(math32.Floor(b.Y1)),
		int32(math32.Ceil(b.X2)) + 1, int32(math32.Ceil(b.Y2)) + 1
}
