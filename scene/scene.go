// Package scene - Per-image proposal sets, candidate pairs and their
// flattening into one batch-wide index space.
package scene

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-sgg/geometry"
)

// ErrEmptyBatch is returned when a batch has no proposals. A batch with
// proposals but no pairs is valid.
var ErrEmptyBatch = errors.New("batch has no objects")

// Pair is a candidate relation between two objects of the same image.
// Indices are local to that image's proposal list.
type Pair struct {
	Subject int
	Object  int
}

// Proposals is the ordered set of object proposals detected in one image.
type Proposals struct {
	// Size is the size of the source image.
	Size geometry.ImageSize
	// Boxes are the proposal boxes in absolute xyxy coordinates.
	Boxes []geometry.Box
	// Labels are ground-truth labels, one per box (optional).
	Labels []int
	// PredLabels are predicted labels, one per box (optional).
	PredLabels []int
	// Logits are raw per-class scores with shape (n, classes) (optional).
	Logits *tensor.Dense
	// ClassBoxes are per-class regressed boxes with shape (n, classes, 4) (optional).
	ClassBoxes *tensor.Dense
}

// Len returns the number of proposals in the set.
func (p *Proposals) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Boxes)
}

// Batch is a group of images processed in one forward pass.
type Batch struct {
	Images []*Proposals
	Pairs  [][]Pair
}

// Validate checks that every image has a pair list and that the optional
// per-object fields agree with the number of boxes.
func (b *Batch) Validate() error {
	if len(b.Images) != len(b.Pairs) {
		return errors.Errorf("batch has %d images but %d pair lists", len(b.Images), len(b.Pairs))
	}
	for i, img := range b.Images {
		if img == nil {
			return errors.Errorf("image %d has no proposals", i)
		}
		n := img.Len()
		if img.Labels != nil && len(img.Labels) != n {
			return errors.Errorf("image %d: %d labels for %d boxes", i, len(img.Labels), n)
		}
		if img.PredLabels != nil && len(img.PredLabels) != n {
			return errors.Errorf("image %d: %d predicted labels for %d boxes", i, len(img.PredLabels), n)
		}
		if img.Logits != nil {
			if s := img.Logits.Shape(); len(s) != 2 || s[0] != n {
				return errors.Errorf("image %d: logits have shape %v for %d boxes", i, s, n)
			}
		}
		if img.ClassBoxes != nil {
			if s := img.ClassBoxes.Shape(); len(s) != 3 || s[2] != 4 {
				return errors.Errorf("image %d: class boxes have shape %v, want (n, classes, 4)", i, s)
			}
		}
	}
	return nil
}

// CheckNonEmpty returns ErrEmptyBatch unless the batch holds at least one
// proposal.
func (b *Batch) CheckNonEmpty() error {
	if b.NumObjects() == 0 {
		return errors.Wrapf(ErrEmptyBatch, "%d images", len(b.Images))
	}
	return nil
}

// ObjectCounts returns the number of proposals in each image.
func (b *Batch) ObjectCounts() []int {
	counts := make([]int, len(b.Images))
	for i, img := range b.Images {
		counts[i] = img.Len()
	}
	return counts
}

// PairCounts returns the number of candidate pairs in each image.
func (b *Batch) PairCounts() []int {
	counts := make([]int, len(b.Pairs))
	for i, p := range b.Pairs {
		counts[i] = len(p)
	}
	return counts
}

// NumObjects returns the total number of proposals in the batch.
func (b *Batch) NumObjects() int {
	return sum(b.ObjectCounts())
}

// NumPairs returns the total number of candidate pairs in the batch.
func (b *Batch) NumPairs() int {
	return sum(b.PairCounts())
}

// NormalizedInfo returns the normalized descriptor of every proposal in
// flattened order, each normalized by the size of its own image.
func (b *Batch) NormalizedInfo() []geometry.Info {
	out := make([]geometry.Info, 0, b.NumObjects())
	for _, img := range b.Images {
		out = append(out, geometry.NormalizedInfoRows(img.Boxes, img.Size)...)
	}
	return out
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}
