package geometry

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const (
	// InfoDim is the width of a single box descriptor.
	InfoDim = 8
	// PairInfoDim is the width of a box-pair descriptor.
	PairInfoDim = 4 * InfoDim
)

// Info is a box descriptor laid out as [x1, y1, x2, y2, cx, cy, w, h].
type Info [InfoDim]float32

// PairInfo is a pair descriptor laid out as [subject, object, union, intersection].
type PairInfo [PairInfoDim]float32

// BoxInfo builds the descriptor of a box.
//
// Width and height use the inclusive pixel convention and the center is the
// top-left corner shifted by half the size.
//
// Example Usage:
// ```go
//
//	info := BoxInfo(Box{X1: 0, Y1: 0, X2: 9, Y2: 19})
//	// [0 0 9 19 5 10 10 20]
//
// ```
func BoxInfo(b Box) Info {
	w, h := b.Width(), b.Height()
	return Info{b.X1, b.Y1, b.X2, b.Y2, b.X1 + 0.5*w, b.Y1 + 0.5*h, w, h}
}

// BoxInfoNormalized builds the descriptor of a box and divides every element
// by the normalization scale of the image it belongs to.
func BoxInfoNormalized(b Box, size ImageSize) Info {
	info := BoxInfo(b)
	scale := size.Longest()
	for i := range info {
		info[i] /= scale
	}
	return info
}

// Box recovers the corner coordinates of a descriptor.
func (i Info) Box() Box {
	return Box{X1: i[0], Y1: i[1], X2: i[2], Y2: i[3]}
}

// BoxPairInfo builds the 32 element descriptor of an ordered box pair.
//
// The union box is re-derived with BoxInfo from the enclosing corners. The
// intersection box is re-derived the same way, but the whole intersection
// block is zeroed when the boxes do not intersect on either axis.
func BoxPairInfo(subject, object Info) PairInfo {
	var out PairInfo
	a, b := subject.Box(), object.Box()

	copy(out[0:InfoDim], subject[:])
	copy(out[InfoDim:2*InfoDim], object[:])

	union := BoxInfo(a.Union(b))
	copy(out[2*InfoDim:3*InfoDim], union[:])

	if inter, ok := a.Intersect(b); ok {
		info := BoxInfo(inter)
		copy(out[3*InfoDim:], info[:])
	}
	return out
}

// Subject returns the subject block of the descriptor.
func (p PairInfo) Subject() Info { return p.block(0) }

// Object returns the object block of the descriptor.
func (p PairInfo) Object() Info { return p.block(1) }

// Union returns the union-box block of the descriptor.
func (p PairInfo) Union() Info { return p.block(2) }

// Intersection returns the intersection-box block of the descriptor.
func (p PairInfo) Intersection() Info { return p.block(3) }

func (p PairInfo) block(n int) Info {
	var i Info
	copy(i[:], p[n*InfoDim:(n+1)*InfoDim])
	return i
}

// NormalizedInfoRows builds the normalized descriptors for the boxes of one image.
func NormalizedInfoRows(boxes []Box, size ImageSize) []Info {
	out := make([]Info, len(boxes))
	for i, b := range boxes {
		out[i] = BoxInfoNormalized(b, size)
	}
	return out
}

// InfoTensor packs descriptors into an (n, 8) float32 tensor.
func InfoTensor(infos []Info) *tensor.Dense {
	data := make([]float32, 0, len(infos)*InfoDim)
	for _, info := range infos {
		data = append(data, info[:]...)
	}
	return tensor.New(tensor.WithShape(len(infos), InfoDim), tensor.WithBacking(data))
}

// PairInfoTensor applies BoxPairInfo row by row and packs the result into an
// (n, 32) float32 tensor. Rows never interact with each other.
//
// Arguments:
//   - subjects: Subject descriptors, one per pair.
//   - objects: Object descriptors, one per pair.
//
// Returns:
//   - *tensor.Dense: The (n, 32) pair descriptors.
//   - error: If the two slices differ in length.
func PairInfoTensor(subjects, objects []Info) (*tensor.Dense, error) {
	if len(subjects) != len(objects) {
		return nil, errors.Errorf("pair descriptor length mismatch: %d subjects, %d objects", len(subjects), len(objects))
	}
	data := make([]float32, 0, len(subjects)*PairInfoDim)
	for i := range subjects {
		p := BoxPairInfo(subjects[i], objects[i])
		data = append(data, p[:]...)
	}
	return tensor.New(tensor.WithShape(len(subjects), PairInfoDim), tensor.WithBacking(data)), nil
}
