// Package geometry - Box descriptors and overlap measures for object proposals.
package geometry

import "github.com/chewxy/math32"

// Box is an axis-aligned bounding box in absolute image coordinates.
//
// Coordinates follow the inclusive pixel convention: a box covering a single
// pixel has X1 == X2, so its width is X2 - X1 + 1.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// ImageSize is the size of the image a proposal was detected in.
type ImageSize struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Width returns the inclusive width of the box.
func (b Box) Width() float32 {
	return b.X2 - b.X1 + 1
}

// Height returns the inclusive height of the box.
func (b Box) Height() float32 {
	return b.Y2 - b.Y1 + 1
}

// Area returns the inclusive pixel area of the box.
func (b Box) Area() float32 {
	return b.Width() * b.Height()
}

// Intersection returns the inclusive pixel area shared by b and o.
//
// Non-overlapping boxes yield 0 rather than a negative area.
func (b Box) Intersection(o Box) float32 {
	iw := math32.Max(math32.Min(b.X2, o.X2)-math32.Max(b.X1, o.X1)+1, 0)
	ih := math32.Max(math32.Min(b.Y2, o.Y2)-math32.Max(b.Y1, o.Y1)+1, 0)
	return iw * ih
}

// IoU computes the Intersection over Union between two boxes using inclusive
// pixel areas.
//
// The intersection corners are the maximum of the top-left corners and the
// minimum of the bottom-right corners. If either side of the intersection is
// not positive the boxes do not overlap and the score is 0. The union follows
// inclusion-exclusion:
//
//	Area(Union) = Area(A) + Area(B) - Area(Intersection)
//
// Arguments:
//   - o: The other box to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0.
//
// Example Usage:
// ```go
//
//	a := Box{X1: 0, Y1: 0, X2: 9, Y2: 9}
//	b := Box{X1: 5, Y1: 5, X2: 14, Y2: 14}
//	fmt.Println(a.IoU(b)) // 25 / (100 + 100 - 25) = 0.142857
//
// ```
func (b Box) IoU(o Box) float32 {
	inter := b.Intersection(o)
	if inter <= 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Union returns the smallest box enclosing both b and o.
func (b Box) Union(o Box) Box {
	return Box{
		X1: math32.Min(b.X1, o.X1),
		Y1: math32.Min(b.Y1, o.Y1),
		X2: math32.Max(b.X2, o.X2),
		Y2: math32.Max(b.Y2, o.Y2),
	}
}

// Intersect returns the overlap box of b and o and whether it is well formed.
//
// The returned box is degenerate (ok == false) when its right edge lies left
// of its left edge or its bottom edge lies above its top edge.
func (b Box) Intersect(o Box) (Box, bool) {
	r := Box{
		X1: math32.Max(b.X1, o.X1),
		Y1: math32.Max(b.Y1, o.Y1),
		X2: math32.Min(b.X2, o.X2),
		Y2: math32.Min(b.Y2, o.Y2),
	}
	return r, r.X2 >= r.X1 && r.Y2 >= r.Y1
}

// Longest returns the normalization scale of an image: its longer side,
// floored at 100 so tiny images do not blow up normalized coordinates.
func (s ImageSize) Longest() float32 {
	return float32(max(s.Width, s.Height, 100))
}
