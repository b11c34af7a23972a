package scene

import "github.com/pkg/errors"

// GlobalIndex is the flattening of per-image local pair indices into one
// contiguous index space. Indices of image k are shifted by the object counts
// of images 0..k-1.
type GlobalIndex struct {
	// Subjects holds the global subject index of every pair.
	Subjects []int
	// Objects holds the global object index of every pair.
	Objects []int
	// ObjectOffsets[k] is the first global object index of image k.
	ObjectOffsets []int
	// PairOffsets[k] is the first global pair index of image k.
	PairOffsets []int
	// NumObjects is the total number of objects in the batch.
	NumObjects int
}

// Flatten builds the global index of a batch's pair lists.
//
// Arguments:
//   - pairs: One pair list per image, with image-local indices.
//   - counts: The number of objects in each image.
//
// Returns:
//   - *GlobalIndex: The flattened subject and object indices with offsets.
//   - error: If the lists disagree in length or a pair refers to an object
//     outside its image.
func Flatten(pairs [][]Pair, counts []int) (*GlobalIndex, error) {
	if len(pairs) != len(counts) {
		return nil, errors.Errorf("%d pair lists for %d images", len(pairs), len(counts))
	}

	idx := &GlobalIndex{
		ObjectOffsets: make([]int, len(counts)),
		PairOffsets:   make([]int, len(counts)),
	}

	objOffset, pairOffset := 0, 0
	for k, list := range pairs {
		idx.ObjectOffsets[k] = objOffset
		idx.PairOffsets[k] = pairOffset
		for j, p := range list {
			if p.Subject < 0 || p.Subject >= counts[k] || p.Object < 0 || p.Object >= counts[k] {
				return nil, errors.Errorf("image %d pair %d (%d, %d) out of range for %d objects",
					k, j, p.Subject, p.Object, counts[k])
			}
			idx.Subjects = append(idx.Subjects, p.Subject+objOffset)
			idx.Objects = append(idx.Objects, p.Object+objOffset)
		}
		objOffset += counts[k]
		pairOffset += len(list)
	}
	idx.NumObjects = objOffset

	return idx, nil
}

// NumPairs returns the total number of pairs in the index.
func (g *GlobalIndex) NumPairs() int {
	return len(g.Subjects)
}

// Split undoes Flatten, recovering each image's local pair list.
func (g *GlobalIndex) Split() [][]Pair {
	out := make([][]Pair, len(g.PairOffsets))
	for k := range g.PairOffsets {
		end := g.NumPairs()
		if k+1 < len(g.PairOffsets) {
			end = g.PairOffsets[k+1]
		}
		list := make([]Pair, 0, end-g.PairOffsets[k])
		for j := g.PairOffsets[k]; j < end; j++ {
			list = append(list, Pair{
				Subject: g.Subjects[j] - g.ObjectOffsets[k],
				Object:  g.Objects[j] - g.ObjectOffsets[k],
			})
		}
		out[k] = list
	}
	return out
}
