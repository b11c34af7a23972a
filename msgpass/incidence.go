// Package msgpass - Iterative message passing between object vertices and
// relation edges of a batch of scene graphs.
package msgpass

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-sgg/nn"
	"github.com/nvr-ai/go-sgg/scene"
)

// Incidence links every object of a batch to the pairs it takes part in.
// It is built for one forward call and never shared between calls.
type Incidence struct {
	Index *scene.GlobalIndex
	// Sub2Rel[i, k] is 1 when object i is the subject of pair k.
	Sub2Rel *tensor.Dense
	// Obj2Rel[i, k] is 1 when object i is the object of pair k.
	Obj2Rel *tensor.Dense
}

// BuildIncidence flattens the per-image pair lists and builds the two
// (objects, pairs) incidence matrices.
//
// Arguments:
//   - pairs: One pair list per image, with image-local indices.
//   - counts: The number of objects in each image.
//
// Returns:
//   - *Incidence: The global index and the incidence matrices.
//   - error: If a pair refers to an object outside its image, or the batch
//     has no objects. A batch without pairs gets (objects, 0) matrices.
func BuildIncidence(pairs [][]scene.Pair, counts []int) (*Incidence, error) {
	idx, err := scene.Flatten(pairs, counts)
	if err != nil {
		return nil, err
	}

	n, p := idx.NumObjects, idx.NumPairs()
	if n == 0 {
		return nil, errors.Wrapf(scene.ErrEmptyBatch, "%d pair lists", len(pairs))
	}
	sub := make([]float32, n*p)
	obj := make([]float32, n*p)
	for k := 0; k < p; k++ {
		sub[idx.Subjects[k]*p+k] = 1
		obj[idx.Objects[k]*p+k] = 1
	}
	return &Incidence{
		Index:   idx,
		Sub2Rel: nn.New(n, p, sub),
		Obj2Rel: nn.New(n, p, obj),
	}, nil
}
