package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-sgg/geometry"
)

// TestFlattenSplitRoundTrip verifies that re-splitting the flattened indices
// by the same per-image counts reproduces the local pair lists exactly.
func TestFlattenSplitRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		counts []int
		pairs  [][]Pair
	}{
		{
			name:   "single image",
			counts: []int{3},
			pairs:  [][]Pair{{{0, 1}, {2, 0}}},
		},
		{
			name:   "three images",
			counts: []int{2, 4, 3},
			pairs: [][]Pair{
				{{0, 1}, {1, 0}},
				{{3, 2}, {0, 3}, {1, 2}},
				{{2, 1}},
			},
		},
		{
			name:   "image without pairs",
			counts: []int{2, 1, 2},
			pairs:  [][]Pair{{{0, 1}}, {}, {{1, 0}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := Flatten(tt.pairs, tt.counts)
			require.NoError(t, err)

			offset := 0
			for k, list := range tt.pairs {
				assert.Equal(t, offset, idx.ObjectOffsets[k])
				for j, p := range list {
					g := idx.PairOffsets[k] + j
					assert.Equal(t, p.Subject+offset, idx.Subjects[g])
					assert.Equal(t, p.Object+offset, idx.Objects[g])
				}
				offset += tt.counts[k]
			}
			assert.Equal(t, offset, idx.NumObjects)

			split := idx.Split()
			require.Len(t, split, len(tt.pairs))
			for k := range tt.pairs {
				assert.Equal(t, tt.pairs[k], split[k], "image %d", k)
			}
		})
	}
}

func TestFlattenRejectsOutOfRange(t *testing.T) {
	_, err := Flatten([][]Pair{{{0, 3}}}, []int{3})
	assert.Error(t, err)

	_, err = Flatten([][]Pair{{{0, 1}}}, []int{2, 2})
	assert.Error(t, err)
}

func TestBatchCounts(t *testing.T) {
	b := &Batch{
		Images: []*Proposals{
			{Size: geometry.ImageSize{Width: 200, Height: 100}, Boxes: make([]geometry.Box, 2)},
			{Size: geometry.ImageSize{Width: 50, Height: 50}, Boxes: make([]geometry.Box, 3)},
		},
		Pairs: [][]Pair{{{0, 1}}, {{0, 2}, {2, 1}}},
	}

	require.NoError(t, b.Validate())
	assert.Equal(t, []int{2, 3}, b.ObjectCounts())
	assert.Equal(t, []int{1, 2}, b.PairCounts())
	assert.Equal(t, 5, b.NumObjects())
	assert.Equal(t, 3, b.NumPairs())
	assert.Len(t, b.NormalizedInfo(), 5)

	b.Images[0].Labels = []int{1}
	assert.Error(t, b.Validate())
}
