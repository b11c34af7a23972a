package postprocess

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// sameBoxes repeats one box for every object and class.
func sameBoxes(n, classes int, box [4]float32) *tensor.Dense {
	data := make([]float32, 0, n*classes*4)
	for i := 0; i < n*classes; i++ {
		data = append(data, box[:]...)
	}
	return tensor.New(tensor.WithShape(n, classes, 4), tensor.WithBacking(data))
}

func matrix(rows, cols int, data ...float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
}

func TestAssignLabels_OverlappingPair(t *testing.T) {
	boxes := tensor.New(tensor.WithShape(2, 2, 4), tensor.WithBacking([]float32{
		0, 0, 10, 10, 0, 0, 10, 10,
		1, 1, 11, 11, 1, 1, 11, 11,
	}))
	logits := matrix(2, 2, 0, 1, 0, 2)

	labels, err := AssignLabels(boxes, logits, DefaultNMSConfig())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, labels)
}

func TestAssign_RoundRecords(t *testing.T) {
	boxes := sameBoxes(3, 3, [4]float32{5, 5, 20, 30})
	logits := matrix(3, 3,
		0, 5, 0,
		0, 0, 4,
		0, 3, 3,
	)

	labels, rounds, err := Assign(boxes, logits, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 0}, labels)
	require.Len(t, rounds, 3)

	assert.Equal(t, 0, rounds[0].Object)
	assert.Equal(t, 1, rounds[0].Class)
	assert.Equal(t, 1, rounds[1].Object)
	assert.Equal(t, 2, rounds[1].Class)

	// The second round resets the first winner's class-2 cell from -1 to 0,
	// which then ties with the untouched zero row and wins in row-major order.
	assert.Equal(t, 0, rounds[2].Object)
	assert.True(t, rounds[2].Kept)
	assert.Zero(t, rounds[2].Score)

	assigned, suppressed := Summary(rounds)
	assert.Equal(t, 2, assigned)
	assert.Equal(t, 9, suppressed)
}

func TestAssign_DisjointBoxesKeepTheirLabels(t *testing.T) {
	boxes := tensor.New(tensor.WithShape(2, 2, 4), tensor.WithBacking([]float32{
		0, 0, 10, 10, 0, 0, 10, 10,
		50, 50, 60, 60, 50, 50, 60, 60,
	}))
	logits := matrix(2, 2, 0, 1, 0, 2)

	labels, rounds, err := Assign(boxes, logits, DefaultNMSConfig())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, labels)
	assert.Equal(t, 1, rounds[0].Suppressed)
}

func TestAssign_Errors(t *testing.T) {
	boxes := sameBoxes(2, 3, [4]float32{0, 0, 1, 1})

	_, err := AssignLabels(boxes, matrix(3, 3, make([]float32, 9)...), nil)
	require.Error(t, err)
	assert.Equal(t, ErrObjectCountMismatch, errors.Cause(err))

	_, err = AssignLabels(boxes, matrix(2, 2, make([]float32, 4)...), nil)
	assert.Error(t, err)

	_, err = AssignLabels(matrix(2, 4, make([]float32, 8)...), matrix(2, 3, make([]float32, 6)...), nil)
	assert.Error(t, err)
}

func TestOverlaps(t *testing.T) {
	boxes := tensor.New(tensor.WithShape(2, 1, 4), tensor.WithBacking([]float32{
		0, 0, 9, 9,
		5, 5, 14, 14,
	}))
	ov, err := Overlaps(boxes)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, []int(ov.Shape()))

	data := ov.Data().([]float32)
	assert.InDelta(t, 1.0, data[0], 1e-6)
	assert.InDelta(t, 25.0/175.0, data[1], 1e-6)
	assert.Equal(t, data[1], data[2])
	assert.InDelta(t, 1.0, data[3], 1e-6)

	_, err = Overlaps(matrix(2, 4, make([]float32, 8)...))
	assert.Error(t, err)
}

// denseAssign is the unindexed reference procedure over the Overlaps tensor.
func denseAssign(t *testing.T, boxes, logits *tensor.Dense, threshold float32) []int {
	ov, err := Overlaps(boxes)
	require.NoError(t, err)
	overlap := ov.Data().([]float32)

	s := logits.Shape()
	n, c := s[0], s[1]
	probs, err := backgroundFreeSoftmax(logits, n, c)
	require.NoError(t, err)

	labels := make([]int, n)
	for round := 0; round < n; round++ {
		best := 0
		for k := range probs {
			if probs[k] > probs[best] {
				best = k
			}
		}
		obj, cls := best/c, best%c
		if labels[obj] == 0 {
			labels[obj] = cls
		}
		for j := 0; j < n; j++ {
			if overlap[(obj*n+j)*c+cls] >= threshold {
				probs[j*c+cls] = 0
			}
		}
		for k := 0; k < c; k++ {
			probs[obj*c+k] = -1
		}
	}
	return labels
}

func TestAssign_IndexedMatchesDense(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, threshold := range []float32{0, 0.1, 0.3, 0.5, 0.9} {
		for trial := 0; trial < 20; trial++ {
			n, c := 1+rng.Intn(30), 2+rng.Intn(5)

			boxData := make([]float32, 0, n*c*4)
			for i := 0; i < n*c; i++ {
				x, y := rng.Float32()*200, rng.Float32()*200
				w, h := 1+rng.Float32()*80, 1+rng.Float32()*80
				boxData = append(boxData, x, y, x+w, y+h)
			}
			logitData := make([]float32, n*c)
			for i := range logitData {
				logitData[i] = float32(rng.NormFloat64() * 2)
			}
			boxes := tensor.New(tensor.WithShape(n, c, 4), tensor.WithBacking(boxData))
			logits := matrix(n, c, logitData...)

			got, err := AssignLabels(boxes, logits, &NMSConfig{IoUThreshold: threshold})
			require.NoError(t, err)
			assert.Equal(t, denseAssign(t, boxes, logits, threshold), got, "threshold %v trial %d", threshold, trial)
		}
	}
}
