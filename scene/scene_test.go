package scene

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-sgg/geometry"
)

func twoBoxes() *Proposals {
	return &Proposals{
		Size:  geometry.ImageSize{Width: 10, Height: 10},
		Boxes: []geometry.Box{{X1: 0, Y1: 0, X2: 2, Y2: 2}, {X1: 1, Y1: 1, X2: 5, Y2: 5}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		batch   *Batch
		wantErr bool
	}{
		{
			name:  "valid",
			batch: &Batch{Images: []*Proposals{twoBoxes()}, Pairs: [][]Pair{{{0, 1}}}},
		},
		{
			name:    "missing pair list",
			batch:   &Batch{Images: []*Proposals{twoBoxes()}},
			wantErr: true,
		},
		{
			name:    "nil image",
			batch:   &Batch{Images: []*Proposals{nil}, Pairs: [][]Pair{{}}},
			wantErr: true,
		},
		{
			name: "scalar logits",
			batch: func() *Batch {
				p := twoBoxes()
				p.Logits = tensor.New(tensor.FromScalar(float32(1)))
				return &Batch{Images: []*Proposals{p}, Pairs: [][]Pair{{}}}
			}(),
			wantErr: true,
		},
		{
			name: "logit rows",
			batch: func() *Batch {
				p := twoBoxes()
				p.Logits = tensor.New(tensor.WithShape(3, 2), tensor.WithBacking(make([]float32, 6)))
				return &Batch{Images: []*Proposals{p}, Pairs: [][]Pair{{}}}
			}(),
			wantErr: true,
		},
		{
			name: "class boxes rank",
			batch: func() *Batch {
				p := twoBoxes()
				p.ClassBoxes = tensor.New(tensor.WithShape(2, 4), tensor.WithBacking(make([]float32, 8)))
				return &Batch{Images: []*Proposals{p}, Pairs: [][]Pair{{}}}
			}(),
			wantErr: true,
		},
		{
			name: "label count",
			batch: func() *Batch {
				p := twoBoxes()
				p.PredLabels = []int{1}
				return &Batch{Images: []*Proposals{p}, Pairs: [][]Pair{{}}}
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			assert.NotPanics(t, func() { err = tt.batch.Validate() })
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCheckNonEmpty(t *testing.T) {
	withoutPairs := &Batch{Images: []*Proposals{twoBoxes()}, Pairs: [][]Pair{{}}}
	assert.NoError(t, withoutPairs.CheckNonEmpty())
	assert.Equal(t, 0, withoutPairs.NumPairs())

	noObjects := &Batch{Images: []*Proposals{{}, nil}, Pairs: [][]Pair{{}, {}}}
	err := noObjects.CheckNonEmpty()
	assert.Error(t, err)
	assert.Equal(t, ErrEmptyBatch, errors.Cause(err))
}
