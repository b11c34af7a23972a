package main

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-sgg/config"
	"github.com/nvr-ai/go-sgg/geometry"
	"github.com/nvr-ai/go-sgg/nn"
	"github.com/nvr-ai/go-sgg/relhead"
)

const twoImageScene = `{
  "images": [
    {
      "width": 100, "height": 80,
      "boxes": [[0, 0, 10, 10], [5, 5, 30, 30]],
      "logits": [[0, 2, 1], [0, 1, 3]],
      "class_boxes": [[[0, 0, 10, 10], [0, 0, 10, 10], [0, 0, 10, 10]],
                      [[5, 5, 30, 30], [5, 5, 30, 30], [5, 5, 30, 30]]],
      "features": [[1, 2], [3, 4]],
      "pairs": [[0, 1], [1, 0]],
      "union_features": [[1, 1], [2, 2]]
    },
    {
      "width": 50, "height": 50,
      "boxes": [[1, 1, 2, 2]],
      "pred_labels": [2],
      "logits": [[0, 0, 1]],
      "features": [[5, 6]],
      "pairs": [[0, 0]],
      "union_features": [[3, 3]]
    }
  ]
}`

func TestToRequest(t *testing.T) {
	in, err := readScene(strings.NewReader(twoImageScene))
	require.NoError(t, err)
	req, err := in.toRequest()
	require.NoError(t, err)

	b := req.Batch
	require.Len(t, b.Images, 2)
	assert.Equal(t, geometry.ImageSize{Width: 100, Height: 80}, b.Images[0].Size)
	assert.Equal(t, geometry.Box{X1: 5, Y1: 5, X2: 30, Y2: 30}, b.Images[0].Boxes[1])
	assert.Equal(t, []int{2, 3, 4}, []int(b.Images[0].ClassBoxes.Shape()))
	assert.Equal(t, []int{2}, b.Images[1].PredLabels)
	assert.Nil(t, b.Images[1].ClassBoxes)
	assert.Equal(t, []int{2, 1}, b.PairCounts())

	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, nn.Values(req.ObjFeats))
	assert.Equal(t, []int{3, 2}, []int(req.UnionFeats.Shape()))
}

func TestToRequest_UnionFromLaterImage(t *testing.T) {
	in, err := readScene(strings.NewReader(`{"images": [
	  {"boxes": [[0, 0, 1, 1]], "features": [[1]], "pairs": []},
	  {"boxes": [[0, 0, 1, 1], [0, 0, 2, 2]], "features": [[2], [3]], "pairs": [[0, 1]],
	   "union_features": [[7, 8]]}]}`))
	require.NoError(t, err)
	req, err := in.toRequest()
	require.NoError(t, err)

	require.NotNil(t, req.UnionFeats)
	assert.Equal(t, []int{1, 2}, []int(req.UnionFeats.Shape()))
	assert.Equal(t, []float32{7, 8}, nn.Values(req.UnionFeats))
	assert.Equal(t, []int{0, 1}, req.Batch.PairCounts())
}

func TestToRequest_Errors(t *testing.T) {
	tests := []struct {
		name  string
		scene string
	}{
		{name: "no images", scene: `{"images": []}`},
		{name: "not json", scene: `images`},
		{
			name:  "feature rows",
			scene: `{"images": [{"boxes": [[0, 0, 1, 1]], "features": [], "pairs": []}]}`,
		},
		{
			name: "union rows",
			scene: `{"images": [{"boxes": [[0, 0, 1, 1]], "features": [[1]], "pairs": [[0, 0]],
			          "union_features": [[1], [2]]}]}`,
		},
		{
			name: "union on some images only",
			scene: `{"images": [
			  {"boxes": [[0, 0, 1, 1]], "features": [[1]], "pairs": [[0, 0]], "union_features": [[1]]},
			  {"boxes": [[0, 0, 1, 1]], "features": [[1]], "pairs": [[0, 0]]}]}`,
		},
		{
			name:  "ragged logits",
			scene: `{"images": [{"boxes": [[0, 0, 1, 1], [0, 0, 2, 2]], "logits": [[1, 2], [1]], "features": [[1], [2]], "pairs": []}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := readScene(strings.NewReader(tt.scene))
			if err == nil {
				_, err = in.toRequest()
			}
			assert.Error(t, err)
		})
	}
}

func TestNewContextOutput(t *testing.T) {
	in, err := readScene(strings.NewReader(twoImageScene))
	require.NoError(t, err)
	req, err := in.toRequest()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.InChannels = 2
	cfg.HiddenDim = 4
	cfg.PoolingDim = 4
	cfg.EmbedDim = 3
	cfg.NumObjClasses = 3
	cfg.GeometryDim = 2
	cfg.NumIter = 2
	logger, _ := test.NewNullLogger()
	head, err := relhead.New(cfg, relhead.Options{Logger: logger})
	require.NoError(t, err)

	out, err := head.Forward(req.ObjFeats, req.UnionFeats, req.Batch)
	require.NoError(t, err)

	doc := newContextOutput(out, true)
	assert.Len(t, doc.ObjectContext, 3)
	assert.Len(t, doc.EdgeContext, 3)
	assert.Len(t, doc.ObjectContext[0], 4)
	assert.Equal(t, 2, doc.Rounds)
	assert.Len(t, doc.History, 3)
	assert.Equal(t, []int{2}, doc.PredLabels[1])
	assert.Len(t, doc.PredLabels[0], 2)

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"object_context"`)
	assert.Contains(t, string(data), `"nms_assigned"`)
}
