package main

import (
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-sgg/geometry"
	"github.com/nvr-ai/go-sgg/metrics"
	"github.com/nvr-ai/go-sgg/msgpass"
	"github.com/nvr-ai/go-sgg/nn"
	"github.com/nvr-ai/go-sgg/postprocess"
	"github.com/nvr-ai/go-sgg/relhead"
	"github.com/nvr-ai/go-sgg/scene"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// imageInput is one image of a scene file.
type imageInput struct {
	Width         int            `json:"width"`
	Height        int            `json:"height"`
	Boxes         [][4]float32   `json:"boxes"`
	Labels        []int          `json:"labels,omitempty"`
	PredLabels    []int          `json:"pred_labels,omitempty"`
	Logits        [][]float32    `json:"logits,omitempty"`
	ClassBoxes    [][][4]float32 `json:"class_boxes,omitempty"`
	Features      [][]float32    `json:"features"`
	Pairs         [][2]int       `json:"pairs"`
	UnionFeatures [][]float32    `json:"union_features,omitempty"`
}

// sceneInput is the JSON document read by the run and nms commands.
type sceneInput struct {
	Images []imageInput `json:"images"`
}

// request is a decoded scene file ready for the head.
type request struct {
	Batch      *scene.Batch
	ObjFeats   *tensor.Dense
	UnionFeats *tensor.Dense
}

// readScene decodes a scene file.
func readScene(r io.Reader) (*sceneInput, error) {
	var in sceneInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, errors.Wrap(err, "decoding scene")
	}
	if len(in.Images) == 0 {
		return nil, errors.New("scene has no images")
	}
	return &in, nil
}

// toRequest converts the scene into a batch and the stacked feature tensors.
// Union features are optional, but once any image carries them every image
// needs one row per pair.
func (in *sceneInput) toRequest() (*request, error) {
	batch := &scene.Batch{}
	var objRows, unionRows [][]float32
	withUnion := false
	for _, img := range in.Images {
		if len(img.UnionFeatures) > 0 {
			withUnion = true
			break
		}
	}

	for i, img := range in.Images {
		p, err := img.proposals()
		if err != nil {
			return nil, errors.Wrapf(err, "image %d", i)
		}
		if len(img.Features) != p.Len() {
			return nil, errors.Errorf("image %d: %d feature rows for %d boxes", i, len(img.Features), p.Len())
		}
		if withUnion && len(img.UnionFeatures) != len(img.Pairs) {
			return nil, errors.Errorf("image %d: %d union feature rows for %d pairs", i, len(img.UnionFeatures), len(img.Pairs))
		}

		pairs := make([]scene.Pair, len(img.Pairs))
		for k, pr := range img.Pairs {
			pairs[k] = scene.Pair{Subject: pr[0], Object: pr[1]}
		}
		batch.Images = append(batch.Images, p)
		batch.Pairs = append(batch.Pairs, pairs)
		objRows = append(objRows, img.Features...)
		unionRows = append(unionRows, img.UnionFeatures...)
	}

	req := &request{Batch: batch}
	var err error
	if req.ObjFeats, err = nn.FromRows(objRows); err != nil {
		return nil, errors.Wrap(err, "object features")
	}
	if withUnion {
		if req.UnionFeats, err = nn.FromRows(unionRows); err != nil {
			return nil, errors.Wrap(err, "union features")
		}
	}
	return req, nil
}

func (img *imageInput) proposals() (*scene.Proposals, error) {
	p := &scene.Proposals{
		Size:       geometry.ImageSize{Width: img.Width, Height: img.Height},
		Boxes:      make([]geometry.Box, len(img.Boxes)),
		Labels:     img.Labels,
		PredLabels: img.PredLabels,
	}
	for i, b := range img.Boxes {
		p.Boxes[i] = geometry.Box{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]}
	}

	if len(img.Logits) > 0 {
		logits, err := nn.FromRows(img.Logits)
		if err != nil {
			return nil, errors.Wrap(err, "logits")
		}
		p.Logits = logits
	}
	if len(img.ClassBoxes) > 0 {
		classes := len(img.ClassBoxes[0])
		data := make([]float32, 0, len(img.ClassBoxes)*classes*4)
		for i, row := range img.ClassBoxes {
			if len(row) != classes {
				return nil, errors.Errorf("class boxes row %d has %d classes, want %d", i, len(row), classes)
			}
			for _, b := range row {
				data = append(data, b[:]...)
			}
		}
		p.ClassBoxes = tensor.New(tensor.WithShape(len(img.ClassBoxes), classes, 4), tensor.WithBacking(data))
	}
	return p, nil
}

// contextOutput is the JSON document written by the run command.
type contextOutput struct {
	ObjectContext [][]float32     `json:"object_context"`
	EdgeContext   [][]float32     `json:"edge_context"`
	PredLabels    [][]int         `json:"pred_labels"`
	Rounds        int             `json:"rounds"`
	Timings       metrics.Timings `json:"timings"`
	History       [][][]float32   `json:"history,omitempty"`
}

func newContextOutput(out *relhead.Output, history bool) *contextOutput {
	res := &contextOutput{
		ObjectContext: rows(out.Objects),
		EdgeContext:   rows(out.Edges),
		PredLabels:    out.PredLabels,
		Rounds:        out.Propagation.Rounds(),
		Timings:       out.Timings,
	}
	if history {
		res.History = propagationRows(out.Propagation)
	}
	return res
}

// labelOutput is the JSON document written by the nms command, one entry
// per image.
type labelOutput struct {
	Labels     []int                `json:"labels"`
	Rounds     []postprocess.Result `json:"rounds,omitempty"`
	Assigned   int                  `json:"assigned"`
	Suppressed int                  `json:"suppressed"`
}

// propagationRows returns the vertex factor of every round as nested rows.
func propagationRows(res *msgpass.Result) [][][]float32 {
	out := make([][][]float32, len(res.VertexFactors))
	for i, v := range res.VertexFactors {
		out[i] = rows(v)
	}
	return out
}

func rows(t *tensor.Dense) [][]float32 {
	n := t.Shape()[0]
	out := make([][]float32, n)
	for i := range out {
		out[i] = nn.Row(t, i)
	}
	return out
}
