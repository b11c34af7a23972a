package relhead

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-sgg/config"
	"github.com/nvr-ai/go-sgg/geometry"
	"github.com/nvr-ai/go-sgg/metrics"
	"github.com/nvr-ai/go-sgg/nn"
	"github.com/nvr-ai/go-sgg/postprocess"
	"github.com/nvr-ai/go-sgg/scene"
)

func smallConfig(mode config.Mode) *config.Config {
	cfg := config.Default()
	cfg.Mode = mode
	cfg.InChannels = 6
	cfg.HiddenDim = 4
	cfg.PoolingDim = 8
	cfg.EmbedDim = 3
	cfg.NumObjClasses = 3
	cfg.GeometryDim = 5
	cfg.NumIter = 2
	cfg.Seed = 7
	return cfg
}

func ramp(rows, cols int, scale float32) *tensor.Dense {
	t := nn.Zeros(rows, cols)
	for i := range nn.Values(t) {
		nn.Values(t)[i] = scale * float32(i%5-2)
	}
	return t
}

// detectedBatch holds three detections with identical per-class boxes, so
// every assignment round suppresses its class for all three.
func detectedBatch() *scene.Batch {
	classBoxes := make([]float32, 0, 3*3*4)
	for i := 0; i < 9; i++ {
		classBoxes = append(classBoxes, 10, 10, 50, 50)
	}
	return &scene.Batch{
		Images: []*scene.Proposals{{
			Size: geometry.ImageSize{Width: 100, Height: 80},
			Boxes: []geometry.Box{
				{X1: 10, Y1: 10, X2: 50, Y2: 50},
				{X1: 12, Y1: 8, X2: 48, Y2: 52},
				{X1: 60, Y1: 20, X2: 90, Y2: 70},
			},
			Logits:     nn.New(3, 3, []float32{0, 5, 0, 0, 0, 4, 0, 3, 3}),
			ClassBoxes: tensor.New(tensor.WithShape(3, 3, 4), tensor.WithBacking(classBoxes)),
		}},
		Pairs: [][]scene.Pair{{{Subject: 0, Object: 1}, {Subject: 1, Object: 2}, {Subject: 2, Object: 0}}},
	}
}

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestForward_AssignsMissingLabels(t *testing.T) {
	h, err := New(smallConfig(config.ModeSGDet), Options{Logger: quietLogger()})
	require.NoError(t, err)

	batch := detectedBatch()
	out, err := h.Forward(ramp(3, 6, 0.1), ramp(3, 6, 0.2), batch)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 4}, []int(out.Objects.Shape()))
	assert.Equal(t, []int{3, 4}, []int(out.Edges.Shape()))
	assert.Equal(t, [][]int{{1, 2, 0}}, out.PredLabels)
	require.Len(t, out.Assignments, 1)
	assert.Len(t, out.Assignments[0], 3)
	assert.Equal(t, 2, out.Timings.NMSAssigned)
	assert.Equal(t, 9, out.Timings.NMSSuppressed)
	assert.Equal(t, 2, out.Propagation.Rounds())
	assert.Same(t, out.Propagation.Objects, out.Objects)

	// The caller's proposals are untouched.
	assert.Nil(t, batch.Images[0].PredLabels)
}

func TestForward_KeepsSuppliedLabels(t *testing.T) {
	tests := []struct {
		name   string
		mode   config.Mode
		modify func(*scene.Proposals)
		labels []int
	}{
		{
			name:   "sgdet with predicted labels",
			mode:   config.ModeSGDet,
			modify: func(p *scene.Proposals) { p.PredLabels = []int{2, 2, 1} },
			labels: []int{2, 2, 1},
		},
		{
			name:   "sgcls without class boxes",
			mode:   config.ModeSGCls,
			modify: func(p *scene.Proposals) { p.ClassBoxes, p.PredLabels = nil, []int{1, 1, 1} },
			labels: []int{1, 1, 1},
		},
		{
			name:   "predcls never assigns",
			mode:   config.ModePredCls,
			modify: func(p *scene.Proposals) { p.Labels = []int{1, 2, 1} },
			labels: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := New(smallConfig(tt.mode), Options{Logger: quietLogger()})
			require.NoError(t, err)

			batch := detectedBatch()
			tt.modify(batch.Images[0])
			out, err := h.Forward(ramp(3, 6, 0.1), ramp(3, 6, 0.2), batch)
			require.NoError(t, err)

			assert.Nil(t, out.Assignments)
			assert.Zero(t, out.Timings.NMS)
			assert.Equal(t, [][]int{tt.labels}, out.PredLabels)
		})
	}
}

func TestForward_Errors(t *testing.T) {
	h, err := New(smallConfig(config.ModeSGDet), Options{Logger: quietLogger()})
	require.NoError(t, err)

	mismatch := detectedBatch()
	mismatch.Images[0].ClassBoxes = tensor.New(tensor.WithShape(2, 3, 4), tensor.WithBacking(make([]float32, 24)))
	_, err = h.Forward(ramp(3, 6, 0.1), ramp(3, 6, 0.2), mismatch)
	require.Error(t, err)
	assert.Equal(t, postprocess.ErrObjectCountMismatch, errors.Cause(err))

	empty := &scene.Batch{Images: []*scene.Proposals{{}}, Pairs: [][]scene.Pair{{}}}
	_, err = h.Forward(nn.Zeros(0, 6), nil, empty)
	require.Error(t, err)
	assert.Equal(t, scene.ErrEmptyBatch, errors.Cause(err))

	_, err = h.Forward(ramp(2, 6, 0.1), ramp(3, 6, 0.2), detectedBatch())
	assert.Error(t, err)

	_, err = h.Forward(nil, nil, nil)
	assert.Error(t, err)
}

func TestForward_SingleObjectWithoutPairs(t *testing.T) {
	h, err := New(smallConfig(config.ModeSGCls), Options{Logger: quietLogger()})
	require.NoError(t, err)

	batch := &scene.Batch{
		Images: []*scene.Proposals{{
			Size:       geometry.ImageSize{Width: 50, Height: 50},
			Boxes:      []geometry.Box{{X1: 5, Y1: 5, X2: 20, Y2: 30}},
			PredLabels: []int{2},
			Logits:     nn.New(1, 3, []float32{0, 1, 2}),
		}},
		Pairs: [][]scene.Pair{{}},
	}
	out, err := h.Forward(ramp(1, 6, 0.1), nil, batch)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 4}, []int(out.Objects.Shape()))
	assert.Equal(t, []int{0, 4}, []int(out.Edges.Shape()))
	assert.Equal(t, 2, out.Propagation.Rounds())
	assert.Zero(t, out.Timings.Pairs)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig(config.ModeSGDet)
	cfg.Pairwise.Func = "conv"
	_, err := New(cfg, Options{Logger: quietLogger()})
	require.Error(t, err)
	assert.Equal(t, config.ErrUnknownPairwiseFunc, errors.Cause(err))

	_, err = New(nil, Options{})
	assert.Error(t, err)
}

func TestWeightsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src, err := New(smallConfig(config.ModeSGDet), Options{Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, src.SaveWeights(dir))

	other := smallConfig(config.ModeSGDet)
	other.Seed = 99
	dst, err := New(other, Options{Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, dst.LoadWeights(dir))

	want, err := src.Forward(ramp(3, 6, 0.1), ramp(3, 6, 0.2), detectedBatch())
	require.NoError(t, err)
	got, err := dst.Forward(ramp(3, 6, 0.1), ramp(3, 6, 0.2), detectedBatch())
	require.NoError(t, err)
	assert.Equal(t, nn.Values(want.Objects), nn.Values(got.Objects))
	assert.Equal(t, nn.Values(want.Edges), nn.Values(got.Edges))

	err = dst.LoadWeights(t.TempDir())
	require.Error(t, err)
	assert.Equal(t, nn.ErrMissingParam, errors.Cause(err))
}

func TestParamNames(t *testing.T) {
	h, err := New(smallConfig(config.ModeSGDet), Options{Logger: quietLogger()})
	require.NoError(t, err)

	names := map[string]bool{}
	for _, p := range h.Params() {
		assert.False(t, names[p.Name], "duplicate parameter %s", p.Name)
		names[p.Name] = true
	}
	for _, want := range []string{
		"pairwise_feature_extractor.obj_hidden_linear.weight",
		"pairwise_feature_extractor.pos_embed.1.running_var",
		"obj_unary.weight",
		"edge_gru.weight_hh",
		"sub_vert_w_fc.0.weight",
	} {
		assert.True(t, names[want], want)
	}
}

func TestForward_ObservesMetricsAndLogs(t *testing.T) {
	reg := prometheus.NewRegistry()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h, err := New(smallConfig(config.ModeSGDet), Options{Logger: logger, Metrics: metrics.NewHead(reg)})
	require.NoError(t, err)
	_, err = h.Forward(ramp(3, 6, 0.1), ramp(3, 6, 0.2), detectedBatch())
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	counters := map[string]float64{}
	for _, f := range families {
		if m := f.GetMetric(); len(m) == 1 && m[0].GetCounter() != nil {
			counters[f.GetName()] = m[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 3.0, counters["sgg_relhead_objects_total"])
	assert.Equal(t, 3.0, counters["sgg_relhead_pairs_total"])
	assert.Equal(t, 2.0, counters["sgg_msgpass_rounds_total"])
	assert.Equal(t, 2.0, counters["sgg_nms_assigned_total"])

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "forward done", entry.Message)
	assert.Equal(t, 2, entry.Data["assigned"])
}
