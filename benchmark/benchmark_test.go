package benchmark

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-sgg/config"
)

func smallConfig() *config.Config {
	cfg := config.Default()
	cfg.InChannels = 8
	cfg.HiddenDim = 4
	cfg.PoolingDim = 8
	cfg.EmbedDim = 3
	cfg.NumObjClasses = 4
	cfg.GeometryDim = 4
	cfg.Pairwise.Heads = 2
	cfg.Pairwise.FeedForwardDim = 8
	return cfg
}

func newTestSuite(t *testing.T, outputDir string) *Suite {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return NewSuite(NewSuiteArgs{Config: smallConfig(), OutputPath: outputDir, Logger: logger})
}

func TestScenarioBuilder(t *testing.T) {
	scenario := NewScenarioBuilder("test_scenario").
		WithMode(config.ModePredCls).
		WithRelFeature(config.RelFeatureObjPair).
		WithPairwiseFunc(config.PairwiseFuncMHA).
		WithRounds(2).
		WithScene(3, 5, 7).
		WithIterations(50).
		WithWarmupRuns(5).
		WithSeed(9).
		Build()

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, config.ModePredCls, scenario.Mode)
	assert.Equal(t, config.RelFeatureObjPair, scenario.RelFeature)
	assert.Equal(t, config.PairwiseFuncMHA, scenario.PairwiseFunc)
	assert.Equal(t, 2, scenario.NumIter)
	assert.Equal(t, 3, scenario.Images)
	assert.Equal(t, 5, scenario.Objects)
	assert.Equal(t, 7, scenario.MaxPairs)
	assert.Equal(t, 50, scenario.Iterations)
	assert.Equal(t, 5, scenario.WarmupRuns)
	assert.Equal(t, int64(9), scenario.Seed)
}

func TestSynthesize(t *testing.T) {
	tests := []struct {
		name     string
		mode     config.Mode
		rel      config.RelFeatureType
		maxPairs int
		pairs    int
	}{
		{name: "predcls all pairs", mode: config.ModePredCls, rel: config.RelFeatureFusion, pairs: 2 * 20},
		{name: "sgcls capped", mode: config.ModeSGCls, rel: config.RelFeatureObjPair, maxPairs: 6, pairs: 2 * 6},
		{name: "sgdet union", mode: config.ModeSGDet, rel: config.RelFeatureUnion, pairs: 2 * 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			cfg.Mode, cfg.RelFeature = tt.mode, tt.rel
			s := NewScenarioBuilder("s").WithScene(2, 5, tt.maxPairs).Build()

			sc, err := Synthesize(rand.New(rand.NewSource(1)), cfg, s)
			require.NoError(t, err)
			require.NoError(t, sc.Batch.Validate())
			assert.Equal(t, 10, sc.Batch.NumObjects())
			assert.Equal(t, tt.pairs, sc.Batch.NumPairs())
			assert.Equal(t, []int{10, 8}, []int(sc.ObjFeats.Shape()))
			assert.Equal(t, tt.rel.UsesUnion(), sc.UnionFeats != nil)

			for _, img := range sc.Batch.Images {
				assert.Equal(t, tt.mode == config.ModePredCls, img.Labels != nil)
				assert.Equal(t, tt.mode == config.ModeSGCls, img.PredLabels != nil)
				assert.Equal(t, tt.mode == config.ModeSGDet, img.ClassBoxes != nil)
				for _, b := range img.Boxes {
					assert.True(t, b.X2 <= sceneWidth && b.Y2 <= sceneHeight)
				}
				for _, p := range sc.Batch.Pairs[0] {
					assert.NotEqual(t, p.Subject, p.Object)
				}
			}
		})
	}

	_, err := Synthesize(rand.New(rand.NewSource(1)), smallConfig(), NewScenarioBuilder("s").WithScene(1, 1, 0).Build())
	assert.Error(t, err)
}

func TestRunScenario(t *testing.T) {
	reg := prometheus.NewRegistry()
	logger, _ := test.NewNullLogger()
	suite := NewSuite(NewSuiteArgs{Config: smallConfig(), Logger: logger, Registerer: reg})

	scenario := NewScenarioBuilder("sgdet").
		WithScene(2, 4, 0).
		WithRounds(2).
		WithIterations(3).
		WithWarmupRuns(1).
		Build()
	result, err := suite.RunScenario(context.Background(), scenario)
	require.NoError(t, err)

	assert.Equal(t, 8, result.Objects)
	assert.Equal(t, 24, result.Pairs)
	assert.Zero(t, result.ErrorRate)
	assert.Greater(t, result.BatchesPerSecond, 0.0)
	assert.Greater(t, result.NMSAssigned, 0)
	assert.Positive(t, result.CPUStats.NumCPU)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRunScenario_Errors(t *testing.T) {
	suite := newTestSuite(t, "")

	_, err := suite.RunScenario(context.Background(), NewScenarioBuilder("none").WithIterations(0).Build())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = suite.RunScenario(ctx, NewScenarioBuilder("cancelled").WithScene(1, 3, 0).WithWarmupRuns(0).Build())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunAllScenariosSavesResults(t *testing.T) {
	dir := t.TempDir()
	suite := newTestSuite(t, dir)

	set := (&PredefinedScenarios{}).GetModeComparisonScenarios(3)
	for i := range set.Scenarios {
		set.Scenarios[i].Iterations = 2
		set.Scenarios[i].WarmupRuns = 0
	}
	suite.AddScenarios(set)
	require.NoError(t, suite.RunAllScenarios(context.Background()))
	assert.Len(t, suite.GetResults(), 3)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	var csv string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".csv") {
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			require.NoError(t, err)
			csv = string(data)
		}
	}
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	assert.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "mode_predcls,predcls,fusion,3,6,3,"), lines[1])
}

func TestPredefinedScenarios(t *testing.T) {
	predefined := &PredefinedScenarios{}

	quick := predefined.GetQuickScenarios()
	assert.NotEmpty(t, quick.Scenarios)
	assert.Equal(t, "Quick Performance Test", quick.Name)

	scale := predefined.GetScaleScenarios([]int{4, 8, 16})
	require.Len(t, scale.Scenarios, 3)
	assert.Equal(t, 16, scale.Scenarios[2].Objects)

	modes := predefined.GetModeComparisonScenarios(10)
	assert.Len(t, modes.Scenarios, 3)
	assert.Contains(t, modes.Name, "Mode Comparison")

	rel := predefined.GetRelFeatureComparisonScenarios(10)
	assert.Len(t, rel.Scenarios, 5)
}

func TestScenarioSetFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "set.json")
	set := (&PredefinedScenarios{}).GetRelFeatureComparisonScenarios(6)
	require.NoError(t, SaveScenarioSet(set, path))

	loaded, err := LoadScenarioSet(path)
	require.NoError(t, err)
	assert.Equal(t, set, loaded)
}
