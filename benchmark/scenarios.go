package benchmark

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-sgg/config"
)

// ScenarioBuilder helps build test scenarios with fluent API
type ScenarioBuilder struct {
	scenario TestScenario
}

// NewScenarioBuilder creates a new scenario builder
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: TestScenario{
			Name:         name,
			Mode:         config.ModeSGDet,
			RelFeature:   config.RelFeatureFusion,
			PairwiseFunc: config.PairwiseFuncIdentity,
			NumIter:      3,
			Images:       1,
			Objects:      16,
			Iterations:   100,
			WarmupRuns:   10,
			Seed:         1,
		},
	}
}

// WithMode sets the label source mode
func (sb *ScenarioBuilder) WithMode(mode config.Mode) *ScenarioBuilder {
	sb.scenario.Mode = mode
	return sb
}

// WithRelFeature sets how relation features are built
func (sb *ScenarioBuilder) WithRelFeature(rel config.RelFeatureType) *ScenarioBuilder {
	sb.scenario.RelFeature = rel
	return sb
}

// WithPairwiseFunc sets the explicit pairwise transform
func (sb *ScenarioBuilder) WithPairwiseFunc(fn config.PairwiseFunc) *ScenarioBuilder {
	sb.scenario.PairwiseFunc = fn
	return sb
}

// WithRounds sets the number of message passing rounds
func (sb *ScenarioBuilder) WithRounds(rounds int) *ScenarioBuilder {
	sb.scenario.NumIter = rounds
	return sb
}

// WithScene sets the number of images and proposals per image. maxPairs caps
// the candidate pairs per image, 0 keeping every ordered pair.
func (sb *ScenarioBuilder) WithScene(images, objects, maxPairs int) *ScenarioBuilder {
	sb.scenario.Images = images
	sb.scenario.Objects = objects
	sb.scenario.MaxPairs = maxPairs
	return sb
}

// WithIterations sets the number of test iterations
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of warmup runs
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// WithSeed sets the seed of the weights and the synthetic scene
func (sb *ScenarioBuilder) WithSeed(seed int64) *ScenarioBuilder {
	sb.scenario.Seed = seed
	return sb
}

// Build returns the configured test scenario
func (sb *ScenarioBuilder) Build() TestScenario {
	return sb.scenario
}

// ScenarioSet represents a collection of related test scenarios
type ScenarioSet struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Scenarios   []TestScenario `json:"scenarios"`
}

// PredefinedScenarios contains common benchmark scenario sets
type PredefinedScenarios struct{}

// GetQuickScenarios returns a small set for quick testing
func (ps *PredefinedScenarios) GetQuickScenarios() *ScenarioSet {
	scenarios := make([]TestScenario, 0)
	for _, objects := range []int{8, 32} {
		scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("quick_%d_objects", objects)).
			WithScene(1, objects, 0).
			WithIterations(10).
			WithWarmupRuns(2).
			Build())
	}
	return &ScenarioSet{
		Name:        "Quick Performance Test",
		Description: "Default head on small single-image scenes",
		Scenarios:   scenarios,
	}
}

// GetScaleScenarios returns scenarios growing the number of proposals per
// image, with every ordered pair as a candidate.
func (ps *PredefinedScenarios) GetScaleScenarios(objectCounts []int) *ScenarioSet {
	scenarios := make([]TestScenario, 0, len(objectCounts))
	for _, objects := range objectCounts {
		scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("scale_%d_objects", objects)).
			WithScene(1, objects, 0).
			Build())
	}
	return &ScenarioSet{
		Name:        "Scene Scale Comparison",
		Description: "Cost growth with the number of proposals and pairs",
		Scenarios:   scenarios,
	}
}

// GetModeComparisonScenarios returns one scenario per label source mode.
func (ps *PredefinedScenarios) GetModeComparisonScenarios(objects int) *ScenarioSet {
	modes := []config.Mode{config.ModePredCls, config.ModeSGCls, config.ModeSGDet}
	scenarios := make([]TestScenario, 0, len(modes))
	for _, mode := range modes {
		scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("mode_%s", mode)).
			WithMode(mode).
			WithScene(1, objects, 0).
			Build())
	}
	return &ScenarioSet{
		Name:        fmt.Sprintf("Mode Comparison - %d objects", objects),
		Description: "Label assignment cost of sgdet against supplied labels",
		Scenarios:   scenarios,
	}
}

// GetRelFeatureComparisonScenarios returns one scenario per relation feature
// type and explicit pairwise transform.
func (ps *PredefinedScenarios) GetRelFeatureComparisonScenarios(objects int) *ScenarioSet {
	scenarios := make([]TestScenario, 0)
	for _, rel := range []config.RelFeatureType{config.RelFeatureUnion, config.RelFeatureObjPair, config.RelFeatureFusion} {
		funcs := []config.PairwiseFunc{config.PairwiseFuncIdentity}
		if rel.UsesObjectPairs() {
			funcs = append(funcs, config.PairwiseFuncMHA)
		}
		for _, fn := range funcs {
			scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("rel_%s_%s", rel, fn)).
				WithRelFeature(rel).
				WithPairwiseFunc(fn).
				WithScene(1, objects, 0).
				Build())
		}
	}
	return &ScenarioSet{
		Name:        fmt.Sprintf("Relation Feature Comparison - %d objects", objects),
		Description: "Cost of each relation feature construction",
		Scenarios:   scenarios,
	}
}

// SaveScenarioSet saves a scenario set to a JSON file
func SaveScenarioSet(set *ScenarioSet, filename string) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(set, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal scenario set")
	}
	return errors.Wrap(os.WriteFile(filename, data, 0o644), "failed to write scenario set")
}

// LoadScenarioSet loads a scenario set from a JSON file
func LoadScenarioSet(filename string) (*ScenarioSet, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read scenario set")
	}
	var set ScenarioSet
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &set); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal scenario set")
	}
	return &set, nil
}
