// Package benchmark - Functionality for benchmarking the relation context
// head on synthetic scenes.
package benchmark

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-sgg/config"
	"github.com/nvr-ai/go-sgg/metrics"
	"github.com/nvr-ai/go-sgg/relhead"
)

// TestScenario defines a specific test configuration.
type TestScenario struct {
	Name         string                `json:"name"`
	Mode         config.Mode           `json:"mode"`
	RelFeature   config.RelFeatureType `json:"rel_feature"`
	PairwiseFunc config.PairwiseFunc   `json:"pairwise_func"`
	NumIter      int                   `json:"num_iter"`
	Images       int                   `json:"images"`
	Objects      int                   `json:"objects"`
	MaxPairs     int                   `json:"max_pairs"`
	Iterations   int                   `json:"iterations"`
	WarmupRuns   int                   `json:"warmup_runs"`
	Seed         int64                 `json:"seed"`
}

// PerformanceMetrics captures detailed performance data.
type PerformanceMetrics struct {
	Scenario          TestScenario  `json:"scenario"`
	Timestamp         time.Time     `json:"timestamp"`
	TotalDuration     time.Duration `json:"total_duration"`
	NMSDuration       time.Duration `json:"nms_duration"`
	ExtractDuration   time.Duration `json:"extract_duration"`
	PropagateDuration time.Duration `json:"propagate_duration"`
	BatchesPerSecond  float64       `json:"batches_per_second"`
	Objects           int           `json:"objects"`
	Pairs             int           `json:"pairs"`
	NMSAssigned       int           `json:"nms_assigned"`
	MemoryStats       MemoryMetrics `json:"memory_stats"`
	CPUStats          CPUMetrics    `json:"cpu_stats"`
	ErrorRate         float64       `json:"error_rate"`
}

// MemoryMetrics captures memory usage statistics.
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}

// CPUMetrics captures CPU statistics.
type CPUMetrics struct {
	NumCPU     int `json:"num_cpu"`
	GOMAXPROCS int `json:"gomaxprocs"`
}

// NewSuiteArgs represents the arguments for creating a new benchmark suite.
type NewSuiteArgs struct {
	// Config supplies the layer widths. Scenarios override the mode, relation
	// feature, pairwise function and number of rounds.
	Config *config.Config
	// OutputPath is the directory SaveResults writes to.
	OutputPath string
	// Logger receives progress logs. Nil uses the logrus standard logger.
	Logger logrus.FieldLogger
	// Registerer, when set, receives the head instruments of every run.
	Registerer prometheus.Registerer
}

// Suite manages and executes benchmark scenarios.
type Suite struct {
	base      *config.Config
	outputDir string
	logger    logrus.FieldLogger
	metrics   *metrics.Head

	mu        sync.RWMutex
	scenarios []TestScenario
	results   []PerformanceMetrics
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - args: The arguments for creating a new benchmark suite.
//
// Returns:
//   - *Suite: The benchmark suite.
func NewSuite(args NewSuiteArgs) *Suite {
	base := args.Config
	if base == nil {
		base = config.Default()
	}
	logger := args.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Suite{
		base:      base,
		outputDir: args.OutputPath,
		logger:    logger,
		scenarios: make([]TestScenario, 0),
		results:   make([]PerformanceMetrics, 0),
	}
	if args.Registerer != nil {
		s.metrics = metrics.NewHead(args.Registerer)
	}
	return s
}

// AddScenario adds a test scenario to the benchmark suite.
func (bs *Suite) AddScenario(scenario TestScenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// AddScenarios adds every scenario of a set.
func (bs *Suite) AddScenarios(set *ScenarioSet) {
	for _, s := range set.Scenarios {
		bs.AddScenario(s)
	}
}

// configFor returns the base configuration with the scenario overrides.
func (bs *Suite) configFor(scenario TestScenario) *config.Config {
	cfg := *bs.base
	cfg.Mode = scenario.Mode
	cfg.RelFeature = scenario.RelFeature
	if scenario.PairwiseFunc != "" {
		cfg.Pairwise.Func = scenario.PairwiseFunc
	}
	cfg.NumIter = scenario.NumIter
	cfg.Seed = scenario.Seed
	return &cfg
}

// RunScenario executes a single benchmark scenario. Every iteration runs the
// same synthetic batch, so all iterations see the same object and pair counts.
func (bs *Suite) RunScenario(ctx context.Context, scenario TestScenario) (*PerformanceMetrics, error) {
	if scenario.Iterations <= 0 {
		return nil, errors.Errorf("scenario %s: iterations must be positive, got %d", scenario.Name, scenario.Iterations)
	}
	cfg := bs.configFor(scenario)
	head, err := relhead.New(cfg, relhead.Options{Logger: bs.logger, Metrics: bs.metrics})
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", scenario.Name)
	}
	scene, err := Synthesize(rand.New(rand.NewSource(scenario.Seed)), cfg, scenario)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", scenario.Name)
	}

	result := &PerformanceMetrics{
		Scenario:  scenario,
		Timestamp: time.Now(),
		Objects:   scene.Batch.NumObjects(),
		Pairs:     scene.Batch.NumPairs(),
	}

	// Warmup runs
	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, err := head.Forward(scene.ObjFeats, scene.UnionFeats, scene.Batch); err != nil {
			return nil, errors.Wrapf(err, "scenario %s warmup", scenario.Name)
		}
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	startTime := time.Now()
	failures := 0
	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := head.Forward(scene.ObjFeats, scene.UnionFeats, scene.Batch)
		if err != nil {
			failures++
			bs.logger.WithError(err).WithField("scenario", scenario.Name).Warn("iteration failed")
			continue
		}
		result.NMSDuration += out.Timings.NMS
		result.ExtractDuration += out.Timings.Extract
		result.PropagateDuration += out.Timings.Propagate
		result.NMSAssigned = out.Timings.NMSAssigned
	}
	result.TotalDuration = time.Since(startTime)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	result.BatchesPerSecond = float64(scenario.Iterations-failures) / result.TotalDuration.Seconds()
	result.ErrorRate = float64(failures) / float64(scenario.Iterations)
	result.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
		HeapSysBytes:    endMem.HeapSys,
	}
	result.CPUStats = CPUMetrics{
		NumCPU:     runtime.NumCPU(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
	}
	return result, nil
}

// RunAllScenarios executes all configured benchmark scenarios and saves the
// results when an output path is set.
func (bs *Suite) RunAllScenarios(ctx context.Context) error {
	bs.mu.RLock()
	scenarios := make([]TestScenario, len(bs.scenarios))
	copy(scenarios, bs.scenarios)
	bs.mu.RUnlock()

	for _, scenario := range scenarios {
		result, err := bs.RunScenario(ctx, scenario)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			bs.logger.WithError(err).WithField("scenario", scenario.Name).Error("scenario failed")
			continue
		}

		bs.mu.Lock()
		bs.results = append(bs.results, *result)
		bs.mu.Unlock()

		bs.logger.WithFields(logrus.Fields{
			"scenario":           scenario.Name,
			"objects":            result.Objects,
			"pairs":              result.Pairs,
			"batches_per_second": result.BatchesPerSecond,
		}).Info("scenario completed")
	}

	if bs.outputDir == "" {
		return nil
	}
	return bs.SaveResults()
}

// SaveResults persists benchmark results to the output directory as a JSON
// document and a CSV summary.
func (bs *Suite) SaveResults() error {
	results := bs.GetResults()

	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))

	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(results, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write results file")
	}

	summaryFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))
	if err := saveSummaryCSV(summaryFile, results); err != nil {
		return errors.Wrap(err, "failed to save summary CSV")
	}

	bs.logger.WithFields(logrus.Fields{
		"results": resultsFile,
		"summary": summaryFile,
	}).Info("saved benchmark results")
	return nil
}

func saveSummaryCSV(filename string, results []PerformanceMetrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	header := "Scenario,Mode,RelFeature,Objects,Pairs,Rounds,Batches_Per_Second,Total_Duration_ms,Propagate_ms,Alloc_MB,Error_Rate\n"
	if _, err := file.WriteString(header); err != nil {
		return err
	}

	for _, result := range results {
		line := fmt.Sprintf("%s,%s,%s,%d,%d,%d,%.2f,%.2f,%.2f,%.2f,%.4f\n",
			result.Scenario.Name,
			result.Scenario.Mode,
			result.Scenario.RelFeature,
			result.Objects,
			result.Pairs,
			result.Scenario.NumIter,
			result.BatchesPerSecond,
			float64(result.TotalDuration.Nanoseconds())/1e6,
			float64(result.PropagateDuration.Nanoseconds())/1e6,
			float64(result.MemoryStats.TotalAllocBytes)/(1024*1024),
			result.ErrorRate,
		)
		if _, err := file.WriteString(line); err != nil {
			return err
		}
	}
	return nil
}

// GetResults returns all benchmark results.
func (bs *Suite) GetResults() []PerformanceMetrics {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	results := make([]PerformanceMetrics, len(bs.results))
	copy(results, bs.results)
	return results
}
