package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/nvr-ai/go-sgg/benchmark"
	"github.com/nvr-ai/go-sgg/config"
	"github.com/nvr-ai/go-sgg/postprocess"
	"github.com/nvr-ai/go-sgg/relhead"
)

var (
	configPath   string
	weightsDir   string
	inputPath    string
	outputPath   string
	logLevel     string
	history      bool
	iouThreshold float64
	scenarioSet  string
	objects      int
)

var configFlag = &cli.StringFlag{
	Name:        "config",
	Usage:       "Path to a YAML head configuration. Defaults apply to omitted keys",
	Aliases:     []string{"c"},
	Destination: &configPath,
}

var inputFlag = &cli.StringFlag{
	Name:        "input",
	Usage:       "Path to a JSON scene file. If omitted, the scene is read from stdin",
	Aliases:     []string{"i"},
	Destination: &inputPath,
}

var outputFlag = &cli.StringFlag{
	Name:        "output",
	Usage:       "Path to write the JSON result to. If omitted, the result goes to stdout",
	Aliases:     []string{"o"},
	Destination: &outputPath,
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Compute object and edge contexts for a scene",
	Description: `Run builds the relation context head from --config, loads its weights from --weights
and runs the scene through it. Images of an sgdet scene that carry logits and class_boxes
but no pred_labels are labeled by global NMS first.`,
	Flags: []cli.Flag{
		configFlag,
		inputFlag,
		outputFlag,
		&cli.StringFlag{
			Name:        "weights",
			Usage:       "Directory of <parameter>.npy files. If omitted, freshly seeded weights are used",
			Aliases:     []string{"w"},
			Destination: &weightsDir,
		},
		&cli.BoolFlag{
			Name:        "history",
			Usage:       "Include the vertex factor of every round in the output",
			Destination: &history,
		},
	},
	Action: func(ctx *cli.Context) error {
		logger := newLogger()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		head, err := relhead.New(cfg, relhead.Options{Logger: logger})
		if err != nil {
			return err
		}
		if weightsDir != "" {
			if err := head.LoadWeights(weightsDir); err != nil {
				return err
			}
		} else {
			logger.Warn("no weights directory given, using seeded initialization")
		}

		req, err := loadRequest()
		if err != nil {
			return err
		}
		out, err := head.Forward(req.ObjFeats, req.UnionFeats, req.Batch)
		if err != nil {
			return err
		}
		return writeOutput(newContextOutput(out, history))
	},
}

var nmsCommand = &cli.Command{
	Name:  "nms",
	Usage: "Assign object labels from per-class boxes and logits",
	Flags: []cli.Flag{
		inputFlag,
		outputFlag,
		&cli.Float64Flag{
			Name:        "iou-threshold",
			Usage:       "Same-class overlap at or above which a class is suppressed",
			Value:       float64(postprocess.DefaultNMSConfig().IoUThreshold),
			Destination: &iouThreshold,
		},
	},
	Action: func(ctx *cli.Context) error {
		logger := newLogger()
		req, err := loadRequest()
		if err != nil {
			return err
		}

		nms := &postprocess.NMSConfig{IoUThreshold: float32(iouThreshold)}
		out := make([]labelOutput, len(req.Batch.Images))
		for i, img := range req.Batch.Images {
			labels, rounds, err := postprocess.Assign(img.ClassBoxes, img.Logits, nms)
			if err != nil {
				return errors.Wrapf(err, "image %d", i)
			}
			assigned, suppressed := postprocess.Summary(rounds)
			out[i] = labelOutput{Labels: labels, Rounds: rounds, Assigned: assigned, Suppressed: suppressed}
			logger.WithFields(logrus.Fields{
				"image":      i,
				"objects":    img.Len(),
				"assigned":   assigned,
				"suppressed": suppressed,
			}).Debug("assigned labels")
		}
		return writeOutput(out)
	},
}

var initCommand = &cli.Command{
	Name:  "init-weights",
	Usage: "Write freshly seeded weights for a configuration",
	Flags: []cli.Flag{
		configFlag,
		&cli.StringFlag{
			Name:        "weights",
			Usage:       "Directory to write <parameter>.npy files to",
			Aliases:     []string{"w"},
			Destination: &weightsDir,
			Required:    true,
		},
	},
	Action: func(ctx *cli.Context) error {
		logger := newLogger()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		head, err := relhead.New(cfg, relhead.Options{Logger: logger})
		if err != nil {
			return err
		}
		if err := head.SaveWeights(weightsDir); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"dir":    weightsDir,
			"params": len(head.Params()),
			"seed":   cfg.Seed,
		}).Info("wrote weights")
		return nil
	},
}

var benchCommand = &cli.Command{
	Name:  "bench",
	Usage: "Benchmark the head on synthetic scenes",
	Description: `Bench runs a predefined scenario set (quick, scale, modes or rel) or a JSON scenario
file against heads built from --config and writes JSON and CSV results to --output.`,
	Flags: []cli.Flag{
		configFlag,
		&cli.StringFlag{
			Name:        "set",
			Usage:       "Scenario set name or path to a JSON scenario set",
			Value:       "quick",
			Destination: &scenarioSet,
		},
		&cli.IntFlag{
			Name:        "objects",
			Usage:       "Proposals per image for the modes and rel sets",
			Value:       32,
			Destination: &objects,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Directory for the result files. If omitted, results are only logged",
			Aliases:     []string{"o"},
			Destination: &outputPath,
		},
	},
	Action: func(ctx *cli.Context) error {
		logger := newLogger()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		set, err := loadScenarioSet()
		if err != nil {
			return err
		}

		suite := benchmark.NewSuite(benchmark.NewSuiteArgs{
			Config:     cfg,
			OutputPath: outputPath,
			Logger:     logger,
		})
		suite.AddScenarios(set)
		return suite.RunAllScenarios(ctx.Context)
	},
}

func main() {
	app := &cli.App{
		Name:  "sgcontext",
		Usage: "Scene graph relation context from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "One of panic, fatal, error, warn, info, debug, trace",
				Value:       "info",
				Destination: &logLevel,
			},
		},
		Commands: []*cli.Command{runCommand, nmsCommand, initCommand, benchCommand},
	}
	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("sgcontext failed")
	}
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logger.WithError(err).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func loadScenarioSet() (*benchmark.ScenarioSet, error) {
	predefined := &benchmark.PredefinedScenarios{}
	switch scenarioSet {
	case "quick":
		return predefined.GetQuickScenarios(), nil
	case "scale":
		return predefined.GetScaleScenarios([]int{8, 16, 32, 64}), nil
	case "modes":
		return predefined.GetModeComparisonScenarios(objects), nil
	case "rel":
		return predefined.GetRelFeatureComparisonScenarios(objects), nil
	default:
		return benchmark.LoadScenarioSet(scenarioSet)
	}
}

func loadRequest() (*request, error) {
	var r io.Reader = os.Stdin
	if inputPath != "" {
		f, err := os.Open(inputPath)
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s", inputPath)
		}
		defer f.Close()
		r = f
	}
	in, err := readScene(r)
	if err != nil {
		return nil, err
	}
	return in.toRequest()
}

func writeOutput(v interface{}) error {
	var w io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return errors.Wrapf(err, "creating %s", outputPath)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "writing result")
}
