package benchmark

import (
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-sgg/config"
	"github.com/nvr-ai/go-sgg/geometry"
	"github.com/nvr-ai/go-sgg/nn"
	"github.com/nvr-ai/go-sgg/scene"
)

// Synthetic scene size.
const (
	sceneWidth  = 640
	sceneHeight = 480
	minBoxSide  = 8
	boxJitter   = 6
)

// Scene is a synthetic batch with its feature tensors.
type Scene struct {
	Batch      *scene.Batch
	ObjFeats   *tensor.Dense
	UnionFeats *tensor.Dense
}

// Synthesize draws a random batch shaped by the scenario. The label fields
// follow the mode: predcls scenes carry ground-truth labels, sgcls scenes
// predicted labels and logits, and sgdet scenes logits and per-class boxes
// only, so the head assigns labels itself.
func Synthesize(rng *rand.Rand, cfg *config.Config, s TestScenario) (*Scene, error) {
	if s.Images <= 0 || s.Objects < 2 {
		return nil, errors.Errorf("need at least one image with two objects, got %d images of %d", s.Images, s.Objects)
	}
	if cfg.NumObjClasses < 2 {
		return nil, errors.Errorf("need a foreground class, got %d classes", cfg.NumObjClasses)
	}

	out := &Scene{Batch: &scene.Batch{}}
	for i := 0; i < s.Images; i++ {
		out.Batch.Images = append(out.Batch.Images, synthesizeProposals(rng, cfg, s.Objects))
		out.Batch.Pairs = append(out.Batch.Pairs, synthesizePairs(rng, s.Objects, s.MaxPairs))
	}

	out.ObjFeats = uniform(rng, out.Batch.NumObjects(), cfg.InChannels)
	if cfg.RelFeature.UsesUnion() {
		out.UnionFeats = uniform(rng, out.Batch.NumPairs(), cfg.InChannels)
	}
	return out, nil
}

func synthesizeProposals(rng *rand.Rand, cfg *config.Config, n int) *scene.Proposals {
	p := &scene.Proposals{
		Size:  geometry.ImageSize{Width: sceneWidth, Height: sceneHeight},
		Boxes: make([]geometry.Box, n),
	}
	for i := range p.Boxes {
		p.Boxes[i] = randomBox(rng)
	}

	classes := cfg.NumObjClasses
	labels := func() []int {
		l := make([]int, n)
		for i := range l {
			l[i] = 1 + rng.Intn(classes-1)
		}
		return l
	}
	switch cfg.Mode {
	case config.ModePredCls:
		p.Labels = labels()
	case config.ModeSGCls:
		p.PredLabels = labels()
		p.Logits = normal(rng, n, classes)
	default:
		p.Logits = normal(rng, n, classes)
		p.ClassBoxes = jitteredClassBoxes(rng, p.Boxes, classes)
	}
	return p
}

// synthesizePairs returns every ordered pair of distinct objects, or a random
// subset of maxPairs of them when maxPairs is positive.
func synthesizePairs(rng *rand.Rand, n, maxPairs int) []scene.Pair {
	pairs := make([]scene.Pair, 0, n*(n-1))
	for s := 0; s < n; s++ {
		for o := 0; o < n; o++ {
			if s != o {
				pairs = append(pairs, scene.Pair{Subject: s, Object: o})
			}
		}
	}
	if maxPairs <= 0 || maxPairs >= len(pairs) {
		return pairs
	}
	rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
	return pairs[:maxPairs]
}

func randomBox(rng *rand.Rand) geometry.Box {
	x1 := rng.Float32() * (sceneWidth - minBoxSide)
	y1 := rng.Float32() * (sceneHeight - minBoxSide)
	w := minBoxSide + rng.Float32()*(sceneWidth-x1-minBoxSide)
	h := minBoxSide + rng.Float32()*(sceneHeight-y1-minBoxSide)
	return geometry.Box{X1: x1, Y1: y1, X2: x1 + w, Y2: y1 + h}
}

func jitteredClassBoxes(rng *rand.Rand, boxes []geometry.Box, classes int) *tensor.Dense {
	data := make([]float32, 0, len(boxes)*classes*4)
	jitter := func() float32 { return (rng.Float32()*2 - 1) * boxJitter }
	for _, b := range boxes {
		for c := 0; c < classes; c++ {
			data = append(data, b.X1+jitter(), b.Y1+jitter(), b.X2+jitter(), b.Y2+jitter())
		}
	}
	return tensor.New(tensor.WithShape(len(boxes), classes, 4), tensor.WithBacking(data))
}

func uniform(rng *rand.Rand, rows, cols int) *tensor.Dense {
	t := nn.Zeros(rows, cols)
	v := nn.Values(t)
	for i := range v {
		v[i] = rng.Float32()
	}
	return t
}

func normal(rng *rand.Rand, rows, cols int) *tensor.Dense {
	t := nn.Zeros(rows, cols)
	v := nn.Values(t)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return t
}
