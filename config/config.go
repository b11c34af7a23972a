package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// PairwiseConfig configures the explicit pairwise branch.
type PairwiseConfig struct {
	// Explicit enables the head x tail signal.
	Explicit bool `json:"explicit" yaml:"explicit"`
	// Data is the head/tail combination method.
	Data PairwiseData `json:"data" yaml:"data"`
	// Func is the transform applied to the combined signal.
	Func PairwiseFunc `json:"func" yaml:"func"`
	// Heads is the number of attention heads of the mha transform.
	Heads int `json:"heads" yaml:"heads"`
	// Layers is the number of encoder layers of the mha transform.
	Layers int `json:"layers" yaml:"layers"`
	// FeedForwardDim is the inner width of each encoder layer.
	FeedForwardDim int `json:"feedforward_dim" yaml:"feedforward_dim"`
}

// NMSConfig configures the label assignment branch.
type NMSConfig struct {
	// IoUThreshold is the same-class overlap at or above which boxes are suppressed.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
}

// Config is the read-only configuration of the relation context head.
type Config struct {
	// Mode selects the label sources.
	Mode Mode `json:"mode" yaml:"mode"`
	// InChannels is the width of the appearance and union features.
	InChannels int `json:"in_channels" yaml:"in_channels"`
	// HiddenDim is the width of the message passing state.
	HiddenDim int `json:"hidden_dim" yaml:"hidden_dim"`
	// PoolingDim is the width of augmented object and relation features.
	PoolingDim int `json:"pooling_dim" yaml:"pooling_dim"`
	// EmbedDim is the width of the label embeddings.
	EmbedDim int `json:"embed_dim" yaml:"embed_dim"`
	// NumObjClasses is the number of object classes including background.
	NumObjClasses int `json:"num_obj_classes" yaml:"num_obj_classes"`
	// NumIter is the number of propagation rounds.
	NumIter int `json:"num_iter" yaml:"num_iter"`
	// WordEmbedding enables the label embedding tables.
	WordEmbedding bool `json:"word_embedding" yaml:"word_embedding"`
	// RelFeature selects how relation features are built.
	RelFeature RelFeatureType `json:"rel_feature" yaml:"rel_feature"`
	// SpatialForVision gates pair features with a pair geometry embedding.
	SpatialForVision bool `json:"spatial_for_vision" yaml:"spatial_for_vision"`
	// GeometryDim is the width of the per-object geometry embedding.
	GeometryDim int `json:"geometry_dim" yaml:"geometry_dim"`
	// Pairwise configures the explicit pairwise branch.
	Pairwise PairwiseConfig `json:"pairwise" yaml:"pairwise"`
	// NMS configures label assignment.
	NMS NMSConfig `json:"nms" yaml:"nms"`
	// Seed seeds the initialization of freshly built layers.
	Seed int64 `json:"seed" yaml:"seed"`
}

// Default returns the configuration used by the reference relation head.
func Default() *Config {
	return &Config{
		Mode:             ModeSGDet,
		InChannels:       4096,
		HiddenDim:        512,
		PoolingDim:       4096,
		EmbedDim:         200,
		NumObjClasses:    151,
		NumIter:          3,
		WordEmbedding:    true,
		RelFeature:       RelFeatureFusion,
		SpatialForVision: true,
		GeometryDim:      128,
		Pairwise: PairwiseConfig{
			Explicit:       true,
			Data:           PairwiseDataHadamard,
			Func:           PairwiseFuncIdentity,
			Heads:          8,
			Layers:         1,
			FeedForwardDim: 2048,
		},
		NMS: NMSConfig{
			IoUThreshold: 0.3,
		},
	}
}

// Parse decodes a YAML document on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	return Parse(data)
}

// Validate rejects configurations the head cannot be built from.
func (c *Config) Validate() error {
	if _, ok := modeNames[c.Mode]; !ok {
		return errors.Wrapf(ErrUnknownMode, "%d", int(c.Mode))
	}
	if _, ok := relFeatureNames[c.RelFeature]; !ok {
		return errors.Wrapf(ErrUnknownRelFeature, "%d", int(c.RelFeature))
	}

	dims := []struct {
		name  string
		value int
	}{
		{"in_channels", c.InChannels},
		{"hidden_dim", c.HiddenDim},
		{"pooling_dim", c.PoolingDim},
		{"num_obj_classes", c.NumObjClasses},
		{"geometry_dim", c.GeometryDim},
	}
	for _, d := range dims {
		if d.value <= 0 {
			return errors.Errorf("%s must be positive, got %d", d.name, d.value)
		}
	}
	if c.WordEmbedding && c.EmbedDim <= 0 {
		return errors.Errorf("embed_dim must be positive when word_embedding is on, got %d", c.EmbedDim)
	}
	if c.NumIter < 0 {
		return errors.Errorf("num_iter must not be negative, got %d", c.NumIter)
	}

	if c.RelFeature.UsesObjectPairs() && c.Pairwise.Explicit {
		if c.Pairwise.Data != PairwiseDataHadamard {
			return errors.Wrapf(ErrUnknownPairwiseData, "%q", c.Pairwise.Data)
		}
		switch c.Pairwise.Func {
		case PairwiseFuncIdentity:
		case PairwiseFuncMHA:
			if c.Pairwise.Heads <= 0 || c.HiddenDim%c.Pairwise.Heads != 0 {
				return errors.Errorf("hidden_dim %d is not divisible into %d heads", c.HiddenDim, c.Pairwise.Heads)
			}
			if c.Pairwise.Layers <= 0 || c.Pairwise.FeedForwardDim <= 0 {
				return errors.Errorf("mha needs positive layers and feedforward_dim, got %d and %d",
					c.Pairwise.Layers, c.Pairwise.FeedForwardDim)
			}
		default:
			return errors.Wrapf(ErrUnknownPairwiseFunc, "%q", c.Pairwise.Func)
		}
	}
	return nil
}

// EffectiveEmbedDim is the embedding width taking the word embedding switch
// into account.
func (c *Config) EffectiveEmbedDim() int {
	if !c.WordEmbedding {
		return 0
	}
	return c.EmbedDim
}

// RelFeatDimNotMatch reports whether union features need an up-projection to
// the pooling width.
func (c *Config) RelFeatDimNotMatch() bool {
	return c.InChannels != c.PoolingDim
}
