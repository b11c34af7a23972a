// Package config - Configuration surface of the relation context head.
package config

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownMode is returned for a mode other than predcls, sgcls or sgdet.
	ErrUnknownMode = errors.New("unknown mode")
	// ErrUnknownRelFeature is returned for an unsupported relation feature type.
	ErrUnknownRelFeature = errors.New("unknown relation feature type")
	// ErrUnknownPairwiseFunc is returned for an unsupported explicit pairwise function.
	ErrUnknownPairwiseFunc = errors.New("unknown explicit pairwise function")
	// ErrUnknownPairwiseData is returned for an unsupported explicit pairwise data method.
	ErrUnknownPairwiseData = errors.New("unknown explicit pairwise data method")
)

// Mode selects where object labels come from.
type Mode int

const (
	// ModePredCls uses ground-truth boxes and ground-truth labels.
	ModePredCls Mode = iota
	// ModeSGCls uses ground-truth boxes and predicted labels.
	ModeSGCls
	// ModeSGDet uses detected boxes and predicted labels.
	ModeSGDet
)

var modeNames = map[Mode]string{
	ModePredCls: "predcls",
	ModeSGCls:   "sgcls",
	ModeSGDet:   "sgdet",
}

// ModeFor derives the mode from the ground-truth box and label switches.
func ModeFor(useGTBox, useGTObjectLabel bool) Mode {
	switch {
	case useGTBox && useGTObjectLabel:
		return ModePredCls
	case useGTBox:
		return ModeSGCls
	default:
		return ModeSGDet
	}
}

func (m Mode) String() string {
	return modeNames[m]
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownMode, "%q", s)
}

// MarshalYAML implements yaml.Marshaler.
func (m Mode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *Mode) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseMode(value.Value)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// RelFeatureType selects how relation features are built.
type RelFeatureType int

const (
	// RelFeatureUnion uses the pooled union-region feature only.
	RelFeatureUnion RelFeatureType = iota
	// RelFeatureObjPair uses head/tail object representations only.
	RelFeatureObjPair
	// RelFeatureFusion sums the union feature and the object-pair features.
	RelFeatureFusion
)

var relFeatureNames = map[RelFeatureType]string{
	RelFeatureUnion:   "union",
	RelFeatureObjPair: "obj_pair",
	RelFeatureFusion:  "fusion",
}

func (r RelFeatureType) String() string {
	return relFeatureNames[r]
}

// UsesObjectPairs reports whether the type builds head/tail pair features.
func (r RelFeatureType) UsesObjectPairs() bool {
	return r == RelFeatureObjPair || r == RelFeatureFusion
}

// UsesUnion reports whether the type consumes union-region features.
func (r RelFeatureType) UsesUnion() bool {
	return r == RelFeatureUnion || r == RelFeatureFusion
}

// ParseRelFeatureType parses a relation feature type name.
func ParseRelFeatureType(s string) (RelFeatureType, error) {
	for r, name := range relFeatureNames {
		if name == s {
			return r, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownRelFeature, "%q", s)
}

// MarshalYAML implements yaml.Marshaler.
func (r RelFeatureType) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *RelFeatureType) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseRelFeatureType(value.Value)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// PairwiseFunc selects the transform applied to the explicit pairwise signal.
type PairwiseFunc string

const (
	// PairwiseFuncIdentity projects the signal with a feed-forward layer.
	PairwiseFuncIdentity PairwiseFunc = "identity"
	// PairwiseFuncMHA runs a self-attention encoder over all pairs of a batch.
	PairwiseFuncMHA PairwiseFunc = "mha"
)

// PairwiseData selects how head and tail representations are combined.
type PairwiseData string

const (
	// PairwiseDataHadamard is the element-wise product of head and tail.
	PairwiseDataHadamard PairwiseData = "hadamard"
)
