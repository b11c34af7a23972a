// Package pairwise - Object feature augmentation and relation feature
// construction for candidate object pairs.
package pairwise

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-sgg/config"
	"github.com/nvr-ai/go-sgg/geometry"
	"github.com/nvr-ai/go-sgg/nn"
	"github.com/nvr-ai/go-sgg/scene"
)

// Prefix is the parameter path prefix of every extractor layer.
const Prefix = "pairwise_feature_extractor."

// posEmbedHidden is the inner width of the per-object geometry embedding.
const posEmbedHidden = 32

// Output holds the two results of an extractor pass.
type Output struct {
	// Objects are the augmented object features, (objects, pooling).
	Objects *tensor.Dense
	// Relations are the relation features, (pairs, pooling).
	Relations *tensor.Dense
}

// Extractor builds augmented object features and relation features.
//
// Optional layers are nil when the configuration does not use them.
type Extractor struct {
	cfg    *config.Config
	logger logrus.FieldLogger

	EmbedProbDist  *nn.Embedding
	EmbedPredLabel *nn.Embedding
	PosEmbed       *nn.Sequential
	ObjHidden      *nn.Linear
	ObjFinalize    *nn.Sequential
	RelUpDim       *nn.Linear
	PairUpDim      *nn.Linear
	SpatialEmbed   *nn.Sequential
	RelFinalize    *nn.Sequential
	Explicit       Encoder
}

// NewExtractor builds an extractor for cfg with freshly initialized layers.
func NewExtractor(cfg *config.Config, init *nn.Init, logger logrus.FieldLogger) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	name := func(s string) string { return Prefix + s }
	embed := cfg.EffectiveEmbedDim()
	in, hidden, pooling := cfg.InChannels, cfg.HiddenDim, cfg.PoolingDim
	augmented := hidden + in + embed

	e := &Extractor{cfg: cfg, logger: logger}
	if cfg.WordEmbedding {
		e.EmbedProbDist = nn.NewEmbedding(name("obj_embed_on_prob_dist"), cfg.NumObjClasses, embed, init)
		e.EmbedPredLabel = nn.NewEmbedding(name("obj_embed_on_pred_label"), cfg.NumObjClasses, embed, init)
	}

	pos := name("pos_embed")
	e.PosEmbed = nn.NewSequential(pos,
		nn.NewLinear(nn.Child(pos, 0), geometry.InfoDim, posEmbedHidden, init),
		nn.NewBatchNorm1d(nn.Child(pos, 1), posEmbedHidden),
		nn.NewLinear(nn.Child(pos, 2), posEmbedHidden, cfg.GeometryDim, init),
		nn.ReLU{},
	)
	e.ObjHidden = nn.NewLinear(name("obj_hidden_linear"), in+embed+cfg.GeometryDim, hidden, init)

	fin := name("obj_feat_aug_finalize_fc")
	e.ObjFinalize = nn.NewSequential(fin, nn.NewLinear(nn.Child(fin, 0), augmented, pooling, init), nn.ReLU{})

	if cfg.RelFeatDimNotMatch() {
		e.RelUpDim = nn.NewLinear(name("rel_feature_up_dim"), in, pooling, init)
	}

	if cfg.RelFeature.UsesObjectPairs() {
		e.PairUpDim = nn.NewLinear(name("pairwise_obj_feat_updim_fc"), augmented, 2*hidden, init)

		if cfg.SpatialForVision {
			spt := name("spt_emb")
			e.SpatialEmbed = nn.NewSequential(spt,
				nn.NewLinear(nn.Child(spt, 0), geometry.PairInfoDim, hidden, init),
				nn.ReLU{},
				nn.NewLinear(nn.Child(spt, 2), hidden, 2*hidden, init),
				nn.ReLU{},
			)
		}

		rel := name("pairwise_rel_feat_finalize_fc")
		e.RelFinalize = nn.NewSequential(rel, nn.NewLinear(nn.Child(rel, 0), 2*hidden, pooling, init), nn.ReLU{})

		if cfg.Pairwise.Explicit {
			enc, err := NewEncoder(name("explicit_pairwise_func"), cfg, init)
			if err != nil {
				return nil, err
			}
			e.Explicit = enc
		}
	}

	logger.WithFields(logrus.Fields{
		"rel_feature":            cfg.RelFeature.String(),
		"rel_feat_dim_not_match": cfg.RelFeatDimNotMatch(),
		"explicit_pairwise":      e.Explicit != nil,
		"pairwise_func":          cfg.Pairwise.Func,
		"word_embedding":         cfg.WordEmbedding,
	}).Info("built pairwise feature extractor")
	return e, nil
}

// Params implements nn.Parameterized.
func (e *Extractor) Params() []nn.Param {
	mods := []interface{}{e.PosEmbed, e.ObjHidden, e.ObjFinalize}
	if e.EmbedProbDist != nil {
		mods = append(mods, e.EmbedProbDist, e.EmbedPredLabel)
	}
	if e.RelUpDim != nil {
		mods = append(mods, e.RelUpDim)
	}
	if e.PairUpDim != nil {
		mods = append(mods, e.PairUpDim, e.RelFinalize)
	}
	if e.SpatialEmbed != nil {
		mods = append(mods, e.SpatialEmbed)
	}
	if e.Explicit != nil {
		mods = append(mods, e.Explicit)
	}
	return nn.CollectParams(mods...)
}

// Forward computes augmented object features and relation features.
//
// Arguments:
//   - objFeats: Appearance features of every proposal, (objects, in_channels).
//   - unionFeats: Union-region features of every pair, (pairs, in_channels).
//     Only read in union and fusion modes, and only when the batch has pairs.
//   - batch: The proposals and candidate pairs the rows belong to.
//
// Returns:
//   - *Output: Augmented object features and relation features.
//   - error: If a required proposal field is missing or a shape does not fit.
func (e *Extractor) Forward(objFeats, unionFeats *tensor.Dense, batch *scene.Batch) (*Output, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	if err := batch.CheckNonEmpty(); err != nil {
		return nil, err
	}
	numObjects := batch.NumObjects()
	if rows, cols, err := nn.Dims(objFeats); err != nil {
		return nil, errors.Wrap(err, "object features")
	} else if rows != numObjects || cols != e.cfg.InChannels {
		return nil, errors.Errorf("object features are (%d, %d), want (%d, %d)", rows, cols, numObjects, e.cfg.InChannels)
	}

	distEmbed, labelEmbed, err := e.labelEmbeddings(batch)
	if err != nil {
		return nil, err
	}

	infos := batch.NormalizedInfo()
	posEmbed, err := e.PosEmbed.Forward(geometry.InfoTensor(infos))
	if err != nil {
		return nil, err
	}

	pre, err := nn.ConcatCols(objFeats, distEmbed, posEmbed)
	if err != nil {
		return nil, errors.Wrap(err, "object pre-representation")
	}
	seed, err := e.ObjHidden.Forward(pre)
	if err != nil {
		return nil, err
	}
	augmented, err := nn.ConcatCols(labelEmbed, objFeats, seed)
	if err != nil {
		return nil, errors.Wrap(err, "augmented object feature")
	}

	var relations *tensor.Dense
	switch {
	case batch.NumPairs() == 0:
		relations = nn.Zeros(0, e.cfg.PoolingDim)
	case e.cfg.RelFeature == config.RelFeatureUnion:
		relations, err = e.union(unionFeats, batch.NumPairs())
	case e.cfg.RelFeature.UsesObjectPairs():
		relations, err = e.objectPairs(augmented, unionFeats, batch, infos)
	default:
		err = errors.Wrapf(config.ErrUnknownRelFeature, "%d", int(e.cfg.RelFeature))
	}
	if err != nil {
		return nil, err
	}

	objects, err := e.ObjFinalize.Forward(augmented)
	if err != nil {
		return nil, err
	}
	return &Output{Objects: objects, Relations: relations}, nil
}

// labelEmbeddings returns the distribution and predicted-label embeddings of
// every proposal, or two nils when word embeddings are off.
func (e *Extractor) labelEmbeddings(batch *scene.Batch) (dist, label *tensor.Dense, err error) {
	if !e.cfg.WordEmbedding {
		return nil, nil, nil
	}

	if e.cfg.Mode == config.ModePredCls {
		gt, err := collectLabels(batch, func(p *scene.Proposals) []int { return p.Labels }, "labels")
		if err != nil {
			return nil, nil, err
		}
		if dist, err = e.EmbedProbDist.Lookup(gt); err != nil {
			return nil, nil, err
		}
		if label, err = e.EmbedPredLabel.Lookup(gt); err != nil {
			return nil, nil, err
		}
		return dist, label, nil
	}

	logits, err := collectLogits(batch, e.cfg.NumObjClasses)
	if err != nil {
		return nil, nil, err
	}
	probs, err := nn.SoftmaxRows(logits)
	if err != nil {
		return nil, nil, err
	}
	if dist, err = e.EmbedProbDist.Weighted(probs); err != nil {
		return nil, nil, err
	}

	pred, err := collectLabels(batch, func(p *scene.Proposals) []int { return p.PredLabels }, "predicted labels")
	if err != nil {
		return nil, nil, err
	}
	if label, err = e.EmbedPredLabel.Lookup(pred); err != nil {
		return nil, nil, err
	}
	return dist, label, nil
}

// union returns the union features at the pooling width.
func (e *Extractor) union(unionFeats *tensor.Dense, numPairs int) (*tensor.Dense, error) {
	rows, cols, err := nn.Dims(unionFeats)
	if err != nil {
		return nil, errors.Wrap(err, "union features")
	}
	if rows != numPairs || cols != e.cfg.InChannels {
		return nil, errors.Errorf("union features are (%d, %d), want (%d, %d)", rows, cols, numPairs, e.cfg.InChannels)
	}
	if e.RelUpDim == nil {
		return unionFeats, nil
	}
	return e.RelUpDim.Forward(unionFeats)
}

// objectPairs builds relation features from the augmented object features
// of each pair's subject and object.
//
// In obj_pair mode the result is the explicit signal when that path is on and
// the projected pair feature otherwise. Fusion mode sums the union feature,
// the projected pair feature and the explicit signal.
func (e *Extractor) objectPairs(augmented, unionFeats *tensor.Dense, batch *scene.Batch, infos []geometry.Info) (*tensor.Dense, error) {
	index, err := scene.Flatten(batch.Pairs, batch.ObjectCounts())
	if err != nil {
		return nil, err
	}

	raw, explicit, err := e.pairwiseRelFeatures(augmented, index, infos)
	if err != nil {
		return nil, err
	}
	if e.cfg.RelFeature == config.RelFeatureObjPair && explicit != nil {
		return explicit, nil
	}
	projected, err := e.RelFinalize.Forward(raw)
	if err != nil {
		return nil, err
	}
	if e.cfg.RelFeature == config.RelFeatureObjPair {
		return projected, nil
	}

	union, err := e.union(unionFeats, index.NumPairs())
	if err != nil {
		return nil, err
	}
	rel, err := nn.Add(union, projected, explicit)
	if err != nil {
		return nil, errors.Wrap(err, "relation feature fusion")
	}
	return rel, nil
}

// pairwiseRelFeatures returns the raw (pairs, 2*hidden) pair feature and the
// explicit (pairs, pooling) signal, which is nil when the explicit path is off.
func (e *Extractor) pairwiseRelFeatures(augmented *tensor.Dense, index *scene.GlobalIndex, infos []geometry.Info) (raw, explicit *tensor.Dense, err error) {
	fused, err := e.PairUpDim.Forward(augmented)
	if err != nil {
		return nil, nil, err
	}
	headRep, tailRep, err := nn.SplitCols(fused, e.cfg.HiddenDim)
	if err != nil {
		return nil, nil, err
	}
	if headRep, err = nn.GatherRows(headRep, index.Subjects); err != nil {
		return nil, nil, errors.Wrap(err, "head representation")
	}
	if tailRep, err = nn.GatherRows(tailRep, index.Objects); err != nil {
		return nil, nil, errors.Wrap(err, "tail representation")
	}
	if raw, err = nn.ConcatCols(headRep, tailRep); err != nil {
		return nil, nil, err
	}

	if e.SpatialEmbed != nil {
		subjects := make([]geometry.Info, len(index.Subjects))
		objects := make([]geometry.Info, len(index.Objects))
		for k := range subjects {
			subjects[k], objects[k] = infos[index.Subjects[k]], infos[index.Objects[k]]
		}
		pairInfo, err := geometry.PairInfoTensor(subjects, objects)
		if err != nil {
			return nil, nil, err
		}
		gate, err := e.SpatialEmbed.Forward(pairInfo)
		if err != nil {
			return nil, nil, err
		}
		if raw, err = nn.Hadamard(raw, gate); err != nil {
			return nil, nil, errors.Wrap(err, "spatial gating")
		}
	}

	if e.Explicit == nil {
		return raw, nil, nil
	}
	ctx, err := nn.Hadamard(headRep, tailRep)
	if err != nil {
		return nil, nil, err
	}
	if explicit, err = e.Explicit.Encode(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "explicit pairwise")
	}
	return raw, explicit, nil
}

func collectLabels(batch *scene.Batch, field func(*scene.Proposals) []int, what string) ([]int, error) {
	out := make([]int, 0, batch.NumObjects())
	for i, img := range batch.Images {
		labels := field(img)
		if labels == nil && img.Len() > 0 {
			return nil, errors.Errorf("image %d has no %s", i, what)
		}
		out = append(out, labels...)
	}
	return out, nil
}

func collectLogits(batch *scene.Batch, classes int) (*tensor.Dense, error) {
	data := make([]float32, 0, batch.NumObjects()*classes)
	for i, img := range batch.Images {
		if img.Len() == 0 {
			continue
		}
		if img.Logits == nil {
			return nil, errors.Errorf("image %d has no logits", i)
		}
		rows, cols, err := nn.Dims(img.Logits)
		if err != nil {
			return nil, errors.Wrapf(err, "image %d logits", i)
		}
		if rows != img.Len() || cols != classes {
			return nil, errors.Errorf("image %d logits are (%d, %d), want (%d, %d)", i, rows, cols, img.Len(), classes)
		}
		data = append(data, nn.Values(img.Logits)...)
	}
	return nn.New(batch.NumObjects(), classes, data), nil
}
