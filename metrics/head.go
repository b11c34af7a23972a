package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stage names used as the "stage" label of the stage duration histogram.
const (
	StageNMS       = "nms"
	StageExtract   = "extract"
	StagePropagate = "propagate"
)

// Timings captures the cost of one forward pass.
type Timings struct {
	Total         time.Duration `json:"total"`
	NMS           time.Duration `json:"nms"`
	Extract       time.Duration `json:"extract"`
	Propagate     time.Duration `json:"propagate"`
	Objects       int           `json:"objects"`
	Pairs         int           `json:"pairs"`
	Rounds        int           `json:"rounds"`
	NMSAssigned   int           `json:"nms_assigned"`
	NMSSuppressed int           `json:"nms_suppressed"`
}

// Head holds the instruments of the relational head.
type Head struct {
	forwardSeconds prometheus.Histogram
	stageSeconds   *prometheus.HistogramVec
	objects        prometheus.Counter
	pairs          prometheus.Counter
	rounds         prometheus.Counter
	nmsAssigned    prometheus.Counter
	nmsSuppressed  prometheus.Counter
}

// NewHead creates and registers the head instruments on r.
func NewHead(r prometheus.Registerer) *Head {
	mr := Registry{R: r}
	return &Head{
		forwardSeconds: mr.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sgg",
			Subsystem: "relhead",
			Name:      "forward_duration_seconds",
			Help:      `The time it takes to run one batch through the relational head.`,
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		stageSeconds: mr.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sgg",
			Subsystem: "relhead",
			Name:      "stage_duration_seconds",
			Help: `The time spent in each stage of a forward pass.

The nms stage is only observed when labels had to be assigned from
per-class boxes.
`,
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"stage"}),
		objects: mr.NewCounter(prometheus.CounterOpts{
			Namespace: "sgg",
			Subsystem: "relhead",
			Name:      "objects_total",
			Help:      `The number of object proposals processed.`,
		}),
		pairs: mr.NewCounter(prometheus.CounterOpts{
			Namespace: "sgg",
			Subsystem: "relhead",
			Name:      "pairs_total",
			Help:      `The number of candidate pairs processed.`,
		}),
		rounds: mr.NewCounter(prometheus.CounterOpts{
			Namespace: "sgg",
			Subsystem: "msgpass",
			Name:      "rounds_total",
			Help:      `The number of message-passing rounds run.`,
		}),
		nmsAssigned: mr.NewCounter(prometheus.CounterOpts{
			Namespace: "sgg",
			Subsystem: "nms",
			Name:      "assigned_total",
			Help:      `The number of label assignment rounds that labeled an object.`,
		}),
		nmsSuppressed: mr.NewCounter(prometheus.CounterOpts{
			Namespace: "sgg",
			Subsystem: "nms",
			Name:      "suppressed_total",
			Help:      `The number of class probabilities zeroed by overlap suppression.`,
		}),
	}
}

// Observe records one forward pass. A nil Head records nothing.
func (h *Head) Observe(t Timings) {
	if h == nil {
		return
	}
	h.forwardSeconds.Observe(t.Total.Seconds())
	if t.NMS > 0 {
		h.stageSeconds.WithLabelValues(StageNMS).Observe(t.NMS.Seconds())
	}
	h.stageSeconds.WithLabelValues(StageExtract).Observe(t.Extract.Seconds())
	h.stageSeconds.WithLabelValues(StagePropagate).Observe(t.Propagate.Seconds())
	h.objects.Add(float64(t.Objects))
	h.pairs.Add(float64(t.Pairs))
	h.rounds.Add(float64(t.Rounds))
	h.nmsAssigned.Add(float64(t.NMSAssigned))
	h.nmsSuppressed.Add(float64(t.NMSSuppressed))
}
