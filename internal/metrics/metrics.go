// Package metrics records cycle and cache warmup instrumentation.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cycle outcomes reported to CycleFinished.
const (
	OutcomeActivated = "activated"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// Collector receives instrumentation events from the cycle pipeline.
type Collector interface {
	CycleFinished(campusID int64, outcome string, d time.Duration)
	CycleSkipped(campusID int64)
	Candidates(campusID int64, stage string, n int)
	WarmupOps(n int)
	DirtyRecomputed(users int)
}

// Nop discards all metrics.
type Nop struct{}

var _ Collector = Nop{}

// NewNop returns a Collector that records nothing.
func NewNop() Nop { return Nop{} }

func (Nop) CycleFinished(int64, string, time.Duration) {}
func (Nop) CycleSkipped(int64) {}
func (Nop) Candidates(int64, string, int) {}
func (Nop) WarmupOps(int) {}
func (Nop) DirtyRecomputed(int) {}

// Prometheus implements Collector with client_golang vectors.
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	skipped       *prometheus.CounterVec
	candidates    *prometheus.GaugeVec
	warmupOps     prometheus.Counter
	dirtyUsers    prometheus.Counter
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates a collector registered on reg (prometheus.DefaultRegisterer
// when nil) under namespace ("solmeal" when empty).
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "solmeal"
	}
	p := &Prometheus{reg: reg, namespace: namespace}
	p.ensureRegistered()
	return p
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Clustering cycles by campus and outcome.",
		}, []string{"campus", "outcome"})

		p.cycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Wall time of a full clustering cycle.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"campus"})

		p.skipped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "cycle",
			Name:      "skipped_total",
			Help:      "Triggers suppressed because a cycle was still running.",
		}, []string{"campus"})

		p.candidates = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "cycle",
			Name:      "candidates",
			Help:      "Candidates remaining after each pipeline stage of the last cycle.",
		}, []string{"campus", "stage"})

		p.warmupOps = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "cache",
			Name:      "warmup_ops_total",
			Help:      "Cache writes issued by snapshot warmup.",
		})

		p.dirtyUsers = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "availability",
			Name:      "recomputed_users_total",
			Help:      "Users whose availability bitsets were recomputed.",
		})

		p.reg.MustRegister(p.cycles, p.cycleDuration, p.skipped, p.candidates, p.warmupOps, p.dirtyUsers)
	})
}

func campusLabel(campusID int64) string {
	return strconv.FormatInt(campusID, 10)
}

func (p *Prometheus) CycleFinished(campusID int64, outcome string, d time.Duration) {
	c := campusLabel(campusID)
	p.cycles.WithLabelValues(c, outcome).Inc()
	p.cycleDuration.WithLabelValues(c).Observe(d.Seconds())
}

func (p *Prometheus) CycleSkipped(campusID int64) {
	p.skipped.WithLabelValues(campusLabel(campusID)).Inc()
}

func (p *Prometheus) Candidates(campusID int64, stage string, n int) {
	p.candidates.WithLabelValues(campusLabel(campusID), stage).Set(float64(n))
}

func (p *Prometheus) WarmupOps(n int) {
	p.warmupOps.Add(float64(n))
}

func (p *Prometheus) DirtyRecomputed(users int) {
	p.dirtyUsers.Add(float64(users))
}
