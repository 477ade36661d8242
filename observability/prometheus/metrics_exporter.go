package prometheus

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/flywheel-go/dispatch/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors, covering
// every counter the core substrate tracks.
type MetricsExporter struct {
	dispatchDurationSeconds *prom.HistogramVec
	panicTotal              *prom.CounterVec
	rejectedTotal           *prom.CounterVec
	queueDepth              *prom.GaugeVec
	claimsInUse             *prom.GaugeVec
	maxClaims               *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors backing
// core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "dispatch"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Dispatched task duration in seconds.",
		Buckets:   buckets,
	}, []string{"owner", "priority"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "panic_total",
		Help:      "Total number of task panics.",
	}, []string{"owner"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "rejected_total",
		Help:      "Total number of rejected submissions.",
	}, []string{"owner", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current priority wait-queue depth.",
	}, []string{"owner"})
	claimsVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "claims_in_use",
		Help:      "Current claims held on a Semaphore-backed owner.",
	}, []string{"owner"})
	maxClaimsVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "max_claims",
		Help:      "Configured admission cap on a Semaphore-backed owner.",
	}, []string{"owner"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if claimsVec, err = registerCollector(reg, claimsVec); err != nil {
		return nil, err
	}
	if maxClaimsVec, err = registerCollector(reg, maxClaimsVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		dispatchDurationSeconds: durationVec,
		panicTotal:              panicVec,
		rejectedTotal:           rejectedVec,
		queueDepth:              queueDepthVec,
		claimsInUse:             claimsVec,
		maxClaims:               maxClaimsVec,
	}, nil
}

func (m *MetricsExporter) RecordDispatchDuration(ownerName string, priority int, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDurationSeconds.WithLabelValues(normalizeLabel(ownerName, "unknown"), strconv.Itoa(priority)).Observe(d.Seconds())
}

func (m *MetricsExporter) RecordPanic(ownerName string) {
	if m == nil {
		return
	}
	m.panicTotal.WithLabelValues(normalizeLabel(ownerName, "unknown")).Inc()
}

func (m *MetricsExporter) RecordQueueDepth(ownerName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(ownerName, "unknown")).Set(float64(depth))
}

func (m *MetricsExporter) RecordRejected(ownerName string, reason string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(normalizeLabel(ownerName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

func (m *MetricsExporter) RecordClaims(ownerName string, claims, maxClaims int) {
	if m == nil {
		return
	}
	m.claimsInUse.WithLabelValues(normalizeLabel(ownerName, "unknown")).Set(float64(claims))
	m.maxClaims.WithLabelValues(normalizeLabel(ownerName, "unknown")).Set(float64(maxClaims))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
