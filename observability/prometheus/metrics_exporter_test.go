package prometheus

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("dispatch", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordDispatchDuration("queue-a", 0, 250*time.Millisecond)
	exporter.RecordPanic("queue-a")
	exporter.RecordQueueDepth("queue-a", 7)
	exporter.RecordRejected("queue-a", "shutdown")
	exporter.RecordClaims("queue-a", 2, 4)

	panicTotal := testutil.ToFloat64(exporter.panicTotal.WithLabelValues("queue-a"))
	if panicTotal != 1 {
		t.Fatalf("panic total = %v, want 1", panicTotal)
	}

	queueDepth := testutil.ToFloat64(exporter.queueDepth.WithLabelValues("queue-a"))
	if queueDepth != 7 {
		t.Fatalf("queue depth = %v, want 7", queueDepth)
	}

	rejected := testutil.ToFloat64(exporter.rejectedTotal.WithLabelValues("queue-a", "shutdown"))
	if rejected != 1 {
		t.Fatalf("rejected total = %v, want 1", rejected)
	}

	claims := testutil.ToFloat64(exporter.claimsInUse.WithLabelValues("queue-a"))
	if claims != 2 {
		t.Fatalf("claims in use = %v, want 2", claims)
	}
	maxClaims := testutil.ToFloat64(exporter.maxClaims.WithLabelValues("queue-a"))
	if maxClaims != 4 {
		t.Fatalf("max claims = %v, want 4", maxClaims)
	}

	histCount, err := histogramSampleCount(exporter.dispatchDurationSeconds.WithLabelValues("queue-a", "0"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if histCount != 1 {
		t.Fatalf("duration sample count = %d, want 1", histCount)
	}
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("dispatch", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	second, err := NewMetricsExporter("dispatch", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewMetricsExporter failed: %v", err)
	}

	first.RecordPanic("queue-a")
	second.RecordPanic("queue-a")

	got := testutil.ToFloat64(first.panicTotal.WithLabelValues("queue-a"))
	if got != 2 {
		t.Fatalf("shared panic counter = %v, want 2", got)
	}
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}

	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
