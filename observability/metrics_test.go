package observability_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dnlfm/done/observability"
)

func TestRecordDeliveryIncrementsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	m.RecordDelivery("sent", 0.25)
	m.RecordDelivery("sent", 0.5)
	m.RecordDelivery("failed", 1.0)

	if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("sent")); got != 2 {
		t.Fatalf("sent counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed counter = %v, want 1", got)
	}
}

func TestNewMetricsRegistersUnderASeparateRegistry(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()

	if observability.NewMetrics(reg1) == nil || observability.NewMetrics(reg2) == nil {
		t.Fatal("NewMetrics should not panic when called against independent registries")
	}
}
