package node

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	if m.BlocksProduced == nil || m.SubscriberDrops == nil {
		t.Fatalf("expected metrics to be constructed")
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 10 {
		t.Fatalf("expected 10 registered collectors, got %d", len(families))
	}
}

func TestByzantineReportsCounterIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ByzantineReports.Inc()
	m.ByzantineReports.Inc()
	if got := counterValue(t, m.ByzantineReports); got != 2 {
		t.Fatalf("expected counter value 2, got %v", got)
	}
}
