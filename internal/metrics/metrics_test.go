package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Tick("BTC", "DOMESTIC")
	m.Tick("BTC", "DOMESTIC")
	m.Order("u1", "BTC", "submitted")
	m.EngineState("u1", "BTC", 2)

	if got := testutil.ToFloat64(m.ticks.WithLabelValues("BTC", "DOMESTIC")); got != 2 {
		t.Errorf("ticks = %v; want 2", got)
	}
	if got := testutil.ToFloat64(m.engineState.WithLabelValues("u1", "BTC")); got != 2 {
		t.Errorf("engine state = %v; want 2", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("no metric families gathered")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Tick("BTC", "OVERSEAS")
	m.PremiumResult("BTC", "stale")
	m.PremiumValue("BTC", 1.5)
	m.EngineTick("u1", "BTC", "evaluated")
	m.Decision("u1", "BTC", "BUY", "entry")
	m.Order("u1", "BTC", "filled")
	m.EngineState("u1", "BTC", 0)
	m.OpenPositions("u1", "BTC", 1)
	m.BandRefresh("BTC", "ok")
}
