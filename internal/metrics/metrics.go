// Package metrics holds the Prometheus collectors of the trading process.
//
//   - arb_ticks_total{symbol,leg}                 trade prints received
//   - arb_premiums_total{symbol,result}           publish outcomes (published|stale|no_fx|incomplete)
//   - arb_premium_pct{symbol}                     latest published premium
//   - arb_engine_ticks_total{user,symbol,result}  premiums seen by engines (evaluated|dropped_locked)
//   - arb_decisions_total{user,symbol,hedge,reason}
//   - arb_orders_total{user,symbol,outcome}       order lifecycle outcomes
//   - arb_engine_state{user,symbol}               0 idle, 1 in flight, 2 wallet blocked, 3 halted
//   - arb_open_positions{user,symbol}
//   - arb_band_refresh_total{symbol,result}
//
// Collectors are constructed per process and passed to components. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ticks         *prometheus.CounterVec
	premiums      *prometheus.CounterVec
	premiumPct    *prometheus.GaugeVec
	engineTicks   *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	orders        *prometheus.CounterVec
	engineState   *prometheus.GaugeVec
	openPositions *prometheus.GaugeVec
	bandRefresh   *prometheus.CounterVec
}

// New builds the collectors and registers them on reg. A nil reg skips registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arb_ticks_total", Help: "Trade prints received per leg"},
			[]string{"symbol", "leg"},
		),
		premiums: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arb_premiums_total", Help: "Premium publish outcomes"},
			[]string{"symbol", "result"},
		),
		premiumPct: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "arb_premium_pct", Help: "Latest published premium in percent"},
			[]string{"symbol"},
		),
		engineTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arb_engine_ticks_total", Help: "Premium events seen by engines"},
			[]string{"user", "symbol", "result"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arb_decisions_total", Help: "Order intents produced"},
			[]string{"user", "symbol", "hedge", "reason"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arb_orders_total", Help: "Order lifecycle outcomes"},
			[]string{"user", "symbol", "outcome"},
		),
		engineState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "arb_engine_state", Help: "Engine state (0 idle, 1 in flight, 2 wallet blocked, 3 halted)"},
			[]string{"user", "symbol"},
		),
		openPositions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "arb_open_positions", Help: "Open positions in the ledger"},
			[]string{"user", "symbol"},
		),
		bandRefresh: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arb_band_refresh_total", Help: "Band refresh outcomes"},
			[]string{"symbol", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.premiums, m.premiumPct, m.engineTicks, m.decisions,
			m.orders, m.engineState, m.openPositions, m.bandRefresh)
	}
	return m
}

func (m *Metrics) Tick(symbol, leg string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(symbol, leg).Inc()
}

func (m *Metrics) PremiumResult(symbol, result string) {
	if m == nil {
		return
	}
	m.premiums.WithLabelValues(symbol, result).Inc()
}

func (m *Metrics) PremiumValue(symbol string, pct float64) {
	if m == nil {
		return
	}
	m.premiumPct.WithLabelValues(symbol).Set(pct)
}

func (m *Metrics) EngineTick(user, symbol, result string) {
	if m == nil {
		return
	}
	m.engineTicks.WithLabelValues(user, symbol, result).Inc()
}

func (m *Metrics) Decision(user, symbol, hedge, reason string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(user, symbol, hedge, reason).Inc()
}

func (m *Metrics) Order(user, symbol, outcome string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(user, symbol, outcome).Inc()
}

func (m *Metrics) EngineState(user, symbol string, state int) {
	if m == nil {
		return
	}
	m.engineState.WithLabelValues(user, symbol).Set(float64(state))
}

func (m *Metrics) OpenPositions(user, symbol string, n int) {
	if m == nil {
		return
	}
	m.openPositions.WithLabelValues(user, symbol).Set(float64(n))
}

func (m *Metrics) BandRefresh(symbol, result string) {
	if m == nil {
		return
	}
	m.bandRefresh.WithLabelValues(symbol, result).Inc()
}
