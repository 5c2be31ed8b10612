package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.uber.org/multierr"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/internal/event"
	"github.com/dlgusgh4608/arbitrage/internal/metrics"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// Publish modes.
const (
	ModeInterval = "interval"
	ModeTick     = "tick"
)

// Config controls when premiums are emitted and which inputs are trusted.
type Config struct {
	Mode            string
	PublishInterval time.Duration
	StalenessLimit  time.Duration
	MinFxRate       quant.PriceMicros
}

// DefaultConfig publishes once a second with a 60s leg skew limit.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeInterval,
		PublishInterval: time.Second,
		StalenessLimit:  60 * time.Second,
		MinFxRate:       quant.ToPriceMicros(1000),
	}
}

type legs struct {
	domestic domain.Tick
	overseas domain.Tick
}

// Aggregator merges domestic ticks, overseas ticks and the FX rate into Premium events.
// It is owned by one goroutine (Run). Tests drive it through the On* methods and Publish.
type Aggregator struct {
	cfg     Config
	symbols map[string]*legs
	fx      quant.PriceMicros
	subs    map[string][]chan<- event.Event
	all     []chan<- event.Event
	seq     uint64
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewAggregator creates an aggregator tracking the given symbols.
func NewAggregator(cfg Config, symbols []string, m *metrics.Metrics) *Aggregator {
	a := &Aggregator{
		cfg:     cfg,
		symbols: make(map[string]*legs, len(symbols)),
		subs:    make(map[string][]chan<- event.Event),
		metrics: m,
		now:     time.Now,
	}
	for _, s := range symbols {
		a.symbols[s] = &legs{}
	}
	return a
}

// Subscribe delivers premiums of one symbol to ch. Delivery never blocks: a full channel drops the event.
func (a *Aggregator) Subscribe(symbol string, ch chan<- event.Event) {
	a.subs[symbol] = append(a.subs[symbol], ch)
}

// SubscribeAll delivers premiums of every symbol to ch.
func (a *Aggregator) SubscribeAll(ch chan<- event.Event) {
	a.all = append(a.all, ch)
}

// OnDomesticTick records the latest domestic trade. In tick mode it publishes that symbol.
func (a *Aggregator) OnDomesticTick(t domain.Tick) {
	l, ok := a.symbols[t.Symbol]
	if !ok || !t.Valid() {
		return
	}
	if t.TradeAt.Before(l.domestic.TradeAt) {
		return
	}
	l.domestic = t
	a.metrics.Tick(t.Symbol, domain.LegDomestic.String())

	if a.cfg.Mode == ModeTick {
		if _, err := a.publishOne(t.Symbol); err != nil {
			slog.Debug("premium skipped", slog.String("symbol", t.Symbol), slog.Any("error", err))
		}
	}
}

// OnOverseasTick records the latest overseas trade.
func (a *Aggregator) OnOverseasTick(t domain.Tick) {
	l, ok := a.symbols[t.Symbol]
	if !ok || !t.Valid() {
		return
	}
	if t.TradeAt.Before(l.overseas.TradeAt) {
		return
	}
	l.overseas = t
	a.metrics.Tick(t.Symbol, domain.LegOverseas.String())
}

// OnFxRate replaces the FX rate. Rates below MinFxRate are bootstrap garbage and ignored.
func (a *Aggregator) OnFxRate(rate quant.PriceMicros) {
	if rate < a.cfg.MinFxRate {
		slog.Warn("FX rate rejected", slog.String("rate", rate.String()), slog.String("min", a.cfg.MinFxRate.String()))
		return
	}
	a.fx = rate
}

// FxRate returns the last accepted FX rate.
func (a *Aggregator) FxRate() quant.PriceMicros { return a.fx }

// Publish emits a premium for every symbol with both legs. Stale symbols are skipped and
// their StaleDataErrors are combined into the returned error.
func (a *Aggregator) Publish() ([]domain.Premium, error) {
	names := make([]string, 0, len(a.symbols))
	for s := range a.symbols {
		names = append(names, s)
	}
	sort.Strings(names)

	var (
		out  []domain.Premium
		errs error
	)
	for _, s := range names {
		p, err := a.publishOne(s)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if p != nil {
			out = append(out, *p)
		}
	}
	return out, errs
}

// publishOne returns nil, nil when the symbol is not ready yet.
func (a *Aggregator) publishOne(symbol string) (*domain.Premium, error) {
	l := a.symbols[symbol]
	if l.domestic.Price == 0 || l.overseas.Price == 0 {
		a.metrics.PremiumResult(symbol, "incomplete")
		return nil, nil
	}
	if a.fx < a.cfg.MinFxRate {
		a.metrics.PremiumResult(symbol, "no_fx")
		return nil, nil
	}

	p := domain.NewPremium(symbol, l.domestic, l.overseas, a.fx)
	if skew := p.Skew(); skew > a.cfg.StalenessLimit {
		a.metrics.PremiumResult(symbol, "stale")
		return nil, &domain.StaleDataError{Symbol: symbol, Skew: skew, Limit: a.cfg.StalenessLimit}
	}

	a.metrics.PremiumResult(symbol, "published")
	a.metrics.PremiumValue(symbol, p.Premium.Float64())
	a.fanout(p)
	return &p, nil
}

func (a *Aggregator) fanout(p domain.Premium) {
	ts := quant.TimeStampOf(a.now())
	deliver := func(ch chan<- event.Event) {
		ev := &event.PremiumEvent{
			BaseEvent: event.BaseEvent{Seq: quant.NextSeq(&a.seq), Ts: ts},
			Premium:   p,
		}
		select {
		case ch <- ev:
		default:
		}
	}
	for _, ch := range a.subs[p.Symbol] {
		deliver(ch)
	}
	for _, ch := range a.all {
		deliver(ch)
	}
}

// Run consumes tick and FX events until ctx is done.
func (a *Aggregator) Run(ctx context.Context, in <-chan event.Event) error {
	var tick <-chan time.Time
	if a.cfg.Mode != ModeTick {
		if a.cfg.PublishInterval <= 0 {
			return fmt.Errorf("feed: publish interval must be positive, got %s", a.cfg.PublishInterval)
		}
		t := time.NewTicker(a.cfg.PublishInterval)
		defer t.Stop()
		tick = t.C
	}

	slog.Info("📈 Premium aggregator started",
		slog.String("mode", a.cfg.Mode),
		slog.Int("symbols", len(a.symbols)),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if _, err := a.Publish(); err != nil {
				slog.Warn("premium publish skipped symbols", slog.Any("error", err))
			}
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			a.handle(ev)
		}
	}
}

func (a *Aggregator) handle(ev event.Event) {
	switch e := ev.(type) {
	case *event.TickEvent:
		switch e.Leg {
		case domain.LegDomestic:
			a.OnDomesticTick(e.Tick)
		case domain.LegOverseas:
			a.OnOverseasTick(e.Tick)
		}
		event.ReleaseTickEvent(e)
	case *event.FxRateEvent:
		a.OnFxRate(e.Rate)
	default:
		slog.Warn("aggregator ignored event", slog.String("type", ev.GetType().String()))
	}
}
