package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dlgusgh4608/arbitrage/internal/band"
	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/internal/engine"
	"github.com/dlgusgh4608/arbitrage/internal/event"
	"github.com/dlgusgh4608/arbitrage/internal/execution"
	"github.com/dlgusgh4608/arbitrage/internal/ledger"
	"github.com/dlgusgh4608/arbitrage/internal/strategy"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// SampleSource reads the archived premiums of one symbol, oldest first.
type SampleSource interface {
	SamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]domain.PremiumSample, error)
}

// Config describes one replay run.
type Config struct {
	UserID   string
	Symbol   string
	From, To time.Time

	Engine   engine.Config
	Strategy strategy.Config
	Band     band.Config
	Paper    execution.PaperConfig
	KRW      quant.PriceMicros
	USDT     quant.PriceMicros
}

// Report summarizes a finished replay.
type Report struct {
	Samples       int
	Submitted     int
	Filled        int
	Canceled      int
	OpenPositions int
	Wallet        domain.WalletSnapshot
	Holding       quant.QtySats
	Short         quant.QtySats
	Halted        error
}

// Replayer feeds archived premium samples through one engine and a paper exchange in virtual time.
// Positions go to the ledger store given to Run.
type Replayer struct {
	src SampleSource
}

// NewReplayer creates a replayer reading from src.
func NewReplayer(src SampleSource) *Replayer {
	return &Replayer{src: src}
}

// Run replays [cfg.From, cfg.To). The band history window starts StartupLookback minutes earlier.
func (r *Replayer) Run(ctx context.Context, cfg Config, positions ledger.Store) (Report, error) {
	if !cfg.From.Before(cfg.To) {
		return Report{}, fmt.Errorf("backtest: empty range %s..%s", cfg.From, cfg.To)
	}
	warmup := time.Duration(cfg.Engine.StartupLookback) * time.Minute
	samples, err := r.src.SamplesBetween(ctx, cfg.Symbol, cfg.From.Add(-warmup), cfg.To)
	if err != nil {
		return Report{}, err
	}

	clock := engine.NewManualClock(cfg.From)
	hist := &history{samples: samples, now: clock.Now}
	paper := execution.NewPaperExchange(cfg.UserID, cfg.Paper, cfg.KRW, cfg.USDT)

	var (
		rep     Report
		updates []domain.OrderUpdate
	)
	paper.OnUpdate(func(_ string, u domain.OrderUpdate) {
		updates = append(updates, u)
	})

	l := ledger.New(cfg.UserID, cfg.Symbol, positions)
	if err := l.Load(ctx); err != nil {
		return Report{}, err
	}
	strat, err := strategy.NewPremiumBand(cfg.Symbol, cfg.Strategy)
	if err != nil {
		return Report{}, err
	}
	counted := &countingOrders{OrderGateway: paper}
	eng, err := engine.New(cfg.Engine, engine.Deps{
		Venue:    execution.Venue{Orders: counted, Hedge: paper, Wallet: paper},
		Band:     band.NewEstimator(cfg.Band, hist).WithClock(clock.Now),
		Ledger:   l,
		Strategy: strat,
		Clock:    clock,
	}, engine.WithSyncCalls())
	if err != nil {
		return Report{}, err
	}

	// deliver hands queued execution reports to the engine. Reports raised while the engine
	// is inside a call are queued and delivered here, after the call returns.
	deliver := func() error {
		for len(updates) > 0 {
			u := updates[0]
			updates = updates[1:]
			switch u.Status {
			case domain.StatusFilled:
				rep.Filled++
			case domain.StatusCanceled:
				rep.Canceled++
			}
			if err := eng.Handle(&event.OrderUpdateEvent{UserID: cfg.UserID, Update: u}); err != nil {
				if domain.IsFatal(err) || errors.Is(err, engine.ErrHalted) {
					return err
				}
				slog.Debug("Replay update rejected", slog.Any("error", err))
			}
		}
		return nil
	}
	finish := func(halted error) (Report, error) {
		rep.Submitted = counted.n
		return summarize(ctx, rep, paper, l, cfg.Symbol, halted)
	}
	step := func(err error) error {
		if err != nil && (domain.IsFatal(err) || errors.Is(err, engine.ErrHalted)) {
			return err
		}
		return deliver()
	}

	if err := step(eng.Start(ctx)); err != nil {
		return finish(err)
	}

	for _, s := range samples {
		if s.Minute.Before(cfg.From) {
			continue
		}
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Samples++

		// resting orders see the new prices before the engine's timers catch up with them
		p := premiumOf(s)
		paper.UpdatePremium(p)
		if err := deliver(); err != nil {
			return finish(err)
		}
		clock.Set(s.Minute)
		if err := step(eng.FireTimers()); err != nil {
			return finish(err)
		}
		if err := step(eng.Handle(&event.PremiumEvent{Premium: p})); err != nil {
			return finish(err)
		}
	}
	return finish(nil)
}

func summarize(ctx context.Context, rep Report, paper *execution.PaperExchange, l *ledger.Ledger, symbol string, halted error) (Report, error) {
	rep.Halted = halted
	rep.OpenPositions = l.Len()
	rep.Holding = paper.Holding(symbol)
	rep.Short = paper.Short(symbol)
	w, err := paper.Refresh(ctx)
	if err != nil {
		return rep, err
	}
	rep.Wallet = w
	slog.Info("BACKTEST_FINISHED",
		slog.String("symbol", symbol),
		slog.Int("samples", rep.Samples),
		slog.Int("filled", rep.Filled),
		slog.Int("open_positions", rep.OpenPositions),
		slog.String("krw", w.DomesticAvailable.String()),
		slog.String("usdt", w.OverseasAvailable.String()),
		slog.Any("halted", halted))
	return rep, nil
}

// premiumOf rebuilds the premium an archived sample was taken from.
func premiumOf(s domain.PremiumSample) domain.Premium {
	return domain.Premium{
		Symbol:          s.Symbol,
		DomesticPrice:   s.DomesticPrice,
		OverseasPrice:   s.OverseasPrice,
		FxRate:          s.FxRate,
		Premium:         s.Premium,
		DomesticTradeAt: s.DomesticTradeAt,
		OverseasTradeAt: s.OverseasTradeAt,
	}
}

// history serves band lookbacks from the loaded samples without looking past the replay clock.
type history struct {
	samples []domain.PremiumSample // oldest first
	now     func() time.Time
}

func (h *history) RecentSamples(_ context.Context, symbol string, limit int) ([]domain.PremiumSample, error) {
	now := h.now()
	end := sort.Search(len(h.samples), func(i int) bool { return h.samples[i].Minute.After(now) })
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]domain.PremiumSample, 0, end-start)
	for i := end - 1; i >= start; i-- {
		if h.samples[i].Symbol == symbol {
			out = append(out, h.samples[i])
		}
	}
	return out, nil
}

type countingOrders struct {
	execution.OrderGateway
	n int
}

func (c *countingOrders) Submit(ctx context.Context, in domain.OrderIntent) (domain.OrderAck, error) {
	c.n++
	return c.OrderGateway.Submit(ctx, in)
}
