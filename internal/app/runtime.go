package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dlgusgh4608/arbitrage/internal/band"
	"github.com/dlgusgh4608/arbitrage/internal/engine"
	"github.com/dlgusgh4608/arbitrage/internal/event"
	"github.com/dlgusgh4608/arbitrage/internal/execution"
	"github.com/dlgusgh4608/arbitrage/internal/feed"
	"github.com/dlgusgh4608/arbitrage/internal/infra"
	"github.com/dlgusgh4608/arbitrage/internal/infra/bitget"
	"github.com/dlgusgh4608/arbitrage/internal/infra/upbit"
	"github.com/dlgusgh4608/arbitrage/internal/ledger"
	"github.com/dlgusgh4608/arbitrage/internal/storage"
	"github.com/dlgusgh4608/arbitrage/internal/strategy"
)

const (
	tickBuffer    = 4096
	premiumBuffer = 256
)

type worker interface {
	Connect(ctx context.Context) error
	Disconnect()
}

type paperFeed struct {
	exchange *execution.PaperExchange
	in       chan event.Event
}

// Runtime is the fully wired trading process.
type Runtime struct {
	cfg        *infra.Config
	Supervisor *engine.Supervisor

	ticks      chan event.Event
	archive    chan event.Event
	aggregator *feed.Aggregator
	archiver   *feed.Archiver
	fx         *infra.ExchangeRateClient
	workers    []worker
	venues     []*execution.UserVenue
	papers     []paperFeed
}

// Build wires feeds, venues and one engine per (user, symbol). Ledgers are rehydrated in parallel
// before any engine exists.
func (b *Bootstrap) Build(ctx context.Context) (*Runtime, error) {
	cfg := b.Config
	symbols := cfg.Trading.Symbols

	r := &Runtime{
		cfg:        cfg,
		Supervisor: engine.NewSupervisor(),
		ticks:      make(chan event.Event, tickBuffer),
		archive:    make(chan event.Event, premiumBuffer),
	}
	r.aggregator = feed.NewAggregator(FeedConfig(cfg), symbols, b.Metrics)
	r.aggregator.SubscribeAll(r.archive)
	r.archiver = feed.NewArchiver(b.Store)
	r.fx = infra.NewExchangeRateClient(r.ticks, cfg.API.ExchangeRate.URL, cfg.API.ExchangeRate.PollIntervalSec)

	var seq uint64
	r.workers = []worker{
		upbit.NewWorker(cfg.API.Upbit.WSURL, symbols, r.ticks, &seq),
		bitget.NewFuturesWorker(cfg.API.Bitget.WSURL, TradedInstruments(cfg), r.ticks, &seq),
	}

	type pair struct {
		user   infra.UserConfig
		venue  *execution.UserVenue
		symbol string
		ledger *ledger.Ledger
	}
	var pairs []pair
	factory := execution.NewFactory(cfg)
	for _, user := range cfg.Trading.Users {
		venue, err := factory.Build(user, r.Supervisor.RouteUpdate)
		if err != nil {
			r.closeVenues()
			return nil, fmt.Errorf("venue %s: %w", user.ID, err)
		}
		r.venues = append(r.venues, venue)
		if venue.Paper != nil {
			pf := paperFeed{exchange: venue.Paper, in: make(chan event.Event, premiumBuffer)}
			r.aggregator.SubscribeAll(pf.in)
			r.papers = append(r.papers, pf)
		}
		for _, sym := range symbols {
			pairs = append(pairs, pair{user: user, venue: venue, symbol: sym, ledger: ledger.New(user.ID, sym, b.Store)})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pairs {
		l := p.ledger
		g.Go(func() error { return l.Load(gctx) })
	}
	if err := g.Wait(); err != nil {
		r.closeVenues()
		return nil, fmt.Errorf("rehydrate ledgers: %w", err)
	}

	estimator := band.NewEstimator(BandConfig(cfg), b.Store)
	stratCfg := StrategyConfig(cfg)
	for _, p := range pairs {
		strat, err := strategy.NewPremiumBand(p.symbol, stratCfg)
		if err != nil {
			r.closeVenues()
			return nil, err
		}
		eng, err := engine.New(EngineConfig(cfg, p.user.ID, p.symbol), engine.Deps{
			Venue:     p.venue.Venue,
			Band:      estimator,
			Ledger:    p.ledger,
			Strategy:  strat,
			Metrics:   b.Metrics,
			Snapshots: storage.NewSnapshotManager(b.Paths.SnapshotDir(p.user.ID, p.symbol)),
		})
		if err != nil {
			r.closeVenues()
			return nil, err
		}
		if err := r.Supervisor.Add(eng); err != nil {
			r.closeVenues()
			return nil, err
		}
		r.aggregator.Subscribe(p.symbol, eng.Inbox())
		slog.Info("✅ Engine ready",
			slog.String("user", p.user.ID),
			slog.String("symbol", p.symbol),
			slog.Int("open_positions", p.ledger.Len()))
	}
	return r, nil
}

// Run starts the feeds and engines and blocks until ctx ends or every engine has stopped.
func (r *Runtime) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, v := range r.venues {
		if err := v.Prepare(runCtx, r.cfg.Trading.Symbols, int(r.cfg.Trading.Leverage)); err != nil {
			r.closeVenues()
			return err
		}
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return ignoreCanceled(r.aggregator.Run(gctx, r.ticks)) })
	g.Go(func() error { return ignoreCanceled(r.archiver.Run(gctx, r.archive)) })
	for _, pf := range r.papers {
		g.Go(func() error { feedPaper(gctx, pf); return nil })
	}
	g.Go(func() error {
		defer cancel()
		return r.Supervisor.Run(gctx)
	})

	for _, v := range r.venues {
		if v.Stream != nil {
			_ = v.Stream.Connect(gctx)
		}
	}
	if err := r.fx.Start(gctx); err != nil {
		slog.Error("Failed to start exchange rate client", slog.Any("error", err))
	}
	for _, w := range r.workers {
		_ = w.Connect(gctx)
	}
	slog.Info("✨ Arbitrage engine fully operational. Press Ctrl+C to exit.")

	err := g.Wait()
	r.shutdown()
	return err
}

func (r *Runtime) shutdown() {
	slog.Info("👋 Shutting down feeds and venues...")
	var wg sync.WaitGroup
	for _, w := range r.workers {
		wg.Add(1)
		go func(w worker) {
			defer wg.Done()
			w.Disconnect()
		}(w)
	}
	wg.Wait()
	r.fx.Stop()
	r.closeVenues()
}

func (r *Runtime) closeVenues() {
	for _, v := range r.venues {
		v.Close()
	}
}

func feedPaper(ctx context.Context, pf paperFeed) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-pf.in:
			if pe, ok := ev.(*event.PremiumEvent); ok {
				pf.exchange.UpdatePremium(pe.Premium)
			}
		}
	}
}

// TradedInstruments returns the Bitget instrument of every traded symbol.
func TradedInstruments(cfg *infra.Config) map[string]string {
	out := make(map[string]string, len(cfg.Trading.Symbols))
	for _, sym := range cfg.Trading.Symbols {
		if id, ok := cfg.API.Bitget.Symbols[sym]; ok {
			out[sym] = id
		} else {
			out[sym] = sym + "USDT"
		}
	}
	return out
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
