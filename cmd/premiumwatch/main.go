package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dlgusgh4608/arbitrage/internal/app"
	"github.com/dlgusgh4608/arbitrage/internal/event"
	"github.com/dlgusgh4608/arbitrage/internal/feed"
	"github.com/dlgusgh4608/arbitrage/internal/infra"
	"github.com/dlgusgh4608/arbitrage/internal/infra/bitget"
	"github.com/dlgusgh4608/arbitrage/internal/infra/upbit"
)

// premiumwatch prints live premiums of the configured symbols. It places no orders and
// writes nothing.
func main() {
	configPath := flag.String("config", infra.ResolveConfigPath(), "path to config.yaml")
	flag.Parse()

	cfg := app.LoadConfigOrExit(*configPath)
	cfg.Logging.File = ""
	logger, _ := infra.NewLogger(cfg.Logging, "")
	slog.SetDefault(logger)
	event.Warmup(256)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticks := make(chan event.Event, 4096)
	premiums := make(chan event.Event, 256)

	agg := feed.NewAggregator(app.FeedConfig(cfg), cfg.Trading.Symbols, nil)
	agg.SubscribeAll(premiums)

	var seq uint64
	upbitWorker := upbit.NewWorker(cfg.API.Upbit.WSURL, cfg.Trading.Symbols, ticks, &seq)
	bitgetWorker := bitget.NewFuturesWorker(cfg.API.Bitget.WSURL, app.TradedInstruments(cfg), ticks, &seq)
	fx := infra.NewExchangeRateClient(ticks, cfg.API.ExchangeRate.URL, cfg.API.ExchangeRate.PollIntervalSec)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return agg.Run(gctx, ticks) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case ev := <-premiums:
				if pe, ok := ev.(*event.PremiumEvent); ok {
					p := pe.Premium
					fmt.Printf("%s %-6s premium %8s%%  upbit ₩%s  bitget $%s  fx %s  skew %s\n",
						time.Now().Format("15:04:05"), p.Symbol, p.Premium, p.DomesticPrice, p.OverseasPrice,
						p.FxRate, p.Skew().Truncate(time.Millisecond))
				}
			}
		}
	})

	if err := fx.Start(gctx); err != nil {
		slog.Error("Failed to start exchange rate client", slog.Any("error", err))
	}
	defer fx.Stop()
	if err := upbitWorker.Connect(gctx); err != nil {
		slog.Error("Failed to connect Upbit", slog.Any("error", err))
	}
	defer upbitWorker.Disconnect()
	if err := bitgetWorker.Connect(gctx); err != nil {
		slog.Error("Failed to connect Bitget Futures", slog.Any("error", err))
	}
	defer bitgetWorker.Disconnect()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("premiumwatch stopped", slog.Any("error", err))
	}
}
