package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/dlgusgh4608/arbitrage/internal/band"
	"github.com/dlgusgh4608/arbitrage/internal/engine"
	"github.com/dlgusgh4608/arbitrage/internal/event"
	"github.com/dlgusgh4608/arbitrage/internal/feed"
	"github.com/dlgusgh4608/arbitrage/internal/infra"
	"github.com/dlgusgh4608/arbitrage/internal/metrics"
	"github.com/dlgusgh4608/arbitrage/internal/storage"
	"github.com/dlgusgh4608/arbitrage/internal/strategy"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// Bootstrap orchestrates the process startup sequence and owns the shared resources.
type Bootstrap struct {
	Config   *infra.Config
	Paths    infra.Paths
	Store    *storage.Store
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	logCloser io.Closer
	unlock    func()
}

func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config, installs the logger, takes the instance lock and opens the store.
func (b *Bootstrap) Initialize(configPath string) error {
	event.Warmup(256)

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	paths, err := infra.ResolvePaths(cfg)
	if err != nil {
		return err
	}
	b.Paths = paths

	logger, closer := infra.NewLogger(cfg.Logging, paths.Logs)
	slog.SetDefault(logger)
	b.logCloser = closer
	slog.Info("🚀 Bootstrapping arbitrage engine...",
		slog.String("mode", cfg.Trading.Mode),
		slog.String("config", configPath))

	unlock, err := infra.CreateLockFile(paths.Root)
	if err != nil {
		return err
	}
	b.unlock = unlock

	store, err := storage.Open(paths.DBPath)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("✅ Store ready", slog.String("path", paths.DBPath))

	b.Registry = prometheus.NewRegistry()
	b.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	b.Metrics = metrics.New(b.Registry)

	if err := b.Store.UpsertMetadata(context.Background(), "last_start", time.Now().UTC().Format(time.RFC3339), time.Now().UnixMicro()); err != nil {
		slog.Warn("Failed to record start time", slog.Any("error", err))
	}
	return nil
}

// Close releases the store, the log file and the instance lock.
func (b *Bootstrap) Close() error {
	var errs error
	if b.Store != nil {
		errs = multierr.Append(errs, b.Store.Close())
	}
	if b.unlock != nil {
		b.unlock()
	}
	if b.logCloser != nil {
		errs = multierr.Append(errs, b.logCloser.Close())
	}
	return errs
}

// FeedConfig maps the feed section.
func FeedConfig(cfg *infra.Config) feed.Config {
	c := feed.DefaultConfig()
	c.Mode = cfg.Feed.Mode
	c.PublishInterval = time.Duration(cfg.Feed.PublishIntervalMS) * time.Millisecond
	c.StalenessLimit = time.Duration(cfg.Feed.StalenessLimitSec) * time.Second
	return c
}

// BandConfig maps the band section.
func BandConfig(cfg *infra.Config) band.Config {
	c := band.DefaultConfig()
	if cfg.Band.MinSamples > 0 {
		c.MinSamples = cfg.Band.MinSamples
	}
	return c
}

// StrategyConfig maps the trading thresholds.
func StrategyConfig(cfg *infra.Config) strategy.Config {
	c := strategy.DefaultConfig()
	t := cfg.Trading
	c.MinProfitRate = quant.ToPct(t.MinProfitRate)
	c.StopLoss = quant.ToPct(t.StopLoss)
	c.SafetyPercent = quant.ToPct(t.SafetyPercent)
	c.OrderStairs = t.OrderStairs
	c.Leverage = t.Leverage
	c.QtyDecimals = t.QtyDecimals
	return c
}

// EngineConfig returns the engine settings of (userID, symbol).
func EngineConfig(cfg *infra.Config, userID, symbol string) engine.Config {
	c := engine.DefaultConfig(userID, symbol)
	c.StartupLookback = cfg.Band.StartupLookbackMin
	c.RefreshLookback = cfg.Band.RefreshLookbackMin
	c.BandRefreshInterval = time.Duration(cfg.Band.RefreshIntervalMin) * time.Minute
	return c
}

// LoadConfigOrExit is used by the CLIs that only need the config.
func LoadConfigOrExit(path string) *infra.Config {
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
