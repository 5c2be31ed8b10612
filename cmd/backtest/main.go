package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"github.com/dlgusgh4608/arbitrage/backtest"
	"github.com/dlgusgh4608/arbitrage/internal/app"
	"github.com/dlgusgh4608/arbitrage/internal/execution"
	"github.com/dlgusgh4608/arbitrage/internal/infra"
	"github.com/dlgusgh4608/arbitrage/internal/storage"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

func main() {
	configPath := flag.String("config", infra.ResolveConfigPath(), "path to config.yaml")
	dbPath := flag.String("db", "", "sample archive to replay (default: the configured store)")
	outPath := flag.String("out", "", "sqlite file receiving the simulated positions (default: a temp file)")
	symbol := flag.String("symbol", "BTC", "symbol to replay")
	fromStr := flag.String("from", "", "replay start, RFC3339 (default: 24h before -to)")
	toStr := flag.String("to", "", "replay end, RFC3339 (default: now)")
	flag.Parse()

	if err := run(*configPath, *dbPath, *outPath, *symbol, *fromStr, *toStr); err != nil {
		slog.Error("❌ Backtest failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath, dbPath, outPath, symbol, fromStr, toStr string) (err error) {
	cfg := app.LoadConfigOrExit(configPath)
	cfg.Logging.File = ""
	logger, _ := infra.NewLogger(cfg.Logging, "")
	slog.SetDefault(logger)

	to := time.Now().UTC().Truncate(time.Minute)
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			return fmt.Errorf("-to: %w", err)
		}
	}
	from := to.Add(-24 * time.Hour)
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			return fmt.Errorf("-from: %w", err)
		}
	}

	if dbPath == "" {
		paths, err := infra.ResolvePaths(cfg)
		if err != nil {
			return err
		}
		dbPath = paths.DBPath
	}
	src, err := storage.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, src.Close()) }()

	if outPath == "" {
		dir, err := os.MkdirTemp("", "arbitrage-backtest-")
		if err != nil {
			return err
		}
		outPath = filepath.Join(dir, "positions.db")
	}
	out, err := storage.Open(outPath)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, out.Close()) }()

	pc := execution.DefaultPaperConfig()
	pc.Leverage = cfg.Trading.Leverage

	bcfg := backtest.Config{
		UserID:   "backtest",
		Symbol:   symbol,
		From:     from,
		To:       to,
		Engine:   app.EngineConfig(cfg, "backtest", symbol),
		Strategy: app.StrategyConfig(cfg),
		Band:     app.BandConfig(cfg),
		Paper:    pc,
		KRW:      quant.ToPriceMicros(cfg.Paper.KRW),
		USDT:     quant.ToPriceMicros(cfg.Paper.USDT),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	slog.Info("⏪ Replaying archived premiums",
		slog.String("symbol", symbol),
		slog.String("from", from.Format(time.RFC3339)),
		slog.String("to", to.Format(time.RFC3339)),
		slog.String("source", dbPath),
		slog.String("positions", outPath))

	rep, err := backtest.NewReplayer(src).Run(ctx, bcfg, out)
	if err != nil {
		return err
	}

	fmt.Printf("samples        %d\n", rep.Samples)
	fmt.Printf("orders         %d submitted, %d filled, %d canceled\n", rep.Submitted, rep.Filled, rep.Canceled)
	fmt.Printf("open positions %d (spot %s, short %s)\n", rep.OpenPositions, rep.Holding, rep.Short)
	fmt.Printf("KRW            %s\n", rep.Wallet.DomesticAvailable)
	fmt.Printf("USDT           %s\n", rep.Wallet.OverseasAvailable)
	if rep.Halted != nil {
		fmt.Printf("halted         %v\n", rep.Halted)
	}
	return nil
}
