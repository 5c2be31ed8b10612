package execution

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/internal/infra"
	"github.com/dlgusgh4608/arbitrage/internal/infra/bitget"
	"github.com/dlgusgh4608/arbitrage/internal/infra/upbit"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

var (
	_ OrderGateway = (*bitget.Client)(nil)
	_ HedgeGateway = (*upbit.Client)(nil)
	_ WalletSource = (*exchangeWallet)(nil)

	_ Stream = (*bitget.OrderWorker)(nil)
)

// Stream is a private execution feed that must run while a venue trades.
type Stream interface {
	Connect(ctx context.Context) error
	Disconnect()
}

// UserVenue is everything one user trades through.
type UserVenue struct {
	Venue
	UserID string

	// Paper is set in PAPER mode; the caller feeds it premiums so resting orders can fill.
	Paper *PaperExchange
	// Stream is set in REAL mode and delivers fills to the update handler.
	Stream Stream

	futures *bitget.Client
}

// Prepare applies account settings before trading starts.
func (u *UserVenue) Prepare(ctx context.Context, symbols []string, leverage int) error {
	if u.futures == nil {
		return nil
	}
	var errs error
	for _, sym := range symbols {
		if err := u.futures.SetLeverage(ctx, sym, leverage); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s set leverage %s: %w", u.UserID, sym, err))
		}
	}
	return errs
}

// Close releases credentials held by the venue.
func (u *UserVenue) Close() {
	if u.futures != nil {
		u.futures.Close()
	}
	if u.Stream != nil {
		u.Stream.Disconnect()
	}
}

// Factory creates per-user venues for the configured mode.
type Factory struct {
	config *infra.Config
	getenv func(string) string
}

func NewFactory(cfg *infra.Config) *Factory {
	return &Factory{config: cfg, getenv: os.Getenv}
}

// Build returns the venue of user. onUpdate receives execution reports from the
// paper exchange or the Bitget private stream.
func (f *Factory) Build(user infra.UserConfig, onUpdate UpdateHandler) (*UserVenue, error) {
	cfg := f.config
	mode := cfg.Trading.Mode

	switch mode {
	case infra.ModePaper:
		paperCfg := DefaultPaperConfig()
		paperCfg.Leverage = cfg.Trading.Leverage
		paper := NewPaperExchange(user.ID, paperCfg, quant.ToPriceMicros(cfg.Paper.KRW), quant.ToPriceMicros(cfg.Paper.USDT))
		paper.OnUpdate(onUpdate)
		slog.Info("📝 Paper venue ready", slog.String("user", user.ID))
		return &UserVenue{
			Venue:  Venue{Orders: paper, Hedge: paper, Wallet: paper},
			UserID: user.ID,
			Paper:  paper,
		}, nil

	case infra.ModeDryRun:
		var wallet WalletSource = staticWallet{snapshot: domain.WalletSnapshot{
			DomesticAvailable: quant.ToPriceMicros(cfg.Paper.KRW),
			OverseasAvailable: quant.ToPriceMicros(cfg.Paper.USDT),
		}}
		if !user.Upbit.Empty() && !user.Bitget.Empty() {
			wallet = f.exchangeWallet(user)
		}
		dry := NewDryRunGateway(domain.WalletSnapshot{})
		slog.Info("🔍 Dry-run venue ready", slog.String("user", user.ID))
		return &UserVenue{
			Venue:  Venue{Orders: dry, Hedge: dry, Wallet: wallet},
			UserID: user.ID,
		}, nil

	case infra.ModeReal:
		if f.getenv("CONFIRM_REAL_MONEY") != "true" {
			return nil, fmt.Errorf("SAFETY_GUARD: real trading requires CONFIRM_REAL_MONEY=true")
		}
		futures := f.bitgetClient(user)
		spot := upbit.NewClient(cfg.API.Upbit.RestURL, user.Upbit)
		stream := bitget.NewOrderWorker(cfg.API.Bitget.PrivateWSURL, user.ID, user.Bitget, cfg.API.Bitget.Symbols, onUpdate)
		slog.Warn("🚨 REAL venue ready", slog.String("user", user.ID))
		return &UserVenue{
			Venue: Venue{
				Orders: futures,
				Hedge:  spot,
				Wallet: &exchangeWallet{domestic: spot, overseas: futures},
			},
			UserID:  user.ID,
			Stream:  stream,
			futures: futures,
		}, nil

	default:
		return nil, fmt.Errorf("unknown execution mode: %s", mode)
	}
}

func (f *Factory) bitgetClient(user infra.UserConfig) *bitget.Client {
	api := f.config.API.Bitget
	return bitget.NewClient(api.RestURL, api.ProductType, api.Symbols, user.Bitget)
}

func (f *Factory) exchangeWallet(user infra.UserConfig) *exchangeWallet {
	return &exchangeWallet{
		domestic: upbit.NewClient(f.config.API.Upbit.RestURL, user.Upbit),
		overseas: f.bitgetClient(user),
	}
}

type balanceSource interface {
	Available(ctx context.Context) (quant.PriceMicros, error)
}

// exchangeWallet reads both legs concurrently.
type exchangeWallet struct {
	domestic balanceSource
	overseas balanceSource
}

func (w *exchangeWallet) Refresh(ctx context.Context) (domain.WalletSnapshot, error) {
	var snap domain.WalletSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := w.domestic.Available(gctx)
		if err != nil {
			return fmt.Errorf("domestic balance: %w", err)
		}
		snap.DomesticAvailable = v
		return nil
	})
	g.Go(func() error {
		v, err := w.overseas.Available(gctx)
		if err != nil {
			return fmt.Errorf("overseas balance: %w", err)
		}
		snap.OverseasAvailable = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.WalletSnapshot{}, err
	}
	snap.UpdatedAt = time.Now()
	return snap, nil
}

type staticWallet struct {
	snapshot domain.WalletSnapshot
}

func (w staticWallet) Refresh(ctx context.Context) (domain.WalletSnapshot, error) {
	s := w.snapshot
	s.UpdatedAt = time.Now()
	return s, nil
}
