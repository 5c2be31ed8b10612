package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/internal/event"
	"github.com/dlgusgh4608/arbitrage/internal/execution"
	"github.com/dlgusgh4608/arbitrage/internal/ledger"
	"github.com/dlgusgh4608/arbitrage/internal/metrics"
	"github.com/dlgusgh4608/arbitrage/internal/reconcile"
	"github.com/dlgusgh4608/arbitrage/internal/storage"
	"github.com/dlgusgh4608/arbitrage/internal/strategy"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// State is the externally visible engine state.
type State int

const (
	StateIdle State = iota
	StateInFlight
	StateWalletBlocked
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInFlight:
		return "ORDER_IN_FLIGHT"
	case StateWalletBlocked:
		return "WALLET_BLOCKED"
	case StateHalted:
		return "HALTED"
	default:
		return "UNKNOWN"
	}
}

// ErrHalted is returned for events handed to an engine that stopped on a fatal error.
var ErrHalted = errors.New("engine halted")

// BandSource computes the standard band of a symbol.
type BandSource interface {
	Refresh(ctx context.Context, symbol string, lookbackMinutes int) (domain.StandardBand, error)
}

// Config holds the per-engine settings.
type Config struct {
	UserID    string
	Symbol    string
	InboxSize int

	StartupLookback       int // minutes
	RefreshLookback       int // minutes
	BandRefreshInterval   time.Duration
	WalletRefreshInterval time.Duration
	CallTimeout           time.Duration

	Reconcile reconcile.Config
}

// DefaultConfig returns the production timings for (userID, symbol).
func DefaultConfig(userID, symbol string) Config {
	return Config{
		UserID:                userID,
		Symbol:                symbol,
		InboxSize:             1024,
		StartupLookback:       360,
		RefreshLookback:       240,
		BandRefreshInterval:   180 * time.Minute,
		WalletRefreshInterval: time.Minute,
		CallTimeout:           10 * time.Second,
		Reconcile:             reconcile.DefaultConfig(),
	}
}

// Deps are the collaborators of one engine.
type Deps struct {
	Venue     execution.Venue
	Band      BandSource
	Ledger    *ledger.Ledger
	Strategy  strategy.Strategy
	Metrics   *metrics.Metrics
	Snapshots *storage.SnapshotManager
	Clock     Clock
	NewID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithSyncCalls runs exchange and store calls inline and feeds their results back before
// Handle returns. Tests and the backtest replayer use it to stay deterministic.
func WithSyncCalls() Option {
	return func(e *Engine) { e.syncCalls = true }
}

// Engine is the single-threaded decision loop of one (user, symbol) pair.
// Every mutation of its locks, ledger and strategy happens on the goroutine running it.
type Engine struct {
	cfg   Config
	deps  Deps
	log   *slog.Logger
	clock Clock

	inbox  chan event.Event
	done   chan struct{}
	timers *DelayQueue
	recon  *reconcile.Reconciler

	ctx       context.Context
	syncCalls bool
	pending   []event.Event
	seq       uint64

	lockOwner   string
	walletLock  bool
	halted      error
	band        domain.StandardBand
	wallet      domain.WalletSnapshot
	cleanWallet domain.WalletSnapshot
	hedging     map[string]*reconcile.Completion

	bandTimer   uint64
	walletTimer uint64
}

// New creates an engine. The ledger must already be loaded.
func New(cfg Config, deps Deps, opts ...Option) (*Engine, error) {
	if deps.Venue.Orders == nil || deps.Venue.Hedge == nil || deps.Venue.Wallet == nil {
		return nil, fmt.Errorf("engine %s/%s: venue is incomplete", cfg.UserID, cfg.Symbol)
	}
	if deps.Band == nil || deps.Ledger == nil || deps.Strategy == nil {
		return nil, fmt.Errorf("engine %s/%s: missing band, ledger or strategy", cfg.UserID, cfg.Symbol)
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}

	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		clock:   deps.Clock,
		log:     slog.With(slog.String("user", cfg.UserID), slog.String("symbol", cfg.Symbol)),
		inbox:   make(chan event.Event, cfg.InboxSize),
		done:    make(chan struct{}),
		timers:  NewDelayQueue(),
		ctx:     context.Background(),
		hedging: make(map[string]*reconcile.Completion),
	}
	e.recon = reconcile.New(cfg.Reconcile, e, e)
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Inbox returns the event channel. Feeds and exchange workers send events here.
func (e *Engine) Inbox() chan<- event.Event { return e.inbox }

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) UserID() string { return e.cfg.UserID }
func (e *Engine) Symbol() string { return e.cfg.Symbol }

// State reports the lock state. An in-flight order takes precedence over a wallet block.
func (e *Engine) State() State {
	switch {
	case e.halted != nil:
		return StateHalted
	case e.lockOwner != "":
		return StateInFlight
	case e.walletLock:
		return StateWalletBlocked
	default:
		return StateIdle
	}
}

// Band returns the band in use.
func (e *Engine) Band() domain.StandardBand { return e.band }

// Start arms the refresh timers and requests the startup band and the first wallet.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx = ctx
	e.deps.Metrics.OpenPositions(e.cfg.UserID, e.cfg.Symbol, e.deps.Ledger.Len())
	e.reportState()

	e.requestBand(e.cfg.StartupLookback)
	e.requestWallet()
	e.bandTimer = e.After(e.cfg.BandRefreshInterval, &event.TimerEvent{Kind: event.TimerBandRefresh})
	e.walletTimer = e.After(e.cfg.WalletRefreshInterval, &event.TimerEvent{Kind: event.TimerWalletRefresh})
	return e.drain()
}

// Run starts the engine and processes its inbox and timers until ctx ends or a fatal error
// halts it. This MUST be run in a single goroutine.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	e.log.Info("Engine started", slog.String("strategy", e.deps.Strategy.Name()))

	if err := e.Start(ctx); err != nil {
		if domain.IsFatal(err) {
			return err
		}
		e.log.Warn("EVENT_FAILED", slog.Any("error", err))
	}

	wake := time.NewTimer(time.Hour)
	defer wake.Stop()

	for {
		e.resetWake(wake)

		var err error
		select {
		case <-ctx.Done():
			e.log.Info("Engine stopping...")
			return nil
		case ev := <-e.inbox:
			err = e.Handle(ev)
		case <-wake.C:
			err = e.FireTimers()
		}

		if err != nil {
			if domain.IsFatal(err) || errors.Is(err, ErrHalted) {
				return err
			}
			e.log.Warn("EVENT_FAILED", slog.Any("error", err))
		}
	}
}

func (e *Engine) resetWake(wake *time.Timer) {
	if !wake.Stop() {
		select {
		case <-wake.C:
		default:
		}
	}
	d := time.Hour
	if at, ok := e.timers.Next(); ok {
		d = at.Sub(e.clock.Now())
		if d < 0 {
			d = 0
		}
	}
	wake.Reset(d)
}

// Handle processes one event, plus the results of any inline calls it triggered.
// Fatal errors halt the engine.
func (e *Engine) Handle(ev event.Event) error {
	if e.halted != nil {
		return fmt.Errorf("%w: %v", ErrHalted, e.halted)
	}
	err := e.process(ev)
	if domain.IsFatal(err) {
		return err
	}
	return multierr.Append(err, e.drain())
}

// Advance moves a manual clock forward by d and fires every timer that became due.
func (e *Engine) Advance(d time.Duration) error {
	if mc, ok := e.clock.(*ManualClock); ok {
		mc.Add(d)
	}
	return e.FireTimers()
}

// FireTimers delivers every timer due at the current clock time.
func (e *Engine) FireTimers() error {
	var errs error
	for e.halted == nil {
		ev := e.timers.PopDue(e.clock.Now())
		if ev == nil {
			break
		}
		if err := e.Handle(ev); err != nil {
			if domain.IsFatal(err) {
				return err
			}
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// drain handles results queued by inline calls.
func (e *Engine) drain() error {
	var errs error
	for len(e.pending) > 0 && e.halted == nil {
		ev := e.pending[0]
		e.pending = e.pending[1:]
		if err := e.process(ev); err != nil {
			if domain.IsFatal(err) {
				return err
			}
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// process dispatches one event. Panics and fatal errors halt the engine with a state dump.
func (e *Engine) process(ev event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			err = &domain.InvariantViolation{Symbol: e.cfg.Symbol, Detail: fmt.Sprintf("panic: %v", r)}
		}
		if domain.IsFatal(err) {
			e.halt(err)
		}
	}()

	e.seq++
	switch ev := ev.(type) {
	case *event.PremiumEvent:
		return e.onPremium(ev)
	case *event.BandEvent:
		e.onBand(ev)
	case *event.WalletEvent:
		e.onWallet(ev)
	case *event.SubmitResultEvent:
		out, err := e.recon.OnSubmitResult(ev)
		if err != nil {
			e.deps.Metrics.Order(e.cfg.UserID, e.cfg.Symbol, "submit_error")
		}
		return multierr.Append(err, e.apply(ev.Intent.ClientOrderID, out))
	case *event.StatusResultEvent:
		return e.apply(ev.ClientOrderID, e.recon.OnStatusResult(ev))
	case *event.CancelResultEvent:
		return e.apply(ev.ClientOrderID, e.recon.OnCancelResult(ev))
	case *event.OrderUpdateEvent:
		return e.onOrderUpdate(ev)
	case *event.HedgeFillEvent:
		return e.onHedgeFill(ev)
	case *event.TimerEvent:
		return e.onTimer(ev)
	default:
		e.log.Warn("Unknown event type", slog.Any("type", ev.GetType()))
	}
	return nil
}

func (e *Engine) onPremium(ev *event.PremiumEvent) error {
	if ev.Premium.Symbol != e.cfg.Symbol {
		return nil
	}
	if e.lockOwner != "" {
		e.deps.Metrics.EngineTick(e.cfg.UserID, e.cfg.Symbol, "dropped_locked")
		return nil
	}
	e.deps.Metrics.EngineTick(e.cfg.UserID, e.cfg.Symbol, "evaluated")

	intent, err := e.deps.Strategy.OnPremium(strategy.Input{
		Premium:       ev.Premium,
		Band:          e.band,
		Positions:     e.deps.Ledger,
		Wallet:        e.wallet,
		CleanWallet:   e.cleanWallet,
		WalletBlocked: e.walletLock,
	})
	if err != nil || intent == nil {
		return err
	}

	intent.ClientOrderID = e.deps.NewID()
	intent.UserID = e.cfg.UserID
	intent.CreatedAt = e.clock.Now()
	if err := intent.Validate(); err != nil {
		return err
	}
	if err := e.recon.Track(*intent); err != nil {
		return err
	}

	e.lockOwner = intent.ClientOrderID
	e.reportState()
	e.deps.Metrics.Decision(e.cfg.UserID, e.cfg.Symbol, intent.Hedge.String(), string(intent.Reason))
	e.log.Info("ORDER_DECIDED",
		slog.String("id", intent.ClientOrderID),
		slog.String("hedge", intent.Hedge.String()),
		slog.String("reason", string(intent.Reason)),
		slog.String("price", intent.Price.String()),
		slog.String("qty", intent.Qty.String()),
		slog.String("premium", ev.Premium.Premium.String()))

	in := *intent
	e.call(func(ctx context.Context) event.Event {
		ack, err := e.deps.Venue.Orders.Submit(ctx, in)
		return &event.SubmitResultEvent{Intent: in, Ack: ack, Err: err}
	})
	return nil
}

func (e *Engine) onBand(ev *event.BandEvent) {
	if ev.Err != nil {
		e.deps.Metrics.BandRefresh(e.cfg.Symbol, "kept_previous")
		e.log.Warn("BAND_REFRESH_FAILED", slog.Any("error", ev.Err), slog.Bool("has_band", !e.band.IsZero()))
		return
	}
	e.band = ev.Band
	e.deps.Metrics.BandRefresh(e.cfg.Symbol, "ok")
	e.log.Info("BAND_REFRESHED",
		slog.String("avg_fx", ev.Band.AvgFxRate.String()),
		slog.String("min", ev.Band.MinPremium.String()),
		slog.String("max", ev.Band.MaxPremium.String()),
		slog.Int("samples", ev.Band.Samples))
}

func (e *Engine) onWallet(ev *event.WalletEvent) {
	if ev.Err != nil {
		e.log.Warn("WALLET_REFRESH_FAILED", slog.Any("error", ev.Err))
		return
	}
	e.wallet = ev.Wallet
	if e.walletLock {
		e.log.Info("WALLET_UNBLOCKED")
	}
	e.walletLock = false
	if e.cleanWallet.IsZero() || e.deps.Ledger.Len() == 0 {
		e.cleanWallet = ev.Wallet
	}
	e.reportState()
}

func (e *Engine) onOrderUpdate(ev *event.OrderUpdateEvent) error {
	if ev.UserID != e.cfg.UserID || (ev.Update.Symbol != "" && ev.Update.Symbol != e.cfg.Symbol) {
		return nil
	}
	out, err := e.recon.OnOrderUpdate(ev.Update)
	if err != nil {
		return err
	}
	return e.apply(ev.Update.ClientOrderID, out)
}

func (e *Engine) onTimer(ev *event.TimerEvent) error {
	switch ev.Kind {
	case event.TimerBandRefresh:
		e.requestBand(e.cfg.RefreshLookback)
		e.bandTimer = e.After(e.cfg.BandRefreshInterval, ev)
	case event.TimerWalletRefresh:
		e.requestWallet()
		e.walletTimer = e.After(e.cfg.WalletRefreshInterval, ev)
	default:
		return e.apply(ev.ClientOrderID, e.recon.OnTimer(ev))
	}
	return nil
}

// apply carries out a reconciler outcome for order id.
func (e *Engine) apply(id string, out reconcile.Outcome) error {
	if out.Warn != nil {
		e.log.Warn("ORDER_AMBIGUOUS", slog.String("id", id), slog.Any("error", out.Warn))
	}
	if out.Err != nil {
		return out.Err
	}
	if out.WalletBlocked {
		e.walletLock = true
		e.deps.Metrics.Order(e.cfg.UserID, e.cfg.Symbol, "insufficient_margin")
		e.log.Warn("WALLET_BLOCKED", slog.String("id", id))
	}
	if out.Unlock {
		e.unlock(id)
	}
	if out.Completion != nil {
		return e.complete(out.Completion)
	}
	return nil
}

// complete starts the domestic hedge of a finished order, or unlocks when nothing filled.
func (e *Engine) complete(c *reconcile.Completion) error {
	in := c.Intent
	e.deps.Metrics.Order(e.cfg.UserID, e.cfg.Symbol, string(c.Status))
	e.log.Info("ORDER_COMPLETED",
		slog.String("id", in.ClientOrderID),
		slog.String("status", string(c.Status)),
		slog.String("filled", c.Fill.Qty.String()),
		slog.String("avg_price", c.Fill.Price.String()),
		slog.Bool("released", c.Released))

	if c.Fill.Qty == 0 {
		e.unlock(in.ClientOrderID)
		return nil
	}
	if c.Fill.TradeAt.IsZero() {
		// booked from a status poll
		c.Fill.TradeAt = e.clock.Now()
	}

	switch in.Hedge {
	case domain.HedgeBuy:
		krw := quant.USDToKRW(c.Fill.Notional(), in.FxRate)
		e.hedging[in.ClientOrderID] = c
		e.call(func(ctx context.Context) event.Event {
			fill, err := e.deps.Venue.Hedge.BuyMarket(ctx, in.Symbol, krw, in.ClientOrderID)
			return &event.HedgeFillEvent{ClientOrderID: in.ClientOrderID, Fill: fill, Err: err}
		})
	case domain.HedgeSell:
		pos, ok := e.deps.Ledger.Get(in.PositionID)
		if !ok {
			return &domain.InvariantViolation{Symbol: e.cfg.Symbol, Detail: fmt.Sprintf("order %s closes unknown position %s", in.ClientOrderID, in.PositionID)}
		}
		qty := domesticShare(&pos, c.Fill.Qty)
		e.hedging[in.ClientOrderID] = c
		e.call(func(ctx context.Context) event.Event {
			fill, err := e.deps.Venue.Hedge.SellMarket(ctx, in.Symbol, qty, in.ClientOrderID)
			return &event.HedgeFillEvent{ClientOrderID: in.ClientOrderID, Fill: fill, Err: err}
		})
	}
	return nil
}

// domesticShare is the spot quantity matching an overseas unwind of ovsQty.
func domesticShare(p *domain.OpenPosition, ovsQty quant.QtySats) quant.QtySats {
	unsold := p.UnsoldOverseas()
	if ovsQty >= unsold {
		return p.UnsoldDomestic()
	}
	share := p.UnsoldDomestic().Decimal().Mul(ovsQty.Decimal()).Div(unsold.Decimal())
	return quant.FloorQtyDecimal(share, quant.QtyDecimals)
}

// onHedgeFill writes the finished pair to the ledger and releases the lock.
func (e *Engine) onHedgeFill(ev *event.HedgeFillEvent) error {
	c, ok := e.hedging[ev.ClientOrderID]
	if !ok {
		return nil
	}
	delete(e.hedging, ev.ClientOrderID)
	in := c.Intent

	if ev.Err != nil {
		return fmt.Errorf("%w: order %s: %v", domain.ErrHedgeFailed, in.ClientOrderID, ev.Err)
	}

	switch in.Hedge {
	case domain.HedgeBuy:
		p, err := e.deps.Ledger.RecordOpen(e.ctx, in.ClientOrderID, ev.Fill, c.Fill, in.FxRate)
		if err != nil {
			return err
		}
		e.log.Info("POSITION_OPENED",
			slog.String("id", p.ID),
			slog.String("entry_premium", p.EntryPremium(in.FxRate).String()),
			slog.String("qty", p.OverseasQty.String()))
	case domain.HedgeSell:
		rec, err := e.deps.Ledger.RecordPartialClose(e.ctx, in.PositionID, in.ClientOrderID, c.Fill, ev.Fill, in.FxRate, e.clock.Now())
		if err != nil {
			return err
		}
		e.log.Info("POSITION_CLOSED",
			slog.String("id", in.PositionID),
			slog.String("profit_rate", rec.ProfitRate.String()),
			slog.String("net_profit_rate", rec.NetProfitRate.String()),
			slog.Bool("fully_closed", rec.FullyClosed))
	}

	e.deps.Metrics.OpenPositions(e.cfg.UserID, e.cfg.Symbol, e.deps.Ledger.Len())
	e.unlock(in.ClientOrderID)
	e.requestWallet()
	return nil
}

// unlock releases the trade lock when id still owns it.
func (e *Engine) unlock(id string) {
	if e.lockOwner == "" || e.lockOwner != id {
		return
	}
	e.lockOwner = ""
	e.reportState()
}

func (e *Engine) reportState() {
	e.deps.Metrics.EngineState(e.cfg.UserID, e.cfg.Symbol, int(e.State()))
}

func (e *Engine) requestBand(lookback int) {
	symbol := e.cfg.Symbol
	e.call(func(ctx context.Context) event.Event {
		b, err := e.deps.Band.Refresh(ctx, symbol, lookback)
		return &event.BandEvent{Band: b, Err: err}
	})
}

func (e *Engine) requestWallet() {
	e.call(func(ctx context.Context) event.Event {
		w, err := e.deps.Venue.Wallet.Refresh(ctx)
		return &event.WalletEvent{Wallet: w, Err: err}
	})
}

// RequestStatus polls the exchange for an order.
func (e *Engine) RequestStatus(in domain.OrderIntent) {
	e.call(func(ctx context.Context) event.Event {
		st, err := e.deps.Venue.Orders.Status(ctx, in.Symbol, in.ClientOrderID)
		return &event.StatusResultEvent{ClientOrderID: in.ClientOrderID, State: st, Err: err}
	})
}

// RequestCancel cancels an order on the exchange.
func (e *Engine) RequestCancel(in domain.OrderIntent) {
	e.call(func(ctx context.Context) event.Event {
		err := e.deps.Venue.Orders.Cancel(ctx, in.Symbol, in.ClientOrderID)
		return &event.CancelResultEvent{ClientOrderID: in.ClientOrderID, Err: err}
	})
}

// After arms a timer d from now on the engine clock.
func (e *Engine) After(d time.Duration, ev *event.TimerEvent) uint64 {
	return e.timers.Push(e.clock.Now().Add(d), ev)
}

// Stop disarms a timer.
func (e *Engine) Stop(id uint64) { e.timers.Stop(id) }

// call runs fn off the loop and posts its result back to the inbox.
func (e *Engine) call(fn func(ctx context.Context) event.Event) {
	if e.syncCalls {
		e.pending = append(e.pending, fn(e.ctx))
		return
	}

	ctx := e.ctx
	timeout := e.cfg.CallTimeout
	go func() {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		ev := fn(callCtx)
		cancel()
		select {
		case e.inbox <- ev:
		case <-ctx.Done():
		}
	}()
}

// halt stops the engine for good and writes a state dump for post-mortem.
func (e *Engine) halt(err error) {
	if e.halted != nil {
		return
	}
	e.halted = err
	e.reportState()
	e.log.Error("ENGINE_HALTED", slog.Any("error", err), slog.String("lock_owner", e.lockOwner))
	e.DumpState(err.Error())
}

// Halted returns the error that stopped the engine, or nil.
func (e *Engine) Halted() error { return e.halted }

// DumpState writes the engine state through the snapshot manager.
func (e *Engine) DumpState(reason string) {
	if e.deps.Snapshots == nil {
		return
	}
	snap := &storage.Snapshot{
		Seq:         e.seq,
		TsUnix:      e.clock.Now().Unix(),
		UserID:      e.cfg.UserID,
		Symbol:      e.cfg.Symbol,
		Reason:      reason,
		State:       e.State().String(),
		LockOwner:   e.lockOwner,
		WalletLock:  e.walletLock,
		Band:        e.band,
		Wallet:      e.wallet,
		CleanWallet: e.cleanWallet,
		Positions:   e.deps.Ledger.Positions(),
		Pending:     e.recon.PendingIntents(),
	}
	if err := e.deps.Snapshots.Save(snap); err != nil {
		e.log.Error("Failed to write state dump", slog.Any("error", err))
	}
}
