package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/internal/event"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
	"github.com/dlgusgh4608/arbitrage/pkg/safe"
)

// Config holds the fixed reconciliation timings.
type Config struct {
	CheckInterval time.Duration
	GracePeriod   time.Duration
	// MaxRetries is the number of status re-checks after the first one.
	MaxRetries int
	// Remember bounds how many completed order ids are kept to drop replayed acks.
	Remember int
}

func DefaultConfig() Config {
	return Config{CheckInterval: 3 * time.Second, GracePeriod: 5 * time.Second, MaxRetries: 3, Remember: 1024}
}

// Scheduler arms timers on the owning engine's delay queue.
type Scheduler interface {
	After(d time.Duration, ev *event.TimerEvent) uint64
	Stop(id uint64)
}

// Requester issues exchange calls whose results come back as events.
type Requester interface {
	RequestStatus(intent domain.OrderIntent)
	RequestCancel(intent domain.OrderIntent)
}

// Completion is the aggregated result of one order that reached a terminal state.
type Completion struct {
	Intent domain.OrderIntent
	Status domain.OrderStatus
	Fill   domain.LegFill
	// Released is set when the lock was already given up by the grace timer.
	Released bool
}

// Outcome tells the engine what to do with its locks after an event.
type Outcome struct {
	Unlock        bool
	WalletBlocked bool
	Completion    *Completion
	// Warn is a recoverable condition worth logging.
	Warn error
	// Err stops the engine with the lock still held.
	Err error
}

type pendingOrder struct {
	intent   domain.OrderIntent
	exchID   string
	status   domain.OrderStatus
	attempts int
	timer    uint64

	filled     quant.QtySats
	notional   decimal.Decimal
	commission quant.PriceMicros
	lastFillAt time.Time

	// reported is the cumulative fill from the last successful status poll.
	reported domain.OrderState
	// confirmed is set once the exchange has answered for the order.
	confirmed bool
	canceling bool
	released  bool
}

// Reconciler follows submitted orders until the exchange reports a terminal state.
// It belongs to one engine goroutine and is not safe for concurrent use.
type Reconciler struct {
	cfg     Config
	sched   Scheduler
	req     Requester
	pending map[string]*pendingOrder

	// done holds the most recent completed ids; ring evicts the oldest.
	done     map[string]struct{}
	ring     []string
	ringNext int
}

func New(cfg Config, sched Scheduler, req Requester) *Reconciler {
	if cfg.Remember <= 0 {
		cfg.Remember = DefaultConfig().Remember
	}
	return &Reconciler{
		cfg:     cfg,
		sched:   sched,
		req:     req,
		pending: make(map[string]*pendingOrder),
		done:    make(map[string]struct{}, cfg.Remember),
		ring:    make([]string, 0, cfg.Remember),
	}
}

// Track registers an intent before it is submitted.
func (r *Reconciler) Track(intent domain.OrderIntent) error {
	id := intent.ClientOrderID
	if _, ok := r.pending[id]; ok {
		return &domain.InvariantViolation{Symbol: intent.Symbol, Detail: fmt.Sprintf("order %s tracked twice", id)}
	}
	if _, ok := r.done[id]; ok {
		return &domain.InvariantViolation{Symbol: intent.Symbol, Detail: fmt.Sprintf("order %s already completed", id)}
	}
	r.pending[id] = &pendingOrder{intent: intent, status: domain.StatusNew, notional: decimal.Zero}
	return nil
}

// Pending returns the number of orders still being followed.
func (r *Reconciler) Pending() int { return len(r.pending) }

// Intent returns the tracked intent for a client order id.
func (r *Reconciler) Intent(clientOrderID string) (domain.OrderIntent, bool) {
	p, ok := r.pending[clientOrderID]
	if !ok {
		return domain.OrderIntent{}, false
	}
	return p.intent, true
}

// PendingIntents returns the tracked intents ordered by client order id.
func (r *Reconciler) PendingIntents() []domain.OrderIntent {
	out := make([]domain.OrderIntent, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p.intent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientOrderID < out[j].ClientOrderID })
	return out
}

// OnSubmitResult handles the exchange's answer to a submission. Errors other than
// insufficient margin are returned and leave the lock held.
func (r *Reconciler) OnSubmitResult(ev *event.SubmitResultEvent) (Outcome, error) {
	id := ev.Intent.ClientOrderID
	p, ok := r.pending[id]
	if !ok {
		return Outcome{}, nil
	}

	if ev.Err != nil {
		if errors.Is(ev.Err, domain.ErrInsufficientMargin) {
			delete(r.pending, id)
			return Outcome{Unlock: true, WalletBlocked: true}, nil
		}
		// the order may still have landed; keep polling it
		r.arm(p, r.cfg.CheckInterval, event.TimerCheckStatus)
		return Outcome{}, fmt.Errorf("submit %s: %w", id, ev.Err)
	}

	p.exchID = ev.Ack.ExchangeOrderID
	p.confirmed = true
	if ev.Ack.Status != "" {
		p.status = ev.Ack.Status
	}
	r.arm(p, r.cfg.CheckInterval, event.TimerCheckStatus)
	return Outcome{}, nil
}

// OnStatusResult advances the order after a poll.
func (r *Reconciler) OnStatusResult(ev *event.StatusResultEvent) Outcome {
	p, ok := r.pending[ev.ClientOrderID]
	if !ok {
		return Outcome{}
	}

	if ev.Err != nil {
		if r.recheck(p) {
			return Outcome{Warn: fmt.Errorf("status %s: %w", ev.ClientOrderID, ev.Err)}
		}
		if p.released {
			// nothing left to learn from the exchange
			return r.finish(p)
		}
		return r.cancel(p)
	}

	st := ev.State
	if st.Filled < 0 || st.Filled > p.intent.Qty || (st.Filled > 0 && st.AvgPrice <= 0) {
		return Outcome{Err: &domain.InvariantViolation{Symbol: p.intent.Symbol,
			Detail: fmt.Sprintf("order %s polled fill %s @ %s of %s", p.intent.ClientOrderID, st.Filled, st.AvgPrice, p.intent.Qty)}}
	}
	p.confirmed = true
	p.status = st.Status
	if st.Filled >= p.reported.Filled {
		p.reported = st
	}

	switch {
	case st.Status.IsTerminal():
		// the user stream carries the fills; wait for it
		r.arm(p, r.cfg.GracePeriod, event.TimerGraceUnlock)
		return Outcome{}
	case st.Status == domain.StatusPartiallyFilled:
		if r.recheck(p) {
			return Outcome{}
		}
		return r.cancel(p)
	default:
		if p.canceling {
			r.arm(p, r.cfg.GracePeriod, event.TimerGraceUnlock)
			return Outcome{}
		}
		return r.cancel(p)
	}
}

// OnCancelResult only reports failures; the grace timer is already armed.
func (r *Reconciler) OnCancelResult(ev *event.CancelResultEvent) Outcome {
	if _, ok := r.pending[ev.ClientOrderID]; !ok || ev.Err == nil {
		return Outcome{}
	}
	return Outcome{Warn: fmt.Errorf("cancel %s: %w", ev.ClientOrderID, ev.Err)}
}

// OnOrderUpdate accumulates an execution report. The terminal report completes the order
// exactly once; replays of it are ignored.
func (r *Reconciler) OnOrderUpdate(u domain.OrderUpdate) (Outcome, error) {
	id := u.ClientOrderID
	if _, ok := r.done[id]; ok {
		return Outcome{}, nil
	}
	p, ok := r.pending[id]
	if !ok {
		return Outcome{}, nil
	}

	if u.Fill.Qty < 0 || u.Fill.Price < 0 || (u.Fill.Qty > 0 && u.Fill.Price == 0) {
		return Outcome{}, &domain.InvariantViolation{Symbol: p.intent.Symbol,
			Detail: fmt.Sprintf("order %s reported fill %s @ %s", id, u.Fill.Qty, u.Fill.Price)}
	}
	if u.Fill.Qty > 0 {
		filled := safe.Add(p.filled, u.Fill.Qty)
		if filled > p.intent.Qty {
			return Outcome{}, &domain.InvariantViolation{Symbol: p.intent.Symbol,
				Detail: fmt.Sprintf("order %s filled %s of %s", id, filled, p.intent.Qty)}
		}
		p.filled = filled
		p.notional = p.notional.Add(u.Fill.Price.Decimal().Mul(u.Fill.Qty.Decimal()))
		p.commission = safe.Add(p.commission, u.Fill.Commission)
		p.lastFillAt = u.Fill.TradeAt
	}
	p.status = u.Status

	if !u.Status.IsTerminal() {
		return Outcome{}, nil
	}
	return r.finish(p), nil
}

// OnTimer handles status checks and grace expiries for tracked orders.
func (r *Reconciler) OnTimer(ev *event.TimerEvent) Outcome {
	p, ok := r.pending[ev.ClientOrderID]
	if !ok {
		return Outcome{}
	}
	p.timer = 0

	switch ev.Kind {
	case event.TimerCheckStatus:
		r.req.RequestStatus(p.intent)
		return Outcome{}
	case event.TimerGraceUnlock:
		if p.status.IsTerminal() {
			return r.finish(p)
		}
		out := Outcome{Warn: &domain.OrderAmbiguousStateError{ClientOrderID: p.intent.ClientOrderID, Status: p.status, Attempts: p.attempts}}
		if !p.confirmed {
			// the exchange never acknowledged the order; it may still land
			r.arm(p, r.cfg.CheckInterval, event.TimerCheckStatus)
			return out
		}
		if !p.released {
			p.released = true
			p.attempts = 0
			out.Unlock = true
		} else if p.attempts++; p.attempts >= r.cfg.MaxRetries {
			done := r.finish(p)
			done.Warn = out.Warn
			return done
		}
		// keep following it so a late fill still reaches the ledger
		r.arm(p, r.cfg.CheckInterval, event.TimerCheckStatus)
		return out
	}
	return Outcome{}
}

// recheck arms another status check while retries remain.
func (r *Reconciler) recheck(p *pendingOrder) bool {
	if p.attempts >= r.cfg.MaxRetries {
		return false
	}
	p.attempts++
	r.arm(p, r.cfg.CheckInterval, event.TimerCheckStatus)
	return true
}

func (r *Reconciler) cancel(p *pendingOrder) Outcome {
	if !p.canceling {
		p.canceling = true
		r.req.RequestCancel(p.intent)
	}
	r.arm(p, r.cfg.GracePeriod, event.TimerGraceUnlock)
	return Outcome{Warn: &domain.OrderAmbiguousStateError{ClientOrderID: p.intent.ClientOrderID, Status: p.status, Attempts: p.attempts}}
}

// finish removes the record and aggregates its fills. When the stream delivered less than
// the exchange reported on a poll, the polled cumulative fill is booked instead.
func (r *Reconciler) finish(p *pendingOrder) Outcome {
	id := p.intent.ClientOrderID
	if p.timer != 0 {
		r.sched.Stop(p.timer)
		p.timer = 0
	}
	fill := domain.LegFill{Qty: p.filled, Commission: p.commission, TradeAt: p.lastFillAt}
	if p.filled > 0 {
		fill.Price = quant.PriceFromDecimal(p.notional.Div(p.filled.Decimal()))
	}
	if p.reported.Filled > p.filled {
		fill.Qty = p.reported.Filled
		fill.Price = p.reported.AvgPrice
		fill.Commission = max(p.commission, p.reported.Fee)
	}
	status := p.status
	if !status.IsTerminal() {
		status = domain.StatusExpired
	}
	if status == domain.StatusFilled && fill.Qty == 0 {
		// the fill is somewhere we cannot see; hold the lock rather than trade past it
		return Outcome{Err: &domain.InvariantViolation{Symbol: p.intent.Symbol,
			Detail: fmt.Sprintf("order %s FILLED on the exchange but no fill was reported", id)}}
	}

	delete(r.pending, id)
	r.remember(id)
	return Outcome{Completion: &Completion{Intent: p.intent, Status: status, Fill: fill, Released: p.released}}
}

func (r *Reconciler) remember(id string) {
	if len(r.ring) < r.cfg.Remember {
		r.ring = append(r.ring, id)
	} else {
		delete(r.done, r.ring[r.ringNext])
		r.ring[r.ringNext] = id
		r.ringNext = (r.ringNext + 1) % r.cfg.Remember
	}
	r.done[id] = struct{}{}
}

func (r *Reconciler) arm(p *pendingOrder, d time.Duration, kind event.TimerKind) {
	if p.timer != 0 {
		r.sched.Stop(p.timer)
	}
	p.timer = r.sched.After(d, &event.TimerEvent{Kind: kind, ClientOrderID: p.intent.ClientOrderID})
}
