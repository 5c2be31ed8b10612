package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/internal/event"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

type armed struct {
	id uint64
	d  time.Duration
	ev *event.TimerEvent
}

// fakeRuntime records timers and exchange calls instead of performing them.
type fakeRuntime struct {
	next     uint64
	timers   map[uint64]armed
	statuses []string
	cancels  []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{timers: make(map[uint64]armed)}
}

func (f *fakeRuntime) After(d time.Duration, ev *event.TimerEvent) uint64 {
	f.next++
	f.timers[f.next] = armed{id: f.next, d: d, ev: ev}
	return f.next
}

func (f *fakeRuntime) Stop(id uint64) { delete(f.timers, id) }

func (f *fakeRuntime) RequestStatus(in domain.OrderIntent) {
	f.statuses = append(f.statuses, in.ClientOrderID)
}

func (f *fakeRuntime) RequestCancel(in domain.OrderIntent) {
	f.cancels = append(f.cancels, in.ClientOrderID)
}

// only returns the single armed timer, failing when there is not exactly one.
func (f *fakeRuntime) only(t *testing.T) armed {
	t.Helper()
	if len(f.timers) != 1 {
		t.Fatalf("armed timers = %d; want 1", len(f.timers))
	}
	for _, a := range f.timers {
		return a
	}
	return armed{}
}

// fire pops the single armed timer into the reconciler.
func (f *fakeRuntime) fire(t *testing.T, r *Reconciler, kind event.TimerKind) Outcome {
	t.Helper()
	a := f.only(t)
	if a.ev.Kind != kind {
		t.Fatalf("armed timer = %s; want %s", a.ev.Kind, kind)
	}
	delete(f.timers, a.id)
	return r.OnTimer(a.ev)
}

func intent(id string) domain.OrderIntent {
	return domain.OrderIntent{
		ClientOrderID: id,
		UserID:        "u1",
		Symbol:        "BTC",
		Hedge:         domain.HedgeBuy,
		Qty:           quant.ToQtySats(0.03),
		Price:         quant.ToPriceMicros(100000),
		FxRate:        quant.ToPriceMicros(1380),
	}
}

func submitted(t *testing.T, id string) (*Reconciler, *fakeRuntime) {
	t.Helper()
	rt := newFakeRuntime()
	r := New(DefaultConfig(), rt, rt)
	in := intent(id)
	if err := r.Track(in); err != nil {
		t.Fatal(err)
	}
	out, err := r.OnSubmitResult(&event.SubmitResultEvent{Intent: in, Ack: domain.OrderAck{ClientOrderID: id, Status: domain.StatusNew}})
	if err != nil || out.Unlock {
		t.Fatalf("OnSubmitResult() = %+v, %v", out, err)
	}
	if a := rt.only(t); a.d != 3*time.Second || a.ev.Kind != event.TimerCheckStatus {
		t.Fatalf("armed %s after %s; want status check after 3s", a.ev.Kind, a.d)
	}
	return r, rt
}

func fill(id string, status domain.OrderStatus, price, qty float64) domain.OrderUpdate {
	return domain.OrderUpdate{
		ClientOrderID: id,
		Symbol:        "BTC",
		Status:        status,
		Fill: domain.LegFill{
			Price:      quant.ToPriceMicros(price),
			Qty:        quant.ToQtySats(qty),
			Commission: quant.ToPriceMicros(0.01),
		},
	}
}

func polled(id string, status domain.OrderStatus) *event.StatusResultEvent {
	return &event.StatusResultEvent{ClientOrderID: id, State: domain.OrderState{Status: status}}
}

func TestReconciler_InsufficientMargin(t *testing.T) {
	rt := newFakeRuntime()
	r := New(DefaultConfig(), rt, rt)
	in := intent("o1")
	_ = r.Track(in)

	out, err := r.OnSubmitResult(&event.SubmitResultEvent{Intent: in, Err: &domain.InsufficientMarginError{Code: "40762"}})
	if err != nil {
		t.Fatalf("OnSubmitResult() error = %v", err)
	}
	if !out.Unlock || !out.WalletBlocked || out.Completion != nil {
		t.Errorf("outcome = %+v; want unlock and wallet block", out)
	}
	if r.Pending() != 0 || len(rt.timers) != 0 {
		t.Errorf("pending = %d, timers = %d; want nothing left", r.Pending(), len(rt.timers))
	}
}

func TestReconciler_OtherSubmitErrorKeepsLock(t *testing.T) {
	rt := newFakeRuntime()
	r := New(DefaultConfig(), rt, rt)
	in := intent("o1")
	_ = r.Track(in)

	boom := errors.New("gateway timeout")
	out, err := r.OnSubmitResult(&event.SubmitResultEvent{Intent: in, Err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v; want %v", err, boom)
	}
	if out.Unlock || out.WalletBlocked {
		t.Errorf("outcome = %+v; lock must stay held", out)
	}
	if r.Pending() != 1 {
		t.Error("order dropped after an ambiguous submit")
	}
}

func TestReconciler_FilledThroughStream(t *testing.T) {
	r, rt := submitted(t, "o1")

	out, err := r.OnOrderUpdate(fill("o1", domain.StatusPartiallyFilled, 100000, 0.01))
	if err != nil || out.Completion != nil {
		t.Fatalf("partial = %+v, %v", out, err)
	}
	out, err = r.OnOrderUpdate(fill("o1", domain.StatusFilled, 100003, 0.02))
	if err != nil || out.Completion == nil {
		t.Fatalf("terminal = %+v, %v; want completion", out, err)
	}

	c := out.Completion
	if c.Status != domain.StatusFilled || c.Released || out.Unlock {
		t.Errorf("completion = %+v", c)
	}
	// (100000*0.01 + 100003*0.02) / 0.03 = 100002
	if c.Fill.Price != quant.ToPriceMicros(100002) || c.Fill.Qty != quant.ToQtySats(0.03) {
		t.Errorf("fill = %s @ %s; want 0.03 @ 100002", c.Fill.Qty, c.Fill.Price)
	}
	if c.Fill.Commission != quant.ToPriceMicros(0.02) {
		t.Errorf("commission = %s; want 0.02", c.Fill.Commission)
	}
	if r.Pending() != 0 || len(rt.timers) != 0 {
		t.Errorf("pending = %d, timers = %d after completion", r.Pending(), len(rt.timers))
	}
}

func TestReconciler_TerminalAckIsIdempotent(t *testing.T) {
	r, _ := submitted(t, "o1")
	ack := fill("o1", domain.StatusFilled, 100000, 0.03)

	first, _ := r.OnOrderUpdate(ack)
	second, err := r.OnOrderUpdate(ack)
	if first.Completion == nil {
		t.Fatal("first terminal ack did not complete")
	}
	if err != nil || second.Completion != nil {
		t.Errorf("replayed ack = %+v, %v; want ignored", second, err)
	}
	if err := r.Track(intent("o1")); err == nil {
		t.Error("Track() accepted a completed order id")
	}
}

func TestReconciler_OverfillIsInvariantViolation(t *testing.T) {
	r, _ := submitted(t, "o1")
	_, err := r.OnOrderUpdate(fill("o1", domain.StatusFilled, 100000, 0.04))
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Errorf("error = %v; want invariant violation", err)
	}
}

func TestReconciler_NewAfterCheckCancelsThenUnlocks(t *testing.T) {
	r, rt := submitted(t, "o1")

	rt.fire(t, r, event.TimerCheckStatus)
	if len(rt.statuses) != 1 {
		t.Fatalf("status requests = %d; want 1", len(rt.statuses))
	}

	out := r.OnStatusResult(polled("o1", domain.StatusNew))
	if !errors.Is(out.Warn, domain.ErrOrderAmbiguous) || out.Unlock {
		t.Errorf("outcome = %+v; want ambiguous warning without unlock", out)
	}
	if len(rt.cancels) != 1 {
		t.Fatalf("cancels = %d; want 1", len(rt.cancels))
	}
	if a := rt.only(t); a.d != 5*time.Second {
		t.Errorf("grace = %s; want 5s", a.d)
	}

	out = rt.fire(t, r, event.TimerGraceUnlock)
	if !out.Unlock || out.Completion != nil {
		t.Fatalf("grace outcome = %+v; want unlock", out)
	}

	// a late cancel ack with no fills still closes the record
	out, _ = r.OnOrderUpdate(domain.OrderUpdate{ClientOrderID: "o1", Status: domain.StatusCanceled})
	if out.Completion == nil || !out.Completion.Released || out.Completion.Fill.Qty != 0 {
		t.Errorf("late ack = %+v", out.Completion)
	}
	if r.Pending() != 0 || len(rt.timers) != 0 {
		t.Errorf("pending = %d, timers = %d", r.Pending(), len(rt.timers))
	}
}

func TestReconciler_PartialRetriesThenCancel(t *testing.T) {
	r, rt := submitted(t, "o1")

	// the first check and three retries stay quiet
	for i := 1; i <= 3; i++ {
		rt.fire(t, r, event.TimerCheckStatus)
		out := r.OnStatusResult(polled("o1", domain.StatusPartiallyFilled))
		if out.Warn != nil || len(rt.cancels) != 0 {
			t.Fatalf("check %d = %+v; want quiet recheck", i, out)
		}
	}

	rt.fire(t, r, event.TimerCheckStatus)
	out := r.OnStatusResult(polled("o1", domain.StatusPartiallyFilled))
	if len(rt.cancels) != 1 || !errors.Is(out.Warn, domain.ErrOrderAmbiguous) {
		t.Fatalf("fourth partial = %+v, cancels = %d; want cancel", out, len(rt.cancels))
	}
	if len(rt.statuses) != 4 {
		t.Errorf("status polls = %d; want 4", len(rt.statuses))
	}

	// the cancel lands before the grace period ends
	_, _ = r.OnOrderUpdate(fill("o1", domain.StatusPartiallyFilled, 100000, 0.01))
	out, _ = r.OnOrderUpdate(domain.OrderUpdate{ClientOrderID: "o1", Status: domain.StatusCanceled})
	if out.Completion == nil || out.Completion.Released {
		t.Fatalf("completion = %+v", out.Completion)
	}
	if out.Completion.Fill.Qty != quant.ToQtySats(0.01) || out.Completion.Status != domain.StatusCanceled {
		t.Errorf("fill = %+v", out.Completion)
	}
	if len(rt.timers) != 0 {
		t.Error("grace timer survived completion")
	}
}

func TestReconciler_PolledTerminalWithoutStream(t *testing.T) {
	r, rt := submitted(t, "o1")

	rt.fire(t, r, event.TimerCheckStatus)
	out := r.OnStatusResult(polled("o1", domain.StatusRejected))
	if out.Completion != nil || out.Unlock {
		t.Fatalf("outcome = %+v; want wait for stream", out)
	}

	out = rt.fire(t, r, event.TimerGraceUnlock)
	if out.Completion == nil || out.Completion.Status != domain.StatusRejected || out.Completion.Released {
		t.Errorf("completion = %+v", out.Completion)
	}
}

func TestReconciler_ReleasedOrderGivesUp(t *testing.T) {
	r, rt := submitted(t, "o1")

	rt.fire(t, r, event.TimerCheckStatus)
	r.OnStatusResult(polled("o1", domain.StatusNew))
	if out := rt.fire(t, r, event.TimerGraceUnlock); !out.Unlock {
		t.Fatal("grace did not unlock")
	}

	// the exchange never confirms the cancel
	var out Outcome
	for i := 0; i < 3; i++ {
		rt.fire(t, r, event.TimerCheckStatus)
		r.OnStatusResult(polled("o1", domain.StatusNew))
		out = rt.fire(t, r, event.TimerGraceUnlock)
		if out.Unlock {
			t.Fatal("lock released twice")
		}
	}
	if out.Completion == nil || out.Completion.Status != domain.StatusExpired {
		t.Fatalf("final outcome = %+v; want expired completion", out)
	}
	if r.Pending() != 0 || len(rt.timers) != 0 {
		t.Errorf("pending = %d, timers = %d", r.Pending(), len(rt.timers))
	}
}

func TestReconciler_StatusErrors(t *testing.T) {
	r, rt := submitted(t, "o1")
	boom := errors.New("503")

	for i := 0; i < 3; i++ {
		rt.fire(t, r, event.TimerCheckStatus)
		if out := r.OnStatusResult(&event.StatusResultEvent{ClientOrderID: "o1", Err: boom}); !errors.Is(out.Warn, boom) {
			t.Fatalf("warn = %v; want %v", out.Warn, boom)
		}
	}
	rt.fire(t, r, event.TimerCheckStatus)
	r.OnStatusResult(&event.StatusResultEvent{ClientOrderID: "o1", Err: boom})
	if len(rt.cancels) != 1 {
		t.Errorf("cancels = %d; want 1 after exhausting checks", len(rt.cancels))
	}
}

func TestReconciler_UnknownOrdersIgnored(t *testing.T) {
	rt := newFakeRuntime()
	r := New(DefaultConfig(), rt, rt)

	if out, err := r.OnOrderUpdate(fill("ghost", domain.StatusFilled, 1, 1)); err != nil || out.Completion != nil {
		t.Errorf("OnOrderUpdate() = %+v, %v", out, err)
	}
	if out := r.OnTimer(&event.TimerEvent{Kind: event.TimerGraceUnlock, ClientOrderID: "ghost"}); out.Unlock {
		t.Error("grace timer for unknown order unlocked")
	}
}

func TestReconciler_PolledFillWithoutStream(t *testing.T) {
	tests := []struct {
		name     string
		status   domain.OrderStatus
		streamed float64
		filled   float64
		wantQty  float64
		wantErr  bool
	}{
		{name: "filled, nothing streamed", status: domain.StatusFilled, filled: 0.03, wantQty: 0.03},
		{name: "filled, stream missed the rest", status: domain.StatusFilled, streamed: 0.01, filled: 0.03, wantQty: 0.03},
		{name: "canceled after a partial", status: domain.StatusCanceled, filled: 0.02, wantQty: 0.02},
		{name: "stream ahead of the poll", status: domain.StatusCanceled, streamed: 0.02, filled: 0.01, wantQty: 0.02},
		{name: "filled with no quantity anywhere", status: domain.StatusFilled, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, rt := submitted(t, "o1")
			if tt.streamed > 0 {
				if _, err := r.OnOrderUpdate(fill("o1", domain.StatusPartiallyFilled, 100000, tt.streamed)); err != nil {
					t.Fatal(err)
				}
			}

			rt.fire(t, r, event.TimerCheckStatus)
			out := r.OnStatusResult(&event.StatusResultEvent{ClientOrderID: "o1", State: domain.OrderState{
				Status:   tt.status,
				Filled:   quant.ToQtySats(tt.filled),
				AvgPrice: quant.ToPriceMicros(100001),
				Fee:      quant.ToPriceMicros(0.6),
			}})
			if out.Completion != nil || out.Unlock || out.Err != nil {
				t.Fatalf("poll outcome = %+v; want wait for stream", out)
			}

			out = rt.fire(t, r, event.TimerGraceUnlock)
			if tt.wantErr {
				if !errors.Is(out.Err, domain.ErrInvariantViolation) || out.Unlock || out.Completion != nil {
					t.Fatalf("outcome = %+v; want invariant violation with the lock held", out)
				}
				if r.Pending() != 1 {
					t.Error("order record dropped")
				}
				return
			}
			c := out.Completion
			if c == nil || c.Status != tt.status || out.Unlock {
				t.Fatalf("outcome = %+v", out)
			}
			if c.Fill.Qty != quant.ToQtySats(tt.wantQty) {
				t.Errorf("fill qty = %s; want %v", c.Fill.Qty, tt.wantQty)
			}
			if tt.filled > tt.streamed && (c.Fill.Price != quant.ToPriceMicros(100001) || c.Fill.Commission != quant.ToPriceMicros(0.6)) {
				t.Errorf("fill = %s @ %s fee %s; want the polled figures", c.Fill.Qty, c.Fill.Price, c.Fill.Commission)
			}
		})
	}
}

func TestReconciler_PolledOverfillIsInvariantViolation(t *testing.T) {
	r, rt := submitted(t, "o1")
	rt.fire(t, r, event.TimerCheckStatus)
	out := r.OnStatusResult(&event.StatusResultEvent{ClientOrderID: "o1", State: domain.OrderState{
		Status:   domain.StatusFilled,
		Filled:   quant.ToQtySats(0.05),
		AvgPrice: quant.ToPriceMicros(100000),
	}})
	if !errors.Is(out.Err, domain.ErrInvariantViolation) || out.Unlock {
		t.Errorf("outcome = %+v; want invariant violation", out)
	}
}

func TestReconciler_UnconfirmedSubmitHoldsLock(t *testing.T) {
	rt := newFakeRuntime()
	r := New(DefaultConfig(), rt, rt)
	in := intent("o1")
	_ = r.Track(in)
	if _, err := r.OnSubmitResult(&event.SubmitResultEvent{Intent: in, Err: errors.New("connection reset")}); err == nil {
		t.Fatal("submit error swallowed")
	}

	boom := errors.New("timeout")
	for i := 0; i < 4; i++ {
		rt.fire(t, r, event.TimerCheckStatus)
		r.OnStatusResult(&event.StatusResultEvent{ClientOrderID: "o1", Err: boom})
	}
	if len(rt.cancels) != 1 {
		t.Fatalf("cancels = %d; want 1", len(rt.cancels))
	}

	// grace keeps returning to polling until the exchange answers
	for i := 0; i < 3; i++ {
		out := rt.fire(t, r, event.TimerGraceUnlock)
		if out.Unlock || out.Completion != nil {
			t.Fatalf("grace %d = %+v; lock must stay held", i, out)
		}
		rt.fire(t, r, event.TimerCheckStatus)
		r.OnStatusResult(&event.StatusResultEvent{ClientOrderID: "o1", Err: boom})
	}

	// the order turns out to rest on the book
	rt.fire(t, r, event.TimerGraceUnlock)
	rt.fire(t, r, event.TimerCheckStatus)
	r.OnStatusResult(polled("o1", domain.StatusNew))
	if out := rt.fire(t, r, event.TimerGraceUnlock); !out.Unlock {
		t.Errorf("outcome = %+v; want unlock once the order state is known", out)
	}
}

func TestReconciler_CompletedIDsAreBounded(t *testing.T) {
	rt := newFakeRuntime()
	cfg := DefaultConfig()
	cfg.Remember = 2
	r := New(cfg, rt, rt)

	for _, id := range []string{"o1", "o2", "o3"} {
		in := intent(id)
		if err := r.Track(in); err != nil {
			t.Fatal(err)
		}
		if out, _ := r.OnOrderUpdate(fill(id, domain.StatusFilled, 100000, 0.03)); out.Completion == nil {
			t.Fatalf("%s did not complete", id)
		}
	}
	if len(r.done) != 2 {
		t.Errorf("remembered %d ids; want 2", len(r.done))
	}
	if _, ok := r.done["o1"]; ok {
		t.Error("oldest id was not evicted")
	}
	if err := r.Track(intent("o3")); err == nil {
		t.Error("Track() accepted a recently completed id")
	}
}
