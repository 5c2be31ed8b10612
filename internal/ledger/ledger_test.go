package ledger

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

var (
	ctx = context.Background()
	t0  = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fx  = quant.ToPriceMicros(1380)
)

type memStore struct {
	opens  []domain.OpenPosition
	closes []domain.CloseRecord
	err    error
}

func (m *memStore) PersistOpen(_ context.Context, p domain.OpenPosition) error {
	if m.err != nil {
		return m.err
	}
	m.opens = append(m.opens, p)
	return nil
}

func (m *memStore) PersistClose(_ context.Context, _ string, rec domain.CloseRecord) error {
	if m.err != nil {
		return m.err
	}
	m.closes = append(m.closes, rec)
	return nil
}

func (m *memStore) LoadOpenPositions(context.Context, string, string) ([]domain.OpenPosition, error) {
	return m.opens, m.err
}

func fill(price, qty float64) domain.LegFill {
	return domain.LegFill{Price: quant.ToPriceMicros(price), Qty: quant.ToQtySats(qty), TradeAt: t0}
}

// open records a position whose entry premium at 1380 is pct.
func open(t *testing.T, l *Ledger, id string, pct float64, qty float64) domain.OpenPosition {
	t.Helper()
	dom := 138000000 * (1 + pct/100)
	p, err := l.RecordOpen(ctx, id, fill(dom, qty), fill(100000, qty), fx)
	if err != nil {
		t.Fatalf("RecordOpen(%s) error = %v", id, err)
	}
	return p
}

func TestRecordOpen(t *testing.T) {
	store := &memStore{}
	l := New("u1", "BTC", store)

	p := open(t, l, "01", 0.5, 0.1)
	if l.Len() != 1 || len(store.opens) != 1 {
		t.Fatalf("Len() = %d, persisted %d; want 1/1", l.Len(), len(store.opens))
	}
	if p.UserID != "u1" || p.Symbol != "BTC" || p.FxRateAtEntry != fx {
		t.Errorf("position = %+v", p)
	}

	_, err := l.RecordOpen(ctx, "01", fill(1, 1), fill(1, 1), fx)
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Errorf("duplicate RecordOpen() error = %v; want invariant violation", err)
	}

	_, err = l.RecordOpen(ctx, "02", fill(1, 0), fill(1, 1), fx)
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Errorf("zero qty RecordOpen() error = %v; want invariant violation", err)
	}
}

func TestRecordOpen_PersistFailureLeavesLedger(t *testing.T) {
	store := &memStore{err: errors.New("locked")}
	l := New("u1", "BTC", store)

	_, err := l.RecordOpen(ctx, "01", fill(138000000, 0.1), fill(100000, 0.1), fx)
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("RecordOpen() error = %v; want persistence error", err)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d after failed persist; want 0", l.Len())
	}
}

func TestRecordPartialClose(t *testing.T) {
	store := &memStore{}
	l := New("u1", "BTC", store)
	open(t, l, "01", 0, 0.3)

	rec, err := l.RecordPartialClose(ctx, "01", "c1", fill(99000, 0.1), fill(138000000, 0.1), fx, t0)
	if err != nil {
		t.Fatalf("RecordPartialClose() error = %v", err)
	}
	if rec.FullyClosed {
		t.Error("first partial close reported fully closed")
	}
	p, _ := l.Get("01")
	if p.SoldOverseasQty != quant.ToQtySats(0.1) || p.SoldDomesticQty != quant.ToQtySats(0.1) {
		t.Errorf("sold = %s/%s; want 0.1/0.1", p.SoldOverseasQty, p.SoldDomesticQty)
	}

	// overshoot is an invariant violation and must not mutate
	_, err = l.RecordPartialClose(ctx, "01", "c2", fill(99000, 0.3), fill(138000000, 0.3), fx, t0)
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Fatalf("overshoot error = %v; want invariant violation", err)
	}
	if p2, _ := l.Get("01"); p2.SoldOverseasQty != p.SoldOverseasQty {
		t.Error("failed close mutated the position")
	}

	// the last close sweeps the spot dust
	rec, err = l.RecordPartialClose(ctx, "01", "c3", fill(99000, 0.2), fill(138000000, 0.19999), fx, t0)
	if err != nil {
		t.Fatalf("final RecordPartialClose() error = %v", err)
	}
	if !rec.FullyClosed || l.Len() != 0 {
		t.Errorf("FullyClosed = %v, Len() = %d; want closed and removed", rec.FullyClosed, l.Len())
	}
	if len(store.closes) != 2 {
		t.Errorf("persisted %d closes; want 2", len(store.closes))
	}
}

func TestRecordPartialClose_Unknown(t *testing.T) {
	l := New("u1", "BTC", nil)
	_, err := l.RecordPartialClose(ctx, "missing", "c1", fill(1, 1), fill(1, 1), fx, t0)
	if !errors.Is(err, domain.ErrInvariantViolation) {
		t.Errorf("error = %v; want invariant violation", err)
	}
}

func TestRecordPartialClose_PersistFailure(t *testing.T) {
	store := &memStore{}
	l := New("u1", "BTC", store)
	open(t, l, "01", 0, 0.2)
	store.err = errors.New("disk I/O error")

	_, err := l.RecordPartialClose(ctx, "01", "c1", fill(99000, 0.2), fill(138000000, 0.2), fx, t0)
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("error = %v; want persistence error", err)
	}
	p, ok := l.Get("01")
	if !ok || p.SoldOverseasQty != 0 {
		t.Errorf("ledger diverged from store: %+v", p)
	}
}

// Partial closes never decrease or exceed the sold overseas quantity.
func TestRecordPartialClose_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		l := New("u1", "BTC", nil)
		total := quant.QtySats(1 + rng.Int63n(int64(quant.QtyScale)))
		_, err := l.RecordOpen(ctx, "01", domain.LegFill{Price: quant.ToPriceMicros(138000000), Qty: total},
			domain.LegFill{Price: quant.ToPriceMicros(100000), Qty: total}, fx)
		if err != nil {
			t.Fatal(err)
		}

		var sold quant.QtySats
		for step := 0; step < 50 && l.Len() == 1; step++ {
			chunk := quant.QtySats(1 + rng.Int63n(int64(total)))
			_, err := l.RecordPartialClose(ctx, "01", "c", domain.LegFill{Price: quant.ToPriceMicros(99000), Qty: chunk},
				domain.LegFill{Price: quant.ToPriceMicros(138000000), Qty: chunk}, fx, t0)

			p, stillOpen := l.Get("01")
			switch {
			case err != nil:
				if !errors.Is(err, domain.ErrInvariantViolation) {
					t.Fatalf("unexpected error %v", err)
				}
				if sold+chunk <= total {
					t.Fatalf("valid chunk %s rejected (sold %s of %s)", chunk, sold, total)
				}
			case stillOpen:
				if p.SoldOverseasQty < sold {
					t.Fatalf("sold decreased: %s -> %s", sold, p.SoldOverseasQty)
				}
				sold = p.SoldOverseasQty
			default:
				sold = total
			}
			if sold > total {
				t.Fatalf("sold %s exceeds %s", sold, total)
			}
		}
	}
}

func TestFindCloseCandidate(t *testing.T) {
	l := New("u1", "BTC", nil)
	open(t, l, "01", 1.0, 0.1)
	open(t, l, "02", -0.2, 0.1)
	open(t, l, "03", 0.5, 0.1)

	target := quant.ToPct(1.0)
	stop := quant.ToPct(-0.5)

	tests := []struct {
		name    string
		premium float64
		wantID  string
		reason  domain.Reason
	}{
		{"none", 0.6, "", ""},
		// gaps: 01 -> 0.9, 02 -> 1.1, 03 -> 0.6; only 02 qualifies
		{"take profit later position", 0.9, "02", domain.ReasonTakeProfit},
		// gaps: 01 -> 1.6, 02 -> 2.8, 03 -> 2.1; first match wins
		{"first match", 2.6, "01", domain.ReasonTakeProfit},
		// gaps: 01 -> -1.3, 02 -> -0.1, 03 -> -0.8
		{"stop loss", -0.3, "01", domain.ReasonStopLoss},
		// exactly at target does not qualify: 02 gap == 1.0
		{"boundary", 0.8, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, reason, ok := l.FindCloseCandidate(quant.ToPct(tt.premium), fx, target, stop)
			if ok != (tt.wantID != "") || p.ID != tt.wantID || reason != tt.reason {
				t.Errorf("FindCloseCandidate(%v) = %s/%s/%v; want %s/%s", tt.premium, p.ID, reason, ok, tt.wantID, tt.reason)
			}
		})
	}
}

func TestMaxEntryGap(t *testing.T) {
	l := New("u1", "BTC", nil)
	if _, ok := l.MaxEntryGap(0, fx); ok {
		t.Error("empty ledger must report no gap")
	}
	open(t, l, "01", 1.0, 0.1)
	open(t, l, "02", 0.4, 0.1)

	maxP, _ := l.MaxEntryPremium(fx)
	if maxP != quant.ToPct(1.0) {
		t.Errorf("MaxEntryPremium() = %s; want 1.0000", maxP)
	}
	gap, _ := l.MaxEntryGap(quant.ToPct(0.2), fx)
	if gap != quant.ToPct(-0.8) {
		t.Errorf("MaxEntryGap() = %s; want -0.8000", gap)
	}
}

func TestLoad_Rehydrates(t *testing.T) {
	store := &memStore{}
	l := New("u1", "BTC", store)
	open(t, l, "01", 1.0, 0.1)
	open(t, l, "02", -0.2, 0.1)

	restored := New("u1", "BTC", store)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if restored.Len() != 2 || restored.Positions()[0].ID != "01" {
		t.Fatalf("Load() restored %+v", restored.Positions())
	}

	a, ra, _ := l.FindCloseCandidate(quant.ToPct(0.9), fx, quant.ToPct(1.0), quant.ToPct(-0.5))
	b, rb, _ := restored.FindCloseCandidate(quant.ToPct(0.9), fx, quant.ToPct(1.0), quant.ToPct(-0.5))
	if a.ID != b.ID || ra != rb {
		t.Errorf("candidate after reload = %s/%s; want %s/%s", b.ID, rb, a.ID, ra)
	}
}

func TestRestore_RejectsMalformed(t *testing.T) {
	l := New("u1", "BTC", nil)
	bad := domain.OpenPosition{ID: "01", DomesticPrice: 1, OverseasPrice: 1, DomesticQty: 1, OverseasQty: -1, FxRateAtEntry: fx}
	if err := l.Restore([]domain.OpenPosition{bad}); !errors.Is(err, domain.ErrInvariantViolation) {
		t.Errorf("Restore() error = %v; want invariant violation", err)
	}
}

func TestProfitRates(t *testing.T) {
	p := &domain.OpenPosition{
		DomesticPrice: quant.ToPriceMicros(138000000), DomesticQty: quant.ToQtySats(1),
		OverseasPrice: quant.ToPriceMicros(100000), OverseasQty: quant.ToQtySats(1),
		FxRateAtEntry: fx,
	}

	// spot +1% in KRW at the same fx, short flat: invested 100,000 final 101,000
	profit, net := ProfitRates(p, fill(100000, 1), fill(139380000, 1), fx)
	if profit != quant.ToPct(1.0) || net != profit {
		t.Errorf("ProfitRates() = %s/%s; want 1.0000/1.0000", profit, net)
	}

	// short gains 1,000 USDT while spot is flat
	profit, _ = ProfitRates(p, fill(99000, 1), fill(138000000, 1), fx)
	if profit != quant.ToPct(1.0) {
		t.Errorf("short profit = %s; want 1.0000", profit)
	}

	// fees lower the net rate
	p.DomesticCommission = quant.ToPriceMicros(69000) // 50 USD at entry fx
	exit := fill(99000, 1)
	exit.Commission = quant.ToPriceMicros(50)
	profit, net = ProfitRates(p, exit, fill(138000000, 1), fx)
	// (101000 - 50) / (100000 + 50) - 1 = 0.89955...%
	if profit != quant.ToPct(1.0) || net != quant.ToPct(0.8896) {
		t.Errorf("ProfitRates() with fees = %s/%s; want 1.0000/0.8896", profit, net)
	}
}
