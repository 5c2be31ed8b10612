package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
	"github.com/dlgusgh4608/arbitrage/pkg/safe"
)

// Store persists ledger changes. Every mutation is written before it is applied in memory.
type Store interface {
	PersistOpen(ctx context.Context, p domain.OpenPosition) error
	PersistClose(ctx context.Context, positionID string, rec domain.CloseRecord) error
	LoadOpenPositions(ctx context.Context, userID, symbol string) ([]domain.OpenPosition, error)
}

// Ledger holds the open positions of one (user, symbol) pair in insertion order.
// It is not safe for concurrent use: the owning engine goroutine serializes access.
type Ledger struct {
	userID    string
	symbol    string
	store     Store
	positions []*domain.OpenPosition
}

// New creates an empty ledger. A nil store keeps the ledger memory only.
func New(userID, symbol string, store Store) *Ledger {
	return &Ledger{userID: userID, symbol: symbol, store: store}
}

// Load rehydrates the ledger from the store.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	ps, err := l.store.LoadOpenPositions(ctx, l.userID, l.symbol)
	if err != nil {
		return &domain.PersistenceError{Op: "load open positions", Err: err}
	}
	return l.Restore(ps)
}

// Restore replaces the ledger content with ps, keeping their order.
func (l *Ledger) Restore(ps []domain.OpenPosition) error {
	restored := make([]*domain.OpenPosition, 0, len(ps))
	seen := make(map[string]struct{}, len(ps))
	for i := range ps {
		p := ps[i]
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.ID]; dup {
			return l.violation("duplicate position %s", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.IsClosed() {
			continue
		}
		restored = append(restored, &p)
	}
	l.positions = restored
	return nil
}

// Len returns the number of open positions.
func (l *Ledger) Len() int { return len(l.positions) }

// Positions returns copies of the open positions in insertion order.
func (l *Ledger) Positions() []domain.OpenPosition {
	out := make([]domain.OpenPosition, len(l.positions))
	for i, p := range l.positions {
		out[i] = *p
	}
	return out
}

// Get returns a copy of the position with the given id.
func (l *Ledger) Get(id string) (domain.OpenPosition, bool) {
	if i := l.index(id); i >= 0 {
		return *l.positions[i], true
	}
	return domain.OpenPosition{}, false
}

func (l *Ledger) index(id string) int {
	for i, p := range l.positions {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// RecordOpen appends a position once both legs of an opening order are filled.
func (l *Ledger) RecordOpen(ctx context.Context, orderID string, domestic, overseas domain.LegFill, fx quant.PriceMicros) (domain.OpenPosition, error) {
	if l.index(orderID) >= 0 {
		return domain.OpenPosition{}, l.violation("position %s already open", orderID)
	}

	p := domain.OpenPosition{
		ID:                 orderID,
		UserID:             l.userID,
		Symbol:             l.symbol,
		DomesticPrice:      domestic.Price,
		DomesticQty:        domestic.Qty,
		DomesticCommission: domestic.Commission,
		OverseasPrice:      overseas.Price,
		OverseasQty:        overseas.Qty,
		OverseasCommission: overseas.Commission,
		FxRateAtEntry:      fx,
		OpenedAt:           overseas.TradeAt,
	}
	if err := p.Validate(); err != nil {
		return domain.OpenPosition{}, err
	}

	if l.store != nil {
		if err := l.store.PersistOpen(ctx, p); err != nil {
			return domain.OpenPosition{}, &domain.PersistenceError{Op: "persist open " + orderID, Err: err}
		}
	}
	l.positions = append(l.positions, &p)
	return p, nil
}

// RecordPartialClose applies one unwind fill to a position. The position is removed when its
// overseas quantity is fully bought back.
func (l *Ledger) RecordPartialClose(ctx context.Context, positionID, orderID string, overseas, domestic domain.LegFill, fx quant.PriceMicros, at time.Time) (domain.CloseRecord, error) {
	i := l.index(positionID)
	if i < 0 {
		return domain.CloseRecord{}, l.violation("close of unknown position %s", positionID)
	}
	cur := l.positions[i]

	if overseas.Qty <= 0 || domestic.Qty < 0 {
		return domain.CloseRecord{}, l.violation("close of %s with qty %s/%s", positionID, overseas.Qty, domestic.Qty)
	}
	if fx <= 0 {
		return domain.CloseRecord{}, l.violation("close of %s without fx rate", positionID)
	}

	next := *cur
	next.SoldOverseasQty = safe.Add(next.SoldOverseasQty, overseas.Qty)
	next.SoldDomesticQty = safe.Add(next.SoldDomesticQty, domestic.Qty)
	if next.IsClosed() && next.SoldDomesticQty < next.DomesticQty {
		// spot dust left by exchange rounding goes out with the last close
		next.SoldDomesticQty = next.DomesticQty
	}
	if err := next.Validate(); err != nil {
		return domain.CloseRecord{}, err
	}

	profit, net := ProfitRates(cur, overseas, domestic, fx)
	rec := domain.CloseRecord{
		PositionID:    positionID,
		OrderID:       orderID,
		Domestic:      domestic,
		Overseas:      overseas,
		FxRate:        fx,
		ProfitRate:    profit,
		NetProfitRate: net,
		FullyClosed:   next.IsClosed(),
		ClosedAt:      at,
	}

	if l.store != nil {
		if err := l.store.PersistClose(ctx, positionID, rec); err != nil {
			return domain.CloseRecord{}, &domain.PersistenceError{Op: "persist close " + positionID, Err: err}
		}
	}

	if rec.FullyClosed {
		l.positions = append(l.positions[:i], l.positions[i+1:]...)
	} else {
		*cur = next
	}
	return rec, nil
}

// CloseReason says why a candidate qualified.
type CloseReason = domain.Reason

// FindCloseCandidate returns the first position, in insertion order, whose gap between
// premiumOfStandard and its entry premium exceeds profitTarget or falls below stopLoss.
func (l *Ledger) FindCloseCandidate(premiumOfStandard quant.Pct, avgFx quant.PriceMicros, profitTarget, stopLoss quant.Pct) (domain.OpenPosition, CloseReason, bool) {
	for _, p := range l.positions {
		gap := premiumOfStandard - p.EntryPremium(avgFx)
		switch {
		case gap > profitTarget:
			return *p, domain.ReasonTakeProfit, true
		case gap < stopLoss:
			return *p, domain.ReasonStopLoss, true
		}
	}
	return domain.OpenPosition{}, "", false
}

// MaxEntryPremium returns the highest entry premium among open positions at avgFx.
func (l *Ledger) MaxEntryPremium(avgFx quant.PriceMicros) (quant.Pct, bool) {
	if len(l.positions) == 0 {
		return 0, false
	}
	maxP := l.positions[0].EntryPremium(avgFx)
	for _, p := range l.positions[1:] {
		if e := p.EntryPremium(avgFx); e > maxP {
			maxP = e
		}
	}
	return maxP, true
}

// MaxEntryGap is premiumOfStandard minus the highest entry premium.
// Averaging down is allowed only when this is at or below the threshold.
func (l *Ledger) MaxEntryGap(premiumOfStandard quant.Pct, avgFx quant.PriceMicros) (quant.Pct, bool) {
	maxP, ok := l.MaxEntryPremium(avgFx)
	if !ok {
		return 0, false
	}
	return premiumOfStandard - maxP, true
}

func (l *Ledger) violation(format string, args ...any) error {
	return &domain.InvariantViolation{Symbol: l.symbol, Detail: fmt.Sprintf(format, args...)}
}
