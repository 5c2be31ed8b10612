package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/internal/event"
)

// SampleStore persists archived premiums.
type SampleStore interface {
	AppendSample(ctx context.Context, s domain.PremiumSample) error
}

// Archiver keeps the first premium of every minute per symbol. The band estimator reads these back.
type Archiver struct {
	store SampleStore
	last  map[string]time.Time
}

// NewArchiver creates an archiver writing to store.
func NewArchiver(store SampleStore) *Archiver {
	return &Archiver{store: store, last: make(map[string]time.Time)}
}

// Record stores p if it opens a new minute for its symbol.
func (a *Archiver) Record(ctx context.Context, p domain.Premium) (bool, error) {
	s := domain.SampleOf(p)
	if prev, ok := a.last[s.Symbol]; ok && !s.Minute.After(prev) {
		return false, nil
	}
	if err := a.store.AppendSample(ctx, s); err != nil {
		return false, err
	}
	a.last[s.Symbol] = s.Minute
	return true, nil
}

// Run archives premium events until ctx is done or in is closed.
func (a *Archiver) Run(ctx context.Context, in <-chan event.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			pe, ok := ev.(*event.PremiumEvent)
			if !ok {
				continue
			}
			if _, err := a.Record(ctx, pe.Premium); err != nil {
				slog.Error("premium archive failed",
					slog.String("symbol", pe.Premium.Symbol),
					slog.Any("error", err),
				)
			}
		}
	}
}
