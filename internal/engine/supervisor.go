package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/internal/event"
)

type engineKey struct {
	userID string
	symbol string
}

// Supervisor runs independent engines in parallel. A halted engine never stops the others.
type Supervisor struct {
	mu      sync.RWMutex
	ctx     context.Context
	engines map[engineKey]*Engine
	order   []*Engine
}

func NewSupervisor() *Supervisor {
	return &Supervisor{ctx: context.Background(), engines: make(map[engineKey]*Engine)}
}

// Add registers an engine. Each (user, symbol) pair may have one engine.
func (s *Supervisor) Add(e *Engine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := engineKey{e.UserID(), e.Symbol()}
	if _, ok := s.engines[k]; ok {
		return fmt.Errorf("engine %s/%s already registered", k.userID, k.symbol)
	}
	s.engines[k] = e
	s.order = append(s.order, e)
	return nil
}

// Engines returns the registered engines in registration order.
func (s *Supervisor) Engines() []*Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Engine, len(s.order))
	copy(out, s.order)
	return out
}

// Get returns the engine of (userID, symbol).
func (s *Supervisor) Get(userID, symbol string) (*Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.engines[engineKey{userID, symbol}]
	return e, ok
}

// RouteUpdate delivers a user-stream execution report to its engine. It blocks until the
// engine accepts it, stops, or the supervisor's context ends; fills are never dropped.
func (s *Supervisor) RouteUpdate(userID string, u domain.OrderUpdate) {
	e, ok := s.Get(userID, u.Symbol)
	if !ok {
		slog.Debug("ORDER_UPDATE_UNROUTED", slog.String("user", userID), slog.String("symbol", u.Symbol), slog.String("id", u.ClientOrderID))
		return
	}

	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	select {
	case e.Inbox() <- &event.OrderUpdateEvent{UserID: userID, Update: u}:
	case <-e.Done():
	case <-ctx.Done():
	}
}

// Run starts every engine and waits for all of them to return. The result combines the
// fatal errors of halted engines.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	engines := make([]*Engine, len(s.order))
	copy(engines, s.order)
	s.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, e := range engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			if err := e.Run(ctx); err != nil {
				slog.Error("ENGINE_STOPPED",
					slog.String("user", e.UserID()),
					slog.String("symbol", e.Symbol()),
					slog.Any("error", err))
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("engine %s/%s: %w", e.UserID(), e.Symbol(), err))
				mu.Unlock()
			}
		}(e)
	}

	slog.Info("Supervisor started", slog.Int("engines", len(engines)))
	wg.Wait()
	return errs
}
