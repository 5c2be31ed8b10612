package band

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// SampleSource returns the newest archived samples of a symbol, newest first.
type SampleSource interface {
	RecentSamples(ctx context.Context, symbol string, limit int) ([]domain.PremiumSample, error)
}

// Config tunes history requirements.
type Config struct {
	// GapTolerance is how much older than the lookback the earliest sample may be.
	GapTolerance time.Duration
	// MinSamples is the minimum number of one-minute samples required.
	MinSamples int
}

// DefaultConfig allows a 5 minute gap and needs an hour of history.
func DefaultConfig() Config {
	return Config{GapTolerance: 5 * time.Minute, MinSamples: 60}
}

// Estimator computes StandardBands from archived premium samples.
type Estimator struct {
	cfg Config
	src SampleSource
	now func() time.Time
}

// NewEstimator creates an estimator reading from src.
func NewEstimator(cfg Config, src SampleSource) *Estimator {
	return &Estimator{cfg: cfg, src: src, now: time.Now}
}

// WithClock overrides the wall clock.
func (e *Estimator) WithClock(now func() time.Time) *Estimator {
	e.now = now
	return e
}

// Refresh queries the most recent lookback minutes of samples and computes the band.
// An InsufficientHistoryError tells the caller to keep its previous band.
func (e *Estimator) Refresh(ctx context.Context, symbol string, lookbackMinutes int) (domain.StandardBand, error) {
	if lookbackMinutes <= 0 {
		return domain.StandardBand{}, fmt.Errorf("band: lookback must be positive, got %d", lookbackMinutes)
	}

	samples, err := e.src.RecentSamples(ctx, symbol, lookbackMinutes)
	if err != nil {
		return domain.StandardBand{}, fmt.Errorf("band: query %s samples: %w", symbol, err)
	}
	if len(samples) == 0 {
		return domain.StandardBand{}, &domain.InsufficientHistoryError{Symbol: symbol, Reason: "no samples"}
	}

	earliest := samples[0].Minute
	for _, s := range samples[1:] {
		if s.Minute.Before(earliest) {
			earliest = s.Minute
		}
	}

	now := e.now()
	window := time.Duration(lookbackMinutes)*time.Minute + e.cfg.GapTolerance
	if now.Sub(earliest) > window {
		return domain.StandardBand{}, &domain.InsufficientHistoryError{
			Symbol:   symbol,
			Samples:  len(samples),
			Earliest: earliest,
			Reason:   fmt.Sprintf("earliest sample older than %s", window),
		}
	}

	need := e.cfg.MinSamples
	if lookbackMinutes < need {
		need = lookbackMinutes
	}
	if len(samples) < need {
		return domain.StandardBand{}, &domain.InsufficientHistoryError{
			Symbol:   symbol,
			Samples:  len(samples),
			Earliest: earliest,
			Reason:   fmt.Sprintf("need %d samples", need),
		}
	}

	band := Compute(samples)
	band.ComputedAt = now
	return band, nil
}

type pricePair struct {
	domestic quant.PriceMicros
	overseas quant.PriceMicros
}

// Compute derives the band from samples: the FX rate is averaged over distinct
// (domestic, overseas) pairs, and premiums are recomputed at that rate.
func Compute(samples []domain.PremiumSample) domain.StandardBand {
	if len(samples) == 0 {
		return domain.StandardBand{}
	}

	seen := make(map[pricePair]struct{}, len(samples))
	sum := decimal.Zero
	n := int64(0)
	for _, s := range samples {
		k := pricePair{s.DomesticPrice, s.OverseasPrice}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		sum = sum.Add(s.FxRate.Decimal())
		n++
	}
	avg := quant.PriceFromDecimal(quant.RoundHalfUp(sum.Div(decimal.NewFromInt(n)), 4))

	band := domain.StandardBand{AvgFxRate: avg, Samples: len(samples)}
	for i, s := range samples {
		p := quant.PremiumAt(s.DomesticPrice, s.OverseasPrice, avg)
		if i == 0 || p < band.MinPremium {
			band.MinPremium = p
		}
		if i == 0 || p > band.MaxPremium {
			band.MaxPremium = p
		}
	}
	return band
}
