package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
	"github.com/dlgusgh4608/arbitrage/pkg/safe"
)

// Config holds the premium band thresholds. Percentages are quant.Pct.
type Config struct {
	MoveWindow       int
	MinMoveValue     quant.PriceMicros
	MinProfitRate    quant.Pct
	StopLoss         quant.Pct
	AvgDownThreshold quant.Pct
	SafetyPercent    quant.Pct
	OrderStairs      int64
	Leverage         int64
	PriceDecimals    int
	QtyDecimals      int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MoveWindow:       5,
		MinMoveValue:     quant.ToPriceMicros(0.2),
		MinProfitRate:    quant.ToPct(0.35),
		StopLoss:         quant.ToPct(-0.5),
		AvgDownThreshold: quant.ToPct(-0.5),
		SafetyPercent:    quant.ToPct(98),
		OrderStairs:      2,
		Leverage:         5,
		PriceDecimals:    2,
		QtyDecimals:      3,
	}
}

// Validate rejects configurations that cannot size or price an order.
func (c Config) Validate() error {
	switch {
	case c.MoveWindow <= 0:
		return fmt.Errorf("move window must be positive")
	case c.OrderStairs <= 0:
		return fmt.Errorf("order stairs must be positive")
	case c.Leverage <= 0:
		return fmt.Errorf("leverage must be positive")
	case c.SafetyPercent <= 0 || c.SafetyPercent > quant.ToPct(100):
		return fmt.Errorf("safety percent must be in (0, 100]")
	case c.PriceDecimals < 0 || c.PriceDecimals > quant.PriceDecimals:
		return fmt.Errorf("price decimals out of range")
	case c.QtyDecimals < 0 || c.QtyDecimals > quant.QtyDecimals:
		return fmt.Errorf("qty decimals out of range")
	}
	return nil
}

// PremiumBand enters when the premium falls below the band's knee and unwinds each position
// once its premium has moved past the profit target or the stop loss.
type PremiumBand struct {
	cfg    Config
	symbol string
	window *moveWindow
}

// NewPremiumBand creates the strategy for one symbol.
func NewPremiumBand(symbol string, cfg Config) (*PremiumBand, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}
	return &PremiumBand{cfg: cfg, symbol: symbol, window: newMoveWindow(cfg.MoveWindow)}, nil
}

func (s *PremiumBand) Name() string { return "premium_band" }

func (s *PremiumBand) Reset() { s.window.Reset() }

// OnPremium evaluates one premium tick.
func (s *PremiumBand) OnPremium(in Input) (*domain.OrderIntent, error) {
	p := in.Premium
	if p.Symbol != s.symbol {
		return nil, nil
	}
	if p.OverseasPrice <= 0 || p.DomesticPrice <= 0 || p.FxRate <= 0 {
		return nil, fmt.Errorf("strategy: malformed premium %+v", p)
	}

	s.window.Push(p.OverseasPrice)
	if !s.window.Ready() || in.Band.IsZero() {
		return nil, nil
	}

	move := safe.Max(s.window.Avg(), s.cfg.MinMoveValue)
	premiumOfStandard := in.Band.PremiumOfStandard(p.DomesticPrice, p.OverseasPrice)
	knee := in.Band.Knee()
	profitTarget := in.Band.ProfitTarget(s.cfg.MinProfitRate)

	if in.Positions.Len() > 0 {
		cand, reason, ok := in.Positions.FindCloseCandidate(premiumOfStandard, in.Band.AvgFxRate, profitTarget, s.cfg.StopLoss)
		if ok {
			intent := &domain.OrderIntent{
				Symbol:     s.symbol,
				Hedge:      domain.HedgeSell,
				PositionID: cand.ID,
				Qty:        cand.UnsoldOverseas(),
				Price:      quant.FloorPrice(safe.Sub(p.OverseasPrice, move), s.cfg.PriceDecimals),
				FxRate:     p.FxRate,
				Premium:    p.Premium,
				Reason:     reason,
			}
			if intent.Qty <= 0 || intent.Price <= 0 {
				return nil, &domain.InvariantViolation{Symbol: s.symbol,
					Detail: fmt.Sprintf("close of %s sized %s @ %s", cand.ID, intent.Qty, intent.Price)}
			}
			s.window.Reset()
			return intent, nil
		}
	}

	if in.WalletBlocked || knee <= premiumOfStandard {
		return nil, nil
	}

	reason := domain.ReasonEntry
	if in.Positions.Len() > 0 {
		gap, _ := in.Positions.MaxEntryGap(premiumOfStandard, in.Band.AvgFxRate)
		if gap > s.cfg.AvgDownThreshold {
			return nil, nil
		}
		reason = domain.ReasonAverageDown
	}

	price := quant.FloorPrice(safe.Add(p.OverseasPrice, move), s.cfg.PriceDecimals)
	qty := s.size(in, price)
	if qty <= 0 {
		return nil, nil
	}

	s.window.Reset()
	return &domain.OrderIntent{
		Symbol:  s.symbol,
		Hedge:   domain.HedgeBuy,
		Qty:     qty,
		Price:   price,
		FxRate:  p.FxRate,
		Premium: p.Premium,
		Reason:  reason,
	}, nil
}

// size is min(clean*safe/stairs, current*safe) / price, where a wallet is worth
// min(domestic in USD, overseas margin * leverage).
func (s *PremiumBand) size(in Input, price quant.PriceMicros) quant.QtySats {
	safeFrac := s.cfg.SafetyPercent.Ratio().Sub(safe.Abs(in.Premium.Premium).Ratio())
	if !safeFrac.IsPositive() || price <= 0 {
		return 0
	}

	fx := in.Premium.FxRate
	clean := s.walletValue(in.CleanWallet, fx).Mul(safeFrac).Div(decimal.NewFromInt(s.cfg.OrderStairs))
	current := s.walletValue(in.Wallet, fx).Mul(safeFrac)
	budget := decimal.Min(clean, current)
	if !budget.IsPositive() {
		return 0
	}
	return quant.FloorQtyDecimal(budget.Div(price.Decimal()), s.cfg.QtyDecimals)
}

func (s *PremiumBand) walletValue(w domain.WalletSnapshot, fx quant.PriceMicros) decimal.Decimal {
	domestic := quant.KRWToUSD(w.DomesticAvailable, fx).Decimal()
	overseas := w.OverseasAvailable.Decimal().Mul(decimal.NewFromInt(s.cfg.Leverage))
	return decimal.Min(domestic, overseas)
}
