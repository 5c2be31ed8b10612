package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// Premium is the merged view of both legs at one instant.
type Premium struct {
	Symbol          string            `json:"symbol"`
	DomesticPrice   quant.PriceMicros `json:"domestic,string"` // KRW
	OverseasPrice   quant.PriceMicros `json:"overseas,string"` // USDT
	FxRate          quant.PriceMicros `json:"fx_rate,string"`  // KRW per USD
	Premium         quant.Pct         `json:"premium,string"`
	DomesticTradeAt time.Time         `json:"domestic_trade_at"`
	OverseasTradeAt time.Time         `json:"overseas_trade_at"`
}

// NewPremium computes the premium of domestic over overseas at fx.
func NewPremium(symbol string, domestic, overseas Tick, fx quant.PriceMicros) Premium {
	return Premium{
		Symbol:          symbol,
		DomesticPrice:   domestic.Price,
		OverseasPrice:   overseas.Price,
		FxRate:          fx,
		Premium:         quant.PremiumAt(domestic.Price, overseas.Price, fx),
		DomesticTradeAt: domestic.TradeAt,
		OverseasTradeAt: overseas.TradeAt,
	}
}

// Skew is the absolute trade time difference between the legs.
func (p Premium) Skew() time.Duration {
	d := p.DomesticTradeAt.Sub(p.OverseasTradeAt)
	if d < 0 {
		return -d
	}
	return d
}

// PremiumSample is one archived premium, bucketed by minute.
type PremiumSample struct {
	Symbol          string
	Minute          time.Time
	Premium         quant.Pct
	DomesticPrice   quant.PriceMicros
	OverseasPrice   quant.PriceMicros
	FxRate          quant.PriceMicros
	DomesticTradeAt time.Time
	OverseasTradeAt time.Time
}

// SampleOf buckets p into the minute containing its overseas trade.
func SampleOf(p Premium) PremiumSample {
	return PremiumSample{
		Symbol:          p.Symbol,
		Minute:          p.OverseasTradeAt.Truncate(time.Minute),
		Premium:         p.Premium,
		DomesticPrice:   p.DomesticPrice,
		OverseasPrice:   p.OverseasPrice,
		FxRate:          p.FxRate,
		DomesticTradeAt: p.DomesticTradeAt,
		OverseasTradeAt: p.OverseasTradeAt,
	}
}

var quarter = decimal.New(25, -2)

// StandardBand is the reference FX rate and premium range of recent history.
type StandardBand struct {
	AvgFxRate  quant.PriceMicros `json:"avg_fx_rate,string"`
	MinPremium quant.Pct         `json:"min_premium,string"`
	MaxPremium quant.Pct         `json:"max_premium,string"`
	Samples    int               `json:"samples"`
	ComputedAt time.Time         `json:"computed_at"`
}

// IsZero reports a missing band. Trading is disabled while the band is zero.
func (b StandardBand) IsZero() bool {
	return b.AvgFxRate <= 0 || (b.MinPremium == 0 && b.MaxPremium == 0)
}

func (b StandardBand) quarterWidth() decimal.Decimal {
	return (b.MaxPremium - b.MinPremium).Decimal().Mul(quarter)
}

// Knee is min + (max-min)*0.25.
func (b StandardBand) Knee() quant.Pct {
	return quant.PctFromDecimal(b.MinPremium.Decimal().Add(b.quarterWidth()))
}

// Shoulder is max - (max-min)*0.25.
func (b StandardBand) Shoulder() quant.Pct {
	return quant.PctFromDecimal(b.MaxPremium.Decimal().Sub(b.quarterWidth()))
}

// ProfitTarget is max(shoulder-knee, floor).
func (b StandardBand) ProfitTarget(floor quant.Pct) quant.Pct {
	if w := b.Shoulder() - b.Knee(); w > floor {
		return w
	}
	return floor
}

// PremiumOfStandard is the premium of the given prices at the band's reference FX rate.
func (b StandardBand) PremiumOfStandard(domestic, overseas quant.PriceMicros) quant.Pct {
	return quant.PremiumAt(domestic, overseas, b.AvgFxRate)
}
