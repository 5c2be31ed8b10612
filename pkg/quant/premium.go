package quant

import (
	"github.com/shopspring/decimal"
)

// KRWToUSD converts a KRW amount to USD at fx (KRW per USD), rounded half-up to 4 decimals.
func KRWToUSD(krw, fx PriceMicros) PriceMicros {
	if fx <= 0 {
		return 0
	}
	usd := krw.Decimal().Div(fx.Decimal())
	return PriceFromDecimal(RoundHalfUp(usd, 4))
}

// USDToKRW converts a USD amount to KRW at fx, rounded half-up to 4 decimals.
func USDToKRW(usd, fx PriceMicros) PriceMicros {
	return PriceFromDecimal(RoundHalfUp(usd.Decimal().Mul(fx.Decimal()), 4))
}

// GetPremium returns (domestic/overseas - 1) * 100 rounded half-up to 4 decimals.
// Both prices must be in the same currency.
func GetPremium(domestic, overseas PriceMicros) Pct {
	if overseas <= 0 {
		return 0
	}
	ratio := domestic.Decimal().Div(overseas.Decimal())
	return PctFromDecimal(ratio.Sub(decimal.NewFromInt(1)).Mul(hundred))
}

// PremiumAt converts a KRW price at fx and returns its premium over overseas.
func PremiumAt(domesticKRW, overseas, fx PriceMicros) Pct {
	return GetPremium(KRWToUSD(domesticKRW, fx), overseas)
}

// Ratio returns r as a plain fraction (1.5% -> 0.015).
func (r Pct) Ratio() decimal.Decimal {
	return r.Decimal().Div(hundred)
}
