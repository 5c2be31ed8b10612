package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

var hundred = decimal.NewFromInt(100)

// ProfitRates values one unwind of p in USD.
//
//	invested = entry spot cost / entry fx
//	final    = exit spot proceeds / exit fx + short pnl
//	profit   = (final / invested - 1) * 100
//	net      = ((final - exit fees) / (invested + entry fees) - 1) * 100
//
// Entry fees are pro-rated by the closed share of each leg.
func ProfitRates(p *domain.OpenPosition, overseas, domestic domain.LegFill, fx quant.PriceMicros) (profit, net quant.Pct) {
	if p.DomesticQty <= 0 || p.OverseasQty <= 0 || p.FxRateAtEntry <= 0 || fx <= 0 {
		return 0, 0
	}

	entryFx := p.FxRateAtEntry.Decimal()
	exitFx := fx.Decimal()
	domQty := domestic.Qty.Decimal()
	ovsQty := overseas.Qty.Decimal()

	invested := p.DomesticPrice.Decimal().Mul(domQty).Div(entryFx)
	if invested.IsZero() {
		return 0, 0
	}
	shortPnL := p.OverseasPrice.Decimal().Sub(overseas.Price.Decimal()).Mul(ovsQty)
	final := domestic.Price.Decimal().Mul(domQty).Div(exitFx).Add(shortPnL)

	domShare := domQty.Div(p.DomesticQty.Decimal())
	ovsShare := ovsQty.Div(p.OverseasQty.Decimal())
	entryFees := p.DomesticCommission.Decimal().Mul(domShare).Div(entryFx).
		Add(p.OverseasCommission.Decimal().Mul(ovsShare))
	exitFees := domestic.Commission.Decimal().Div(exitFx).Add(overseas.Commission.Decimal())

	profit = rate(final, invested)
	net = rate(final.Sub(exitFees), invested.Add(entryFees))
	return profit, net
}

func rate(final, invested decimal.Decimal) quant.Pct {
	if invested.IsZero() {
		return 0
	}
	return quant.PctFromDecimal(final.Div(invested).Sub(decimal.NewFromInt(1)).Mul(hundred))
}
