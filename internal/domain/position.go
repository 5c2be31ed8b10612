package domain

import (
	"fmt"
	"time"

	"github.com/dlgusgh4608/arbitrage/pkg/quant"
	"github.com/dlgusgh4608/arbitrage/pkg/safe"
)

// LegFill is an executed quantity on one leg.
// Commission is in the leg's quote currency (KRW domestic, USDT overseas).
type LegFill struct {
	Price      quant.PriceMicros `json:"price,string"`
	Qty        quant.QtySats     `json:"qty,string"`
	Commission quant.PriceMicros `json:"commission,string"`
	TradeAt    time.Time         `json:"trade_at"`
}

// Notional returns price*qty in the leg's quote currency.
func (f LegFill) Notional() quant.PriceMicros {
	return quant.PriceFromDecimal(f.Price.Decimal().Mul(f.Qty.Decimal()))
}

// OpenPosition is one hedged entry: domestic spot long plus overseas futures short.
// All money values are int64 fixed point.
type OpenPosition struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Symbol string `json:"symbol"`

	DomesticPrice      quant.PriceMicros `json:"domestic_price,string"`
	DomesticQty        quant.QtySats     `json:"domestic_qty,string"`
	SoldDomesticQty    quant.QtySats     `json:"sold_domestic_qty,string"`
	DomesticCommission quant.PriceMicros `json:"domestic_commission,string"`

	OverseasPrice      quant.PriceMicros `json:"overseas_price,string"`
	OverseasQty        quant.QtySats     `json:"overseas_qty,string"`
	SoldOverseasQty    quant.QtySats     `json:"sold_overseas_qty,string"`
	OverseasCommission quant.PriceMicros `json:"overseas_commission,string"`

	FxRateAtEntry quant.PriceMicros `json:"fx_rate,string"`
	OpenedAt      time.Time         `json:"opened_at"`
}

// UnsoldOverseas is the short quantity still open.
func (p *OpenPosition) UnsoldOverseas() quant.QtySats {
	return safe.Sub(p.OverseasQty, p.SoldOverseasQty)
}

// UnsoldDomestic is the spot quantity still held.
func (p *OpenPosition) UnsoldDomestic() quant.QtySats {
	return safe.Sub(p.DomesticQty, p.SoldDomesticQty)
}

// IsClosed reports whether the overseas leg is fully bought back.
func (p *OpenPosition) IsClosed() bool {
	return p.SoldOverseasQty == p.OverseasQty
}

// EntryPremium is the premium of the entry prices at the given reference FX rate.
func (p *OpenPosition) EntryPremium(fx quant.PriceMicros) quant.Pct {
	return quant.PremiumAt(p.DomesticPrice, p.OverseasPrice, fx)
}

// Validate checks the structural invariants of the position.
func (p *OpenPosition) Validate() error {
	switch {
	case p.ID == "":
		return &InvariantViolation{Symbol: p.Symbol, Detail: "position without id"}
	case p.DomesticPrice <= 0 || p.OverseasPrice <= 0:
		return &InvariantViolation{Symbol: p.Symbol, Detail: fmt.Sprintf("position %s has non-positive price", p.ID)}
	case p.DomesticQty <= 0 || p.OverseasQty <= 0:
		return &InvariantViolation{Symbol: p.Symbol, Detail: fmt.Sprintf("position %s has non-positive quantity", p.ID)}
	case p.SoldOverseasQty < 0 || p.SoldOverseasQty > p.OverseasQty:
		return &InvariantViolation{Symbol: p.Symbol, Detail: fmt.Sprintf("position %s sold overseas %s of %s", p.ID, p.SoldOverseasQty, p.OverseasQty)}
	case p.SoldDomesticQty < 0 || p.SoldDomesticQty > p.DomesticQty:
		return &InvariantViolation{Symbol: p.Symbol, Detail: fmt.Sprintf("position %s sold domestic %s of %s", p.ID, p.SoldDomesticQty, p.DomesticQty)}
	case p.FxRateAtEntry <= 0:
		return &InvariantViolation{Symbol: p.Symbol, Detail: fmt.Sprintf("position %s has no entry fx rate", p.ID)}
	}
	return nil
}

// CloseRecord is one (partial) unwind of a position.
type CloseRecord struct {
	PositionID    string            `json:"position_id"`
	OrderID       string            `json:"order_id"`
	Domestic      LegFill           `json:"domestic"`
	Overseas      LegFill           `json:"overseas"`
	FxRate        quant.PriceMicros `json:"fx_rate,string"`
	ProfitRate    quant.Pct         `json:"profit_rate,string"`
	NetProfitRate quant.Pct         `json:"net_profit_rate,string"`
	FullyClosed   bool              `json:"fully_closed"`
	ClosedAt      time.Time         `json:"closed_at"`
}
