package domain

import (
	"time"

	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// Leg identifies which side of the hedge a price belongs to.
type Leg uint8

const (
	LegDomestic Leg = iota + 1 // KRW spot (Upbit)
	LegOverseas                // USDT futures (Bitget)
)

func (l Leg) String() string {
	switch l {
	case LegDomestic:
		return "DOMESTIC"
	case LegOverseas:
		return "OVERSEAS"
	default:
		return "UNKNOWN"
	}
}

// Tick is a single trade print from one leg. Symbol is the unified base asset ("BTC").
// Domestic prices are KRW, overseas prices are USDT.
type Tick struct {
	Symbol  string            `json:"symbol"`
	Leg     Leg               `json:"leg"`
	Price   quant.PriceMicros `json:"price,string"`
	Qty     quant.QtySats     `json:"qty,string"`
	TradeAt time.Time         `json:"trade_at"`
}

// Valid reports whether the tick can be used for pricing.
func (t Tick) Valid() bool {
	return t.Symbol != "" && t.Price > 0 && !t.TradeAt.IsZero() && (t.Leg == LegDomestic || t.Leg == LegOverseas)
}
