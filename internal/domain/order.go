package domain

import (
	"fmt"
	"time"

	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// Side is the exchange order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// HedgeSide is the direction of the paired trade.
// HedgeBuy opens (spot long + futures short), HedgeSell unwinds.
type HedgeSide uint8

const (
	HedgeBuy HedgeSide = iota + 1
	HedgeSell
)

func (h HedgeSide) String() string {
	switch h {
	case HedgeBuy:
		return "BUY"
	case HedgeSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// OverseasSide is the futures order side that implements the hedge direction.
func (h HedgeSide) OverseasSide() Side {
	if h == HedgeBuy {
		return SideSell
	}
	return SideBuy
}

// Reason tags why an intent was produced.
type Reason string

const (
	ReasonEntry       Reason = "entry"
	ReasonAverageDown Reason = "average_down"
	ReasonTakeProfit  Reason = "take_profit"
	ReasonStopLoss    Reason = "stop_loss"
)

// OrderStatus mirrors the exchange order state.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsOpen checks if the order is still active on the exchange.
func (s OrderStatus) IsOpen() bool {
	return s == StatusNew || s == StatusPartiallyFilled
}

// IsTerminal reports a final exchange state.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OrderIntent is a decision to place one overseas limit order.
type OrderIntent struct {
	ClientOrderID string            `json:"client_order_id"`
	UserID        string            `json:"user_id"`
	Symbol        string            `json:"symbol"`
	Hedge         HedgeSide         `json:"hedge"`
	PositionID    string            `json:"position_id,omitempty"` // HedgeSell only
	Qty           quant.QtySats     `json:"qty,string"`
	Price         quant.PriceMicros `json:"price,string"`
	FxRate        quant.PriceMicros `json:"fx_rate,string"`
	Premium       quant.Pct         `json:"premium,string"`
	Reason        Reason            `json:"reason"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Side returns the futures order side.
func (o OrderIntent) Side() Side {
	return o.Hedge.OverseasSide()
}

// Validate rejects intents that must never reach an exchange.
func (o OrderIntent) Validate() error {
	switch {
	case o.ClientOrderID == "":
		return &InvariantViolation{Symbol: o.Symbol, Detail: "intent without client order id"}
	case o.Hedge != HedgeBuy && o.Hedge != HedgeSell:
		return &InvariantViolation{Symbol: o.Symbol, Detail: fmt.Sprintf("intent %s has unknown hedge side", o.ClientOrderID)}
	case o.Hedge == HedgeSell && o.PositionID == "":
		return &InvariantViolation{Symbol: o.Symbol, Detail: fmt.Sprintf("closing intent %s without position", o.ClientOrderID)}
	case o.Qty <= 0:
		return &InvariantViolation{Symbol: o.Symbol, Detail: fmt.Sprintf("intent %s qty %s", o.ClientOrderID, o.Qty)}
	case o.Price <= 0:
		return &InvariantViolation{Symbol: o.Symbol, Detail: fmt.Sprintf("intent %s price %s", o.ClientOrderID, o.Price)}
	case o.FxRate <= 0:
		return &InvariantViolation{Symbol: o.Symbol, Detail: fmt.Sprintf("intent %s fx rate %s", o.ClientOrderID, o.FxRate)}
	}
	return nil
}

// OrderAck is the exchange response to a submission.
type OrderAck struct {
	ClientOrderID   string      `json:"client_order_id"`
	ExchangeOrderID string      `json:"exchange_order_id"`
	Status          OrderStatus `json:"status"`
}

// OrderUpdate is one user-stream execution report. Fill carries the last execution only.
type OrderUpdate struct {
	ClientOrderID string      `json:"client_order_id"`
	Symbol        string      `json:"symbol"`
	Status        OrderStatus `json:"status"`
	Fill          LegFill     `json:"fill"`
}

// OrderState is an order as the exchange reports it on a status query.
// Filled and AvgPrice are cumulative over all executions so far.
type OrderState struct {
	Status   OrderStatus       `json:"status"`
	Filled   quant.QtySats     `json:"filled,string"`
	AvgPrice quant.PriceMicros `json:"avg_price,string"`
	Fee      quant.PriceMicros `json:"fee,string"`
}
