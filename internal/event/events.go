package event

import (
	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// Type defines the type of event.
type Type uint16

const (
	EvTick Type = iota + 1
	EvFxRate
	EvPremium
	EvBand
	EvWallet
	EvSubmitResult
	EvStatusResult
	EvCancelResult
	EvOrderUpdate
	EvHedgeFill
	EvTimer
)

func (t Type) String() string {
	switch t {
	case EvTick:
		return "TICK"
	case EvFxRate:
		return "FX_RATE"
	case EvPremium:
		return "PREMIUM"
	case EvBand:
		return "BAND"
	case EvWallet:
		return "WALLET"
	case EvSubmitResult:
		return "SUBMIT_RESULT"
	case EvStatusResult:
		return "STATUS_RESULT"
	case EvCancelResult:
		return "CANCEL_RESULT"
	case EvOrderUpdate:
		return "ORDER_UPDATE"
	case EvHedgeFill:
		return "HEDGE_FILL"
	case EvTimer:
		return "TIMER"
	default:
		return "UNKNOWN"
	}
}

// Event is the closed set of messages flowing through feeds and engine inboxes.
// Consumers dispatch with a type switch over the pointer types below.
type Event interface {
	GetSeq() uint64
	GetTs() quant.TimeStamp
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64          `json:"seq"`
	Ts  quant.TimeStamp `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64         { return e.Seq }
func (e BaseEvent) GetTs() quant.TimeStamp { return e.Ts }

// TickEvent carries one trade print from a price worker. Pooled, see AcquireTickEvent.
type TickEvent struct {
	BaseEvent
	domain.Tick
}

func (e *TickEvent) GetType() Type { return EvTick }

// FxRateEvent carries a KRW per USD quote.
type FxRateEvent struct {
	BaseEvent
	Rate quant.PriceMicros `json:"rate,string"`
}

func (e *FxRateEvent) GetType() Type { return EvFxRate }

// PremiumEvent is published by the aggregator to engines and the archiver.
type PremiumEvent struct {
	BaseEvent
	Premium domain.Premium `json:"premium"`
}

func (e *PremiumEvent) GetType() Type { return EvPremium }

// BandEvent completes a band refresh. Err set means the previous band stays.
type BandEvent struct {
	BaseEvent
	Band domain.StandardBand
	Err  error
}

func (e *BandEvent) GetType() Type { return EvBand }

// WalletEvent completes a wallet refresh.
type WalletEvent struct {
	BaseEvent
	Wallet domain.WalletSnapshot
	Err    error
}

func (e *WalletEvent) GetType() Type { return EvWallet }

// SubmitResultEvent completes an order submission.
type SubmitResultEvent struct {
	BaseEvent
	Intent domain.OrderIntent
	Ack    domain.OrderAck
	Err    error
}

func (e *SubmitResultEvent) GetType() Type { return EvSubmitResult }

// StatusResultEvent completes a status poll.
type StatusResultEvent struct {
	BaseEvent
	ClientOrderID string
	State         domain.OrderState
	Err           error
}

func (e *StatusResultEvent) GetType() Type { return EvStatusResult }

// CancelResultEvent completes a cancel request.
type CancelResultEvent struct {
	BaseEvent
	ClientOrderID string
	Err           error
}

func (e *CancelResultEvent) GetType() Type { return EvCancelResult }

// OrderUpdateEvent wraps an execution report from the exchange user stream.
type OrderUpdateEvent struct {
	BaseEvent
	UserID string             `json:"user_id"`
	Update domain.OrderUpdate `json:"update"`
}

func (e *OrderUpdateEvent) GetType() Type { return EvOrderUpdate }

// HedgeFillEvent completes the domestic leg of a filled overseas order.
type HedgeFillEvent struct {
	BaseEvent
	ClientOrderID string
	Fill          domain.LegFill
	Err           error
}

func (e *HedgeFillEvent) GetType() Type { return EvHedgeFill }

// TimerKind selects what a fired timer means to the engine.
type TimerKind uint8

const (
	TimerCheckStatus TimerKind = iota + 1
	TimerGraceUnlock
	TimerBandRefresh
	TimerWalletRefresh
)

func (k TimerKind) String() string {
	switch k {
	case TimerCheckStatus:
		return "CHECK_STATUS"
	case TimerGraceUnlock:
		return "GRACE_UNLOCK"
	case TimerBandRefresh:
		return "BAND_REFRESH"
	case TimerWalletRefresh:
		return "WALLET_REFRESH"
	default:
		return "UNKNOWN"
	}
}

// TimerEvent is delivered by the engine's delay queue.
type TimerEvent struct {
	BaseEvent
	Kind          TimerKind
	ClientOrderID string
}

func (e *TimerEvent) GetType() Type { return EvTimer }
