package execution

import (
	"context"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// OrderGateway places and follows limit orders on the overseas futures leg.
type OrderGateway interface {
	// Submit sends a new order. Margin refusals are returned as *domain.InsufficientMarginError.
	Submit(ctx context.Context, intent domain.OrderIntent) (domain.OrderAck, error)

	// Status returns the exchange state of an order with its cumulative fill.
	Status(ctx context.Context, symbol, clientOrderID string) (domain.OrderState, error)

	// Cancel cancels an open order by its client order id.
	Cancel(ctx context.Context, symbol, clientOrderID string) error
}

// HedgeGateway executes market orders on the domestic spot leg.
type HedgeGateway interface {
	// BuyMarket spends krw on symbol.
	BuyMarket(ctx context.Context, symbol string, krw quant.PriceMicros, clientOrderID string) (domain.LegFill, error)

	// SellMarket sells qty of symbol.
	SellMarket(ctx context.Context, symbol string, qty quant.QtySats, clientOrderID string) (domain.LegFill, error)
}

// WalletSource reads the available balance on both legs.
type WalletSource interface {
	Refresh(ctx context.Context) (domain.WalletSnapshot, error)
}

// UpdateHandler receives user-stream execution reports.
type UpdateHandler func(userID string, u domain.OrderUpdate)

// Venue bundles the three collaborators one user trades through.
type Venue struct {
	Orders OrderGateway
	Hedge  HedgeGateway
	Wallet WalletSource
}
