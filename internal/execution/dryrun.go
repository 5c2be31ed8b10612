package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// DryRunGateway is a safe gateway that only logs orders. Orders rest as NEW until canceled,
// so every intent walks the cancel and grace-unlock path.
type DryRunGateway struct {
	mu     sync.Mutex
	orders map[string]domain.OrderStatus
	wallet domain.WalletSnapshot
}

// NewDryRunGateway reports wallet as the balance on every refresh.
func NewDryRunGateway(wallet domain.WalletSnapshot) *DryRunGateway {
	return &DryRunGateway{orders: make(map[string]domain.OrderStatus), wallet: wallet}
}

func (d *DryRunGateway) Submit(ctx context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	slog.Info("DRYRUN: Submit Order",
		slog.String("id", intent.ClientOrderID),
		slog.String("symbol", intent.Symbol),
		slog.String("side", string(intent.Side())),
		slog.String("price", intent.Price.String()),
		slog.String("qty", intent.Qty.String()),
		slog.String("reason", string(intent.Reason)),
	)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.orders[intent.ClientOrderID]; ok {
		return domain.OrderAck{}, fmt.Errorf("duplicate client order id %s", intent.ClientOrderID)
	}
	d.orders[intent.ClientOrderID] = domain.StatusNew
	return domain.OrderAck{ClientOrderID: intent.ClientOrderID, ExchangeOrderID: "dry-" + intent.ClientOrderID, Status: domain.StatusNew}, nil
}

// Status never reports fills; dry-run orders rest until canceled.
func (d *DryRunGateway) Status(ctx context.Context, symbol, clientOrderID string) (domain.OrderState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.orders[clientOrderID]
	if !ok {
		return domain.OrderState{}, fmt.Errorf("order not found: %s", clientOrderID)
	}
	return domain.OrderState{Status: st}, nil
}

func (d *DryRunGateway) Cancel(ctx context.Context, symbol, clientOrderID string) error {
	slog.Info("DRYRUN: Cancel Order", slog.String("id", clientOrderID))

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.orders[clientOrderID]; !ok {
		return fmt.Errorf("order not found: %s", clientOrderID)
	}
	d.orders[clientOrderID] = domain.StatusCanceled
	return nil
}

func (d *DryRunGateway) BuyMarket(ctx context.Context, symbol string, krw quant.PriceMicros, clientOrderID string) (domain.LegFill, error) {
	return domain.LegFill{}, fmt.Errorf("dry run cannot hedge %s", clientOrderID)
}

func (d *DryRunGateway) SellMarket(ctx context.Context, symbol string, qty quant.QtySats, clientOrderID string) (domain.LegFill, error) {
	return domain.LegFill{}, fmt.Errorf("dry run cannot hedge %s", clientOrderID)
}

func (d *DryRunGateway) Refresh(ctx context.Context) (domain.WalletSnapshot, error) {
	return d.wallet, nil
}
