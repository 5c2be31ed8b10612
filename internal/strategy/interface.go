package strategy

import (
	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// Positions is the read-only ledger view a strategy decides against.
type Positions interface {
	Len() int
	FindCloseCandidate(premiumOfStandard quant.Pct, avgFx quant.PriceMicros, profitTarget, stopLoss quant.Pct) (domain.OpenPosition, domain.Reason, bool)
	MaxEntryGap(premiumOfStandard quant.Pct, avgFx quant.PriceMicros) (quant.Pct, bool)
}

// Input is everything the engine knows when a premium arrives.
type Input struct {
	Premium       domain.Premium
	Band          domain.StandardBand
	Positions     Positions
	Wallet        domain.WalletSnapshot
	CleanWallet   domain.WalletSnapshot
	WalletBlocked bool
}

// Strategy defines the interface for trading logic.
// The engine only calls it while no order is in flight.
type Strategy interface {
	Name() string

	// OnPremium returns an intent without ClientOrderID/UserID, or nil when there is nothing to do.
	// It must not keep state that depends on the intent being accepted.
	OnPremium(in Input) (*domain.OrderIntent, error)

	// Reset drops accumulated tick state.
	Reset()
}
