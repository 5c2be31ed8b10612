package domain

import (
	"time"

	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// WalletSnapshot is the available balance on each leg.
type WalletSnapshot struct {
	DomesticAvailable quant.PriceMicros `json:"domestic,string"` // KRW
	OverseasAvailable quant.PriceMicros `json:"overseas,string"` // USDT margin
	UpdatedAt         time.Time         `json:"updated_at"`
}

// IsZero reports an unset snapshot.
func (w WalletSnapshot) IsZero() bool {
	return w.DomesticAvailable == 0 && w.OverseasAvailable == 0 && w.UpdatedAt.IsZero()
}
