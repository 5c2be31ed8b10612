package quant

import (
	"github.com/shopspring/decimal"
)

var (
	half    = decimal.New(5, -1)
	hundred = decimal.NewFromInt(100)
)

// RoundHalfUp rounds d to the given number of decimals, ties toward +Inf.
// decimal.Round rounds ties away from zero, which differs for negative premiums.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Shift(places).Add(half).Floor().Shift(-places)
}

// Decimal returns the exact decimal value of p.
func (p PriceMicros) Decimal() decimal.Decimal { return decimal.New(int64(p), -PriceDecimals) }

// Decimal returns the exact decimal value of q.
func (q QtySats) Decimal() decimal.Decimal { return decimal.New(int64(q), -QtyDecimals) }

// Decimal returns the exact decimal percentage of r.
func (r Pct) Decimal() decimal.Decimal { return decimal.New(int64(r), -PctDecimals) }

// PriceFromDecimal rounds d half-up to 6 decimals.
func PriceFromDecimal(d decimal.Decimal) PriceMicros {
	return PriceMicros(RoundHalfUp(d, PriceDecimals).Shift(PriceDecimals).IntPart())
}

// QtyFromDecimal rounds d half-up to 8 decimals.
func QtyFromDecimal(d decimal.Decimal) QtySats {
	return QtySats(RoundHalfUp(d, QtyDecimals).Shift(QtyDecimals).IntPart())
}

// PctFromDecimal rounds a percentage half-up to 4 decimals.
func PctFromDecimal(d decimal.Decimal) Pct {
	return Pct(RoundHalfUp(d, PctDecimals).Shift(PctDecimals).IntPart())
}

// FloorPrice floors p to the given number of decimals (<= 6).
func FloorPrice(p PriceMicros, decimals int) PriceMicros {
	return PriceMicros(floorTo(int64(p), PriceDecimals-decimals))
}

// FloorQty floors q to the given number of decimals (<= 8).
func FloorQty(q QtySats, decimals int) QtySats {
	return QtySats(floorTo(int64(q), QtyDecimals-decimals))
}

// FloorQtyDecimal floors d to the given number of decimals and converts it to QtySats.
func FloorQtyDecimal(d decimal.Decimal, decimals int) QtySats {
	return QtySats(d.Shift(int32(decimals)).Floor().Shift(int32(QtyDecimals - decimals)).IntPart())
}

func floorTo(v int64, drop int) int64 {
	if drop <= 0 {
		return v
	}
	step := int64(1)
	for i := 0; i < drop; i++ {
		step *= 10
	}
	r := v % step
	if r < 0 {
		r += step
	}
	return v - r
}
