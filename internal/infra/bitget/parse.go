package bitget

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// parsePrice parses a decimal string into PriceMicros, truncating past 6 decimals.
// Unlike quant.ToPriceMicrosStr it reports malformed input.
func parsePrice(s string) (quant.PriceMicros, error) {
	v, err := parseFixedPoint(s, quant.PriceDecimals)
	return quant.PriceMicros(v), err
}

// parseQty parses a decimal string into QtySats, truncating past 8 decimals.
func parseQty(s string) (quant.QtySats, error) {
	v, err := parseFixedPoint(s, quant.QtyDecimals)
	return quant.QtySats(v), err
}

func parseFixedPoint(s string, decimals int) (int64, error) {
	if s == "" {
		return 0, nil
	}

	integerPart, fractionalPart, found := strings.Cut(s, ".")
	if found && strings.Contains(fractionalPart, ".") {
		return 0, errors.New("invalid decimal format: multiple dots")
	}

	sign := int64(1)
	if strings.HasPrefix(integerPart, "-") {
		sign = -1
		integerPart = integerPart[1:]
	}

	var intVal int64
	if integerPart != "" {
		v, err := strconv.ParseInt(integerPart, 10, 64)
		if err != nil {
			return 0, err
		}
		intVal = v
	}

	if len(fractionalPart) > decimals {
		fractionalPart = fractionalPart[:decimals]
	} else {
		fractionalPart += strings.Repeat("0", decimals-len(fractionalPart))
	}
	fracVal, err := strconv.ParseInt(fractionalPart, 10, 64)
	if err != nil || fracVal < 0 {
		return 0, errors.New("invalid decimal fraction: " + s)
	}

	multiplier := int64(1)
	for i := 0; i < decimals; i++ {
		multiplier *= 10
	}
	if intVal > (1<<63-1-fracVal)/multiplier {
		return 0, errors.New("decimal out of range: " + s)
	}
	return sign * (intVal*multiplier + fracVal), nil
}

// parseMillis parses a millisecond epoch string. Empty input yields the zero time.
func parseMillis(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// toStatus maps Bitget order states to OrderStatus.
func toStatus(state string) (domain.OrderStatus, error) {
	switch state {
	case "live", "new", "init":
		return domain.StatusNew, nil
	case "partially_filled", "partial_fill":
		return domain.StatusPartiallyFilled, nil
	case "filled", "full_fill":
		return domain.StatusFilled, nil
	case "canceled", "cancelled":
		return domain.StatusCanceled, nil
	default:
		return "", errors.New("unknown bitget order state: " + state)
	}
}

// toState maps an order detail to its status and cumulative fill. Bitget reports fees as negative amounts.
func (d orderDetail) toState() (domain.OrderState, error) {
	status, err := toStatus(d.State)
	if err != nil {
		return domain.OrderState{}, err
	}
	filled, err := parseQty(d.BaseVol)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("order %s baseVolume %q: %w", d.ClientOid, d.BaseVol, err)
	}
	avg, err := parsePrice(d.PriceAvg)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("order %s priceAvg %q: %w", d.ClientOid, d.PriceAvg, err)
	}
	fee, err := parsePrice(strings.TrimPrefix(d.Fee, "-"))
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("order %s fee %q: %w", d.ClientOid, d.Fee, err)
	}
	return domain.OrderState{Status: status, Filled: filled, AvgPrice: avg, Fee: fee}, nil
}
