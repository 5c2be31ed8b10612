package quant

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// PriceMicros represents a price or money amount multiplied by 1,000,000 (10^6).
// E.g., 1.23 USDT = 1,230,000 PriceMicros, 95,000,000 KRW = 95,000,000,000,000.
type PriceMicros int64

// QtySats represents quantity multiplied by 100,000,000 (10^8).
// E.g., 1.0 BTC = 100,000,000 QtySats.
type QtySats int64

// Pct represents a percentage multiplied by 10,000 (4 decimals).
// E.g., 1.2345% = 12,345 Pct.
type Pct int64

// TimeStamp represents Unix Microseconds.
type TimeStamp int64

const (
	PriceScale = 1000000
	QtyScale   = 100000000
	PctScale   = 10000

	PriceDecimals = 6
	QtyDecimals   = 8
	PctDecimals   = 4
)

// ToPriceMicros converts a float64 (from config or external API) to PriceMicros.
// Only used at the boundary. Internal logic uses PriceMicros directly.
func ToPriceMicros(f float64) PriceMicros {
	return PriceMicros(math.Round(f * PriceScale))
}

// ToQtySats converts a float64 to QtySats.
func ToQtySats(f float64) QtySats {
	return QtySats(math.Round(f * QtyScale))
}

// ToPct converts a float64 percentage to Pct.
func ToPct(f float64) Pct {
	return Pct(math.Round(f * PctScale))
}

func (p PriceMicros) String() string {
	return formatFixed(int64(p), PriceDecimals)
}

func (q QtySats) String() string {
	return formatFixed(int64(q), QtyDecimals)
}

func (r Pct) String() string {
	return formatFixed(int64(r), PctDecimals)
}

// Float64 is for logging and metrics only.
func (p PriceMicros) Float64() float64 { return float64(p) / PriceScale }

// Float64 is for logging and metrics only.
func (q QtySats) Float64() float64 { return float64(q) / QtyScale }

// Float64 is for logging and metrics only.
func (r Pct) Float64() float64 { return float64(r) / PctScale }

// Now returns the current wall clock as a TimeStamp.
func Now() TimeStamp {
	return TimeStampOf(time.Now())
}

// TimeStampOf converts a time.Time to a TimeStamp.
func TimeStampOf(t time.Time) TimeStamp {
	if t.IsZero() {
		return 0
	}
	return TimeStamp(t.UnixMicro())
}

// Time converts the TimeStamp back to time.Time (UTC).
func (ts TimeStamp) Time() time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.UnixMicro(int64(ts)).UTC()
}

// NextSeq generates the next sequence number atomically.
func NextSeq(ptr *uint64) uint64 {
	return atomic.AddUint64(ptr, 1)
}

// ParseTimeStamp converts a millisecond string to TimeStamp (micros).
func ParseTimeStamp(s string) (TimeStamp, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if ms > math.MaxInt64/1000 || ms < math.MinInt64/1000 {
		return 0, fmt.Errorf("timestamp out of range: %s", s)
	}
	return TimeStamp(ms * 1000), nil
}

// ToPriceMicrosStr converts a numeric string to PriceMicros without using float64.
// Digits beyond 6 decimals are truncated.
func ToPriceMicrosStr(s string) PriceMicros {
	return PriceMicros(parseFixedPoint(s, PriceDecimals))
}

// ToQtySatsStr converts a numeric string to QtySats without using float64.
func ToQtySatsStr(s string) QtySats {
	return QtySats(parseFixedPoint(s, QtyDecimals))
}

// parseFixedPoint parses a numeric string into an int64 with the given precision.
// E.g., parseFixedPoint("1.23", 6) -> 1,230,000. Malformed input yields 0.
func parseFixedPoint(s string, precision int) int64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return 0
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intStr, fracStr, _ := strings.Cut(s, ".")
	if intStr == "" {
		intStr = "0"
	}
	if len(fracStr) > precision {
		fracStr = fracStr[:precision]
	}
	for len(fracStr) < precision {
		fracStr += "0"
	}

	intPart, err := strconv.ParseInt(intStr, 10, 64)
	if err != nil || intPart < 0 {
		return 0
	}
	fracPart, err := strconv.ParseInt(fracStr, 10, 64)
	if err != nil || fracPart < 0 {
		return 0
	}

	scale := int64(math.Pow10(precision))
	if intPart > (math.MaxInt64-fracPart)/scale {
		return 0
	}
	v := intPart*scale + fracPart
	if neg {
		return -v
	}
	return v
}

func formatFixed(v int64, decimals int) string {
	scale := uint64(math.Pow10(decimals))
	sign := ""
	u := uint64(v)
	if v < 0 {
		sign = "-"
		u = uint64(-(v + 1)) + 1
	}
	return fmt.Sprintf("%s%d.%0*d", sign, u/scale, decimals, u%scale)
}
