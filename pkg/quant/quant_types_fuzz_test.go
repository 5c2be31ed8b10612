package quant

import (
	"testing"
)

// FuzzToPriceMicros tests price conversion with fuzzing.
func FuzzToPriceMicros(f *testing.F) {
	f.Add(0.0)
	f.Add(1.23)
	f.Add(-1.23)
	f.Add(0.000001)
	f.Add(9999999.999999)

	f.Fuzz(func(t *testing.T, val float64) {
		_ = ToPriceMicros(val)
	})
}

// FuzzToPriceMicrosStr checks that string parsing never panics and agrees with String().
func FuzzToPriceMicrosStr(f *testing.F) {
	f.Add("1.23")
	f.Add("-0.000001")
	f.Add("95000000")
	f.Add("9223372036854.775807")
	f.Add("1e10")

	f.Fuzz(func(t *testing.T, s string) {
		p := ToPriceMicrosStr(s)
		if back := ToPriceMicrosStr(p.String()); back != p {
			t.Errorf("round trip %q: %d -> %s -> %d", s, p, p.String(), back)
		}
	})
}

// FuzzParseTimeStamp tests timestamp parsing with fuzzing.
func FuzzParseTimeStamp(f *testing.F) {
	f.Add("0")
	f.Add("1704067200000")
	f.Add("-1")
	f.Add("9223372036854775807")

	f.Fuzz(func(t *testing.T, s string) {
		_, _ = ParseTimeStamp(s)
	})
}
