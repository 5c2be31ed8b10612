package quant

import (
	"testing"
	"time"
)

func TestToPriceMicros(t *testing.T) {
	tests := []struct {
		input    float64
		expected PriceMicros
	}{
		{1.23, 1230000},
		{0.000001, 1},
		{0.0, 0},
		{-1.23, -1230000},
	}

	for _, tt := range tests {
		got := ToPriceMicros(tt.input)
		if got != tt.expected {
			t.Errorf("ToPriceMicros(%f) = %d; want %d", tt.input, got, tt.expected)
		}
	}
}

func TestFixedPointString(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"price", PriceMicros(1230000).String(), "1.230000"},
		{"negative price", PriceMicros(-1230000).String(), "-1.230000"},
		{"qty", QtySats(1).String(), "0.00000001"},
		{"pct", Pct(50000).String(), "5.0000"},
		{"negative pct", Pct(-5).String(), "-0.0005"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("String() = %s; want %s", tt.got, tt.want)
			}
		})
	}
}

func TestToPriceMicrosStr(t *testing.T) {
	tests := []struct {
		input string
		want  PriceMicros
	}{
		{"1.23", 1230000},
		{"95000000", 95000000000000},
		{"0.0000019", 1},
		{"-1.5", -1500000},
		{".5", 500000},
		{"", 0},
		{"null", 0},
		{"abc", 0},
	}
	for _, tt := range tests {
		if got := ToPriceMicrosStr(tt.input); got != tt.want {
			t.Errorf("ToPriceMicrosStr(%q) = %d; want %d", tt.input, got, tt.want)
		}
	}
}

func TestToQtySatsStr(t *testing.T) {
	if got := ToQtySatsStr("0.12345678"); got != 12345678 {
		t.Errorf("ToQtySatsStr(0.12345678) = %d; want 12345678", got)
	}
	if got := ToQtySatsStr("2"); got != 200000000 {
		t.Errorf("ToQtySatsStr(2) = %d; want 200000000", got)
	}
}

func TestTimeStampRoundTrip(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 123000, time.UTC)
	ts := TimeStampOf(now)
	if !ts.Time().Equal(now) {
		t.Errorf("Time() = %v; want %v", ts.Time(), now)
	}
	if TimeStampOf(time.Time{}) != 0 || !TimeStamp(0).Time().IsZero() {
		t.Error("zero time must map to zero TimeStamp")
	}

	parsed, err := ParseTimeStamp("1704067200000")
	if err != nil {
		t.Fatalf("ParseTimeStamp() error = %v", err)
	}
	if parsed != 1704067200000000 {
		t.Errorf("ParseTimeStamp() = %d; want 1704067200000000", parsed)
	}
}
