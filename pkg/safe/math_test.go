package safe

import (
	"errors"
	"math"
	"testing"
)

type qty int64

func TestCheckedMath(t *testing.T) {
	tests := []struct {
		name string
		op   func(a, b int64) int64
		a, b int64
		want int64
	}{
		{"Add", Add[int64], 10, 20, 30},
		{"Add Boundary", Add[int64], math.MaxInt64 - 1, 1, math.MaxInt64},
		{"Sub", Sub[int64], 30, 10, 20},
		{"Sub Negative", Sub[int64], 10, 30, -20},
		{"Mul", Mul[int64], 5, 6, 30},
		{"Mul Negative", Mul[int64], -5, 6, -30},
		{"Div", Div[int64], 100, 4, 25},
		{"Div Truncates", Div[int64], -7, 2, -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op(tt.a, tt.b); got != tt.want {
				t.Errorf("%s(%d, %d) = %d; want %d", tt.name, tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestNamedTypes(t *testing.T) {
	got := Add(qty(150_000_000), qty(50_000_000))
	if got != qty(200_000_000) {
		t.Errorf("Add(qty) = %d; want 200000000", got)
	}
	if Sum(qty(1), qty(2), qty(3)) != 6 {
		t.Error("Sum(1,2,3) != 6")
	}
	if Min(qty(3), qty(-1)) != -1 || Max(qty(3), qty(-1)) != 3 {
		t.Error("Min/Max mismatch")
	}
	if Abs(qty(-42)) != 42 {
		t.Error("Abs(-42) != 42")
	}
}

func TestOverflowPanics(t *testing.T) {
	cases := map[string]func(){
		"Add Overflow": func() { Add[int64](math.MaxInt64, 1) },
		"Sub Overflow": func() { Sub[int64](math.MinInt64, 1) },
		"Mul Overflow": func() { Mul[int64](math.MaxInt64/2+1, 2) },
		"Mul MinInt":   func() { Mul[int64](math.MinInt64, -1) },
		"Div By Zero":  func() { Div[int64](10, 0) },
		"Div MinInt":   func() { Div[int64](math.MinInt64, -1) },
		"Abs MinInt":   func() { Abs[int64](math.MinInt64) },
	}

	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			defer func() {
				r := recover()
				if r == nil {
					t.Fatal("expected panic")
				}
				err, ok := r.(error)
				if !ok {
					t.Fatalf("panic value %T is not an error", r)
				}
				var oe OverflowError
				if !errors.As(err, &oe) {
					t.Errorf("panic value %v is not OverflowError", err)
				}
			}()
			fn()
		})
	}
}
