package safe

import (
	"fmt"
	"math"
)

// Int64 is satisfied by every fixed-point type in pkg/quant.
type Int64 interface {
	~int64
}

// OverflowError is the panic value raised by the checked operations.
// The engine recovers it at the event loop boundary.
type OverflowError struct {
	Op   string
	A, B int64
}

func (e OverflowError) Error() string {
	return fmt.Sprintf("safe: %s overflow (%d, %d)", e.Op, e.A, e.B)
}

// Add returns a+b and panics on overflow.
func Add[T Int64](a, b T) T {
	x, y := int64(a), int64(b)
	if (y > 0 && x > math.MaxInt64-y) || (y < 0 && x < math.MinInt64-y) {
		panic(OverflowError{Op: "add", A: x, B: y})
	}
	return T(x + y)
}

// Sub returns a-b and panics on overflow.
func Sub[T Int64](a, b T) T {
	x, y := int64(a), int64(b)
	if (y > 0 && x < math.MinInt64+y) || (y < 0 && x > math.MaxInt64+y) {
		panic(OverflowError{Op: "sub", A: x, B: y})
	}
	return T(x - y)
}

// Mul returns a*b and panics on overflow.
func Mul[T Int64](a, b T) T {
	x, y := int64(a), int64(b)
	if x == 0 || y == 0 {
		return 0
	}
	r := x * y
	if r/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
		panic(OverflowError{Op: "mul", A: x, B: y})
	}
	return T(r)
}

// Div returns a/b truncated toward zero. Division by zero panics.
func Div[T Int64](a, b T) T {
	x, y := int64(a), int64(b)
	if y == 0 {
		panic(OverflowError{Op: "div", A: x, B: y})
	}
	if x == math.MinInt64 && y == -1 {
		panic(OverflowError{Op: "div", A: x, B: y})
	}
	return T(x / y)
}

// Sum adds all values with overflow checks.
func Sum[T Int64](vals ...T) T {
	var total T
	for _, v := range vals {
		total = Add(total, v)
	}
	return total
}

// Min returns the smaller of a and b.
func Min[T Int64](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T Int64](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Abs returns |a|. math.MinInt64 has no positive counterpart and panics.
func Abs[T Int64](a T) T {
	if a >= 0 {
		return a
	}
	if int64(a) == math.MinInt64 {
		panic(OverflowError{Op: "abs", A: int64(a)})
	}
	return -a
}
