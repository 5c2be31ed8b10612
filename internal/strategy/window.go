package strategy

import (
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
	"github.com/dlgusgh4608/arbitrage/pkg/safe"
)

// moveWindow keeps the last n absolute price moves in a ring buffer.
type moveWindow struct {
	deltas []quant.PriceMicros
	head   int
	count  int
	sum    quant.PriceMicros
	prev   quant.PriceMicros
}

func newMoveWindow(n int) *moveWindow {
	if n <= 0 {
		panic("strategy: move window must be positive")
	}
	return &moveWindow{deltas: make([]quant.PriceMicros, n)}
}

// Push records the move from the previous price. The first price after a reset only primes it.
func (w *moveWindow) Push(price quant.PriceMicros) {
	if w.prev <= 0 {
		w.prev = price
		return
	}
	d := safe.Abs(safe.Sub(price, w.prev))
	w.prev = price

	if w.count == len(w.deltas) {
		w.sum = safe.Sub(w.sum, w.deltas[w.head])
	} else {
		w.count++
	}
	w.deltas[w.head] = d
	w.sum = safe.Add(w.sum, d)
	w.head = (w.head + 1) % len(w.deltas)
}

// Ready reports whether the window is full.
func (w *moveWindow) Ready() bool { return w.count == len(w.deltas) }

// Avg is the mean move, truncated to a micro.
func (w *moveWindow) Avg() quant.PriceMicros {
	if w.count == 0 {
		return 0
	}
	return safe.Div(w.sum, quant.PriceMicros(w.count))
}

func (w *moveWindow) Reset() {
	for i := range w.deltas {
		w.deltas[i] = 0
	}
	w.head, w.count, w.sum, w.prev = 0, 0, 0, 0
}
