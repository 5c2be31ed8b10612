package strategy

import (
	"testing"

	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

func TestMoveWindow(t *testing.T) {
	w := newMoveWindow(3)
	for _, p := range []quant.PriceMicros{100, 110, 105, 125} {
		w.Push(p)
	}
	if !w.Ready() {
		t.Fatal("window with 3 deltas not ready")
	}
	// |10| + |5| + |20| = 35 / 3
	if got := w.Avg(); got != 11 {
		t.Errorf("Avg() = %d; want 11", got)
	}

	w.Push(125) // evicts 10
	if got := w.Avg(); got != 8 {
		t.Errorf("Avg() after eviction = %d; want 8", got)
	}

	w.Reset()
	if w.Ready() || w.Avg() != 0 {
		t.Error("Reset() left state behind")
	}
	w.Push(200)
	if w.count != 0 {
		t.Error("first push after reset must only prime the window")
	}
}
