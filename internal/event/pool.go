package event

import (
	"sync"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
)

var tickPool = sync.Pool{
	New: func() any { return new(TickEvent) },
}

// AcquireTickEvent returns a zeroed TickEvent from the pool.
// The consumer that finishes with it calls ReleaseTickEvent.
func AcquireTickEvent() *TickEvent {
	return tickPool.Get().(*TickEvent)
}

// ReleaseTickEvent resets ev and returns it to the pool.
func ReleaseTickEvent(ev *TickEvent) {
	if ev == nil {
		return
	}
	ev.BaseEvent = BaseEvent{}
	ev.Tick = domain.Tick{}
	tickPool.Put(ev)
}

// Warmup pre-allocates n pooled tick events.
func Warmup(n int) {
	evs := make([]*TickEvent, n)
	for i := range evs {
		evs[i] = AcquireTickEvent()
	}
	for _, ev := range evs {
		ReleaseTickEvent(ev)
	}
}
