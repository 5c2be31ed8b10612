package engine

import (
	"container/heap"
	"time"

	"github.com/dlgusgh4608/arbitrage/internal/event"
)

type timerEntry struct {
	id    uint64
	at    time.Time
	ev    *event.TimerEvent
	index int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

// Less orders by deadline, then by arming order.
func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].id < h[j].id
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// DelayQueue holds the engine's pending timers. It is owned by the engine goroutine.
type DelayQueue struct {
	h    timerHeap
	byID map[uint64]*timerEntry
	next uint64
}

func NewDelayQueue() *DelayQueue {
	return &DelayQueue{byID: make(map[uint64]*timerEntry)}
}

// Push arms ev to fire at at and returns its handle. Handles are never 0.
func (q *DelayQueue) Push(at time.Time, ev *event.TimerEvent) uint64 {
	q.next++
	e := &timerEntry{id: q.next, at: at, ev: ev}
	heap.Push(&q.h, e)
	q.byID[e.id] = e
	return e.id
}

// Stop disarms a timer. Unknown or fired handles are ignored.
func (q *DelayQueue) Stop(id uint64) {
	e, ok := q.byID[id]
	if !ok {
		return
	}
	delete(q.byID, id)
	heap.Remove(&q.h, e.index)
}

// Next returns the earliest deadline.
func (q *DelayQueue) Next() (time.Time, bool) {
	if len(q.h) == 0 {
		return time.Time{}, false
	}
	return q.h[0].at, true
}

// PopDue removes and returns the earliest timer due at now, or nil.
func (q *DelayQueue) PopDue(now time.Time) *event.TimerEvent {
	if len(q.h) == 0 || q.h[0].at.After(now) {
		return nil
	}
	e := heap.Pop(&q.h).(*timerEntry)
	delete(q.byID, e.id)
	return e.ev
}

func (q *DelayQueue) Len() int { return len(q.h) }
