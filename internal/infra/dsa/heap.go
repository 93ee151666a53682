// Package dsa provides small, dependency-free data structures used by the
// task queue: a starvation-resistant priority heap.
package dsa

import (
	"container/heap"
	"sync"
	"time"
)

// HeapItem is one entry in a PriorityQueue. Lower Priority values are
// dequeued first. Value carries caller-defined payload (a task ID, a job
// name) so the queue itself never needs to know about its callers' types.
type HeapItem struct {
	Key         string
	Priority    int
	SubmittedAt time.Time
	Value       any

	effective int // cached by rescore, compared by innerHeap.Less
}

// PriorityQueueConfig tunes the starvation-prevention boost applied to
// long-waiting items.
type PriorityQueueConfig struct {
	// BoostInterval is how long an item must wait before it earns one
	// point of priority boost.
	BoostInterval time.Duration
	// MaxBoost caps the total boost an item can accumulate.
	MaxBoost int
}

// DefaultPriorityQueueConfig returns conservative defaults: a 30s boost
// interval capped at 3 levels.
func DefaultPriorityQueueConfig() PriorityQueueConfig {
	return PriorityQueueConfig{
		BoostInterval: 30 * time.Second,
		MaxBoost:      3,
	}
}

// PriorityQueue is a concurrency-safe min-heap ordered by effective
// priority (raw Priority minus an age-based starvation boost), with FIFO
// tie-breaking by SubmittedAt.
type PriorityQueue struct {
	mu  sync.Mutex
	h   innerHeap
	cfg PriorityQueueConfig
	now func() time.Time
}

// NewPriorityQueue creates an empty priority queue using cfg.
func NewPriorityQueue(cfg PriorityQueueConfig) *PriorityQueue {
	return &PriorityQueue{
		h:   innerHeap{},
		cfg: cfg,
		now: time.Now,
	}
}

// Push inserts item into the queue.
func (pq *PriorityQueue) Push(item HeapItem) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	item.effective = effectivePriority(item, pq.now(), pq.cfg)
	heap.Push(&pq.h, item)
}

// Pop removes and returns the item with the lowest effective priority, or
// (HeapItem{}, false) if the queue is empty.
func (pq *PriorityQueue) Pop() (HeapItem, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.h.Len() == 0 {
		return HeapItem{}, false
	}
	pq.rescore()
	item := heap.Pop(&pq.h).(HeapItem)
	item.effective = 0
	return item, true
}

// Peek returns the item that would be returned by Pop without removing it.
func (pq *PriorityQueue) Peek() (HeapItem, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.h.Len() == 0 {
		return HeapItem{}, false
	}
	pq.rescore()
	item := pq.h[0]
	item.effective = 0
	return item, true
}

// Len returns the number of items currently queued.
func (pq *PriorityQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.h.Len()
}

// rescore recomputes effective priority for every item against the current
// clock and re-heapifies. Called under pq.mu.
func (pq *PriorityQueue) rescore() {
	now := pq.now()
	for i := range pq.h {
		pq.h[i].effective = effectivePriority(pq.h[i], now, pq.cfg)
	}
	heap.Init(&pq.h)
}

func effectivePriority(item HeapItem, now time.Time, cfg PriorityQueueConfig) int {
	if cfg.BoostInterval <= 0 {
		return item.Priority
	}
	age := now.Sub(item.SubmittedAt)
	if age < 0 {
		age = 0
	}
	boost := int(age / cfg.BoostInterval)
	if boost > cfg.MaxBoost {
		boost = cfg.MaxBoost
	}
	return item.Priority - boost
}

// innerHeap implements container/heap.Interface over HeapItem.
type innerHeap []HeapItem

func (h innerHeap) Len() int { return len(h) }

func (h innerHeap) Less(i, j int) bool {
	if h[i].effective != h[j].effective {
		return h[i].effective < h[j].effective
	}
	return h[i].SubmittedAt.Before(h[j].SubmittedAt)
}

func (h innerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *innerHeap) Push(x any) {
	*h = append(*h, x.(HeapItem))
}

func (h *innerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
