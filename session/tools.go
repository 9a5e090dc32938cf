package session

import (
	"sync"
	"time"
)

// Timer tracks elapsed time against a timeout. The caller supplies the clock
// so MainFunction can be driven deterministically.
type Timer struct {
	startTime time.Time
	timeout   time.Duration
	running   bool
}

func NewTimer(timeout time.Duration) *Timer {
	t := &Timer{}
	t.SetTimeout(timeout)
	return t
}

func (t *Timer) SetTimeout(timeout time.Duration) {
	t.timeout = timeout
}

func (t *Timer) Start(now time.Time) {
	t.startTime = now
	t.running = true
}

func (t *Timer) Stop() {
	t.running = false
	t.startTime = time.Time{}
}

func (t *Timer) Elapsed(now time.Time) time.Duration {
	if !t.running {
		return 0
	}
	return now.Sub(t.startTime)
}

func (t *Timer) Remaining(now time.Time) time.Duration {
	if t.IsStopped() {
		return 0
	}
	remaining := t.timeout - t.Elapsed(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *Timer) IsTimedOut(now time.Time) bool {
	if t.IsStopped() {
		return false
	}
	return t.Elapsed(now) > t.timeout || t.timeout == 0
}

func (t *Timer) IsStopped() bool {
	return !t.running
}

// SafeQueue is a thread-safe queue using a slice and a mutex.
type SafeQueue[T any] struct {
	items []T
	mu    sync.Mutex
}

func NewSafeQueue[T any]() *SafeQueue[T] {
	return &SafeQueue[T]{
		items: make([]T, 0),
	}
}

func (q *SafeQueue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

func (q *SafeQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *SafeQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
