package clock

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// FakeClock is a deterministic clock for scheduler and retry-backoff
// tests: time only advances when Advance is called, so a test can step
// the detection-tier tickers (see NewTierTickers) and pkg/retry's
// backoff waits forward by exactly as much as an assertion needs,
// without sleeping in wall-clock time.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters waitHeap
	nextID  uint64

	// waiting counts goroutines currently blocked on After or a live
	// ticker. BlockUntilWaiters uses this to let a test know every
	// tier's ticker goroutine (or a retry backoff) has reached its
	// select before the test advances time.
	waiting atomic.Int64
}

// NewFakeClock creates a FakeClock starting at the given time. Time
// only advances when Advance is called explicitly.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the duration since t.
func (c *FakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// After returns a channel that receives when d has elapsed. This is
// what pkg/retry's backoff wait blocks on between attempts.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	c.mu.Lock()
	if d <= 0 {
		ch <- c.now
		c.mu.Unlock()
		return ch
	}
	c.addWaiter(c.now.Add(d), ch, nil)
	c.mu.Unlock()

	c.waiting.Add(1)
	return ch
}

// NewTicker returns a new Ticker that ticks every d, matching the
// scheduler's one-ticker-per-detection-tier model.
func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ft := &fakeTicker{clock: c, interval: d, ch: make(chan time.Time, 1)}
	ft.nextTick = c.now.Add(d)
	ft.id = c.addWaiter(ft.nextTick, nil, ft.tick)
	c.waiting.Add(1)
	return ft
}

// Advance moves the clock forward by d, firing any tickers or backoff
// waits that expire within the new window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceTo(c.now.Add(d))
}

// BlockUntilWaiters blocks until at least n goroutines are waiting on
// the clock (a live ticker counts as waiting for as long as it runs).
// Scheduler tests use this to know every configured tier's ticker
// goroutine has reached its select statement before advancing time.
func (c *FakeClock) BlockUntilWaiters(n int) {
	for {
		if int(c.waiting.Load()) >= n {
			return
		}
		time.Sleep(time.Microsecond)
	}
}

// advanceTo moves time forward to t, waking waiters as needed.
//
// Caller must hold c.mu. This temporarily releases c.mu while firing
// callbacks, since a ticker's own callback re-acquires it to reschedule
// its next tick; the mutex is re-acquired before returning.
func (c *FakeClock) advanceTo(t time.Time) {
	if t.Before(c.now) {
		return
	}

	var toFire []firedWaiter
	for c.waiters.Len() > 0 && !c.waiters[0].deadline.After(t) {
		w := heap.Pop(&c.waiters).(*waiter)
		c.now = w.deadline
		toFire = append(toFire, firedWaiter{ch: w.ch, fn: w.fn, deadline: w.deadline})
	}
	c.now = t

	c.mu.Unlock()
	for _, w := range toFire {
		if w.ch != nil {
			select {
			case w.ch <- w.deadline:
				c.waiting.Add(-1)
			default:
			}
		}
		if w.fn != nil {
			w.fn()
		}
	}
	c.mu.Lock()
}

// addWaiter adds a waiter to the heap. Caller must hold c.mu.
func (c *FakeClock) addWaiter(deadline time.Time, ch chan time.Time, fn func()) uint64 {
	c.nextID++
	heap.Push(&c.waiters, &waiter{deadline: deadline, ch: ch, fn: fn, id: c.nextID})
	return c.nextID
}

// removeWaiter removes a waiter by ID. Caller must hold c.mu.
func (c *FakeClock) removeWaiter(id uint64) bool {
	for i, w := range c.waiters {
		if w.id == id {
			heap.Remove(&c.waiters, i)
			return true
		}
	}
	return false
}

// firedWaiter holds a waiter snapshot collected while c.mu was held, so
// it can be fired after the lock is released.
type firedWaiter struct {
	ch       chan time.Time
	fn       func()
	deadline time.Time
}

// waiter represents something waiting for a specific time.
type waiter struct {
	deadline time.Time
	ch       chan time.Time // channel to send time on (may be nil)
	fn       func()         // function to call (may be nil)
	id       uint64         // unique ID for stable ordering and removal
	index    int            // index in heap
}

// waitHeap is a min-heap of waiters ordered by deadline, then ID.
type waitHeap []*waiter

func (h waitHeap) Len() int { return len(h) }

func (h waitHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].id < h[j].id // FIFO for same deadline
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h waitHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waitHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waitHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[0 : n-1]
	return w
}

// fakeTicker implements Ticker for FakeClock. A ticker counts as one
// waiter for the whole time it's running, not per-tick: it reschedules
// itself on every fire and is only removed from the waiting count by
// Stop.
type fakeTicker struct {
	clock    *FakeClock
	interval time.Duration
	nextTick time.Time
	ch       chan time.Time
	id       uint64
	mu       sync.Mutex
	stopped  bool
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true

	t.clock.mu.Lock()
	removed := t.clock.removeWaiter(t.id)
	t.clock.mu.Unlock()
	if removed {
		t.clock.waiting.Add(-1)
	}
}

func (t *fakeTicker) tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}

	select {
	case t.ch <- t.clock.Now():
	default:
	}

	t.clock.mu.Lock()
	t.nextTick = t.nextTick.Add(t.interval)
	t.id = t.clock.addWaiter(t.nextTick, nil, t.tick)
	t.clock.mu.Unlock()
}
