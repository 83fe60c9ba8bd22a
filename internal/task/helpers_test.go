package task

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// fakeBudget is a Budget with fixed answers.
type fakeBudget struct {
	mu        sync.Mutex
	remaining float64
	freeFrac  float64
	freeBytes []uint64
	ceiling   uint64
	maxExec   float64
}

func newFakeBudget() *fakeBudget {
	return &fakeBudget{
		remaining: 1000,
		freeFrac:  0.9,
		ceiling:   1 << 30,
		maxExec:   300,
	}
}

func (b *fakeBudget) RemainingSeconds() float64 { return b.remaining }

func (b *fakeBudget) FreeMemoryFraction() float64 { return b.freeFrac }

// FreeMemoryBytes pops the next scripted value, repeating the last one.
func (b *fakeBudget) FreeMemoryBytes() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.freeBytes) == 0 {
		return b.ceiling / 2
	}
	v := b.freeBytes[0]
	if len(b.freeBytes) > 1 {
		b.freeBytes = b.freeBytes[1:]
	}
	return v
}

func (b *fakeBudget) MemoryCeilingBytes() uint64 { return b.ceiling }

func (b *fakeBudget) MaxSingleExecutionSeconds() float64 { return b.maxExec }

// fakeClock advances by step on every reading.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		step: time.Second,
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testHarness struct {
	store    *MemoryStore
	registry *Registry
	budget   *fakeBudget
	clock    *fakeClock
	queue    *Queue
	runner   *Runner
}

func newTestHarness() *testHarness {
	h := &testHarness{
		store:    NewMemoryStore(),
		registry: NewRegistry(),
		budget:   newFakeBudget(),
		clock:    newFakeClock(),
	}
	logger := testLogger()
	h.queue = NewQueue(h.store, h.registry, h.budget, DefaultConfig(), logger)
	h.queue.SetClock(h.clock.Now)
	h.runner = NewRunner(h.queue, logger)
	return h
}
