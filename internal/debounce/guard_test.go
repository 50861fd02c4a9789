package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	fn      func()
	d       time.Duration
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{fn: f, d: d}
	c.timers = append(c.timers, t)
	return t
}

// fireAll runs every timer that was not stopped.
func (c *fakeClock) fireAll() {
	c.mu.Lock()
	timers := c.timers
	c.timers = nil
	c.mu.Unlock()
	for _, t := range timers {
		if !t.stopped {
			t.fn()
		}
	}
}

func newTestGuard() (*Guard, *fakeClock) {
	clock := &fakeClock{}
	return New(3*time.Second, WithAfterFunc(clock.AfterFunc)), clock
}

func TestGuard_RapidDetectionsFireOnce(t *testing.T) {
	g, clock := newTestGuard()

	var calls int
	for i := 0; i < 25; i++ {
		g.OnDetect(`{"student_number":"S1"}`, func(string) { calls++ })
	}

	assert.Equal(t, 1, calls)
	assert.Equal(t, Locked, g.State())
	require.Len(t, clock.timers, 1)
	assert.Equal(t, 3*time.Second, clock.timers[0].d)
}

func TestGuard_ConcurrentDetectionsFireOnce(t *testing.T) {
	g, _ := newTestGuard()

	var calls int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			g.OnDetect("payload", func(string) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(time.Millisecond)
			})
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGuard_CooldownUnlocks(t *testing.T) {
	g, clock := newTestGuard()

	assert.True(t, g.OnDetect("a", func(string) {}))
	assert.False(t, g.OnDetect("a", func(string) {}))

	clock.fireAll()
	assert.Equal(t, Unlocked, g.State())
	assert.True(t, g.OnDetect("b", func(string) {}))
}

func TestGuard_StaysLockedWhileDispatchRuns(t *testing.T) {
	g, clock := newTestGuard()

	ticket, ok := g.Detect()
	require.True(t, ok)
	// No cooldown is scheduled until the workflow finishes.
	assert.Empty(t, clock.timers)
	_, ok = g.Detect()
	assert.False(t, ok)

	g.Finish(ticket)
	assert.Equal(t, Locked, g.State())
	clock.fireAll()
	assert.Equal(t, Unlocked, g.State())
}

func TestGuard_ForegroundResumedUnlocksImmediately(t *testing.T) {
	var triggers []Trigger
	clock := &fakeClock{}
	g := New(time.Second, WithAfterFunc(clock.AfterFunc), WithTransitionHook(func(_, _ State, tr Trigger) {
		triggers = append(triggers, tr)
	}))

	stuck, ok := g.Detect()
	require.True(t, ok)

	g.ForegroundResumed()
	assert.Equal(t, Unlocked, g.State())

	// A new scan locks again; the stuck workflow finishing late must not unlock it early.
	fresh, ok := g.Detect()
	require.True(t, ok)
	g.Finish(stuck)
	assert.Empty(t, clock.timers)
	assert.Equal(t, Locked, g.State())

	g.Finish(fresh)
	clock.fireAll()
	assert.Equal(t, Unlocked, g.State())
	assert.Equal(t, []Trigger{Detect, ForegroundResumed, Detect, CooldownElapsed}, triggers)
}

func TestGuard_ForegroundCancelsPendingCooldown(t *testing.T) {
	g, clock := newTestGuard()

	ticket, _ := g.Detect()
	g.Finish(ticket)
	require.Len(t, clock.timers, 1)
	pending := clock.timers[0]

	g.ForegroundResumed()
	assert.True(t, pending.stopped)

	next, ok := g.Detect()
	require.True(t, ok)
	// The stale callback is ignored even if it raced past Stop.
	pending.fn()
	assert.Equal(t, Locked, g.State())
	g.Finish(next)
}

func TestGuard_ZeroCooldown(t *testing.T) {
	g := New(0)
	assert.True(t, g.OnDetect("a", func(string) {}))
	assert.Equal(t, Unlocked, g.State())
}
