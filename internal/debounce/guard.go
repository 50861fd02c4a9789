// Package debounce gates camera detections so each physical scan is processed once.
//
// A Guard is a two-state machine. Detect moves it from Unlocked to Locked and
// hands the caller a ticket; Finish schedules the CooldownElapsed transition
// back to Unlocked; ForegroundResumed unlocks immediately. A cooldown scheduled
// for an earlier ticket never unlocks a later detection.
package debounce

import (
	"sync"
	"time"
)

// State of a Guard.
type State int

const (
	Unlocked State = iota
	Locked
)

func (s State) String() string {
	if s == Locked {
		return "locked"
	}
	return "unlocked"
}

// Trigger names the event that caused a transition.
type Trigger string

const (
	Detect            Trigger = "detect"
	CooldownElapsed   Trigger = "cooldown-elapsed"
	ForegroundResumed Trigger = "foreground-resumed"
)

// Timer is the part of *time.Timer the guard needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. The default wraps time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// Ticket identifies one locked period.
type Ticket uint64

// Guard is safe for concurrent use.
type Guard struct {
	mu           sync.Mutex
	state        State
	generation   uint64
	cooldown     time.Duration
	afterFunc    AfterFunc
	pending      Timer
	onTransition func(from, to State, trigger Trigger)
}

type Option func(*Guard)

// WithAfterFunc replaces the timer factory, mainly for tests.
func WithAfterFunc(fn AfterFunc) Option {
	return func(g *Guard) { g.afterFunc = fn }
}

// WithTransitionHook is called, under the guard's lock, after every state change.
func WithTransitionHook(fn func(from, to State, trigger Trigger)) Option {
	return func(g *Guard) { g.onTransition = fn }
}

func New(cooldown time.Duration, opts ...Option) *Guard {
	g := &Guard{
		cooldown: cooldown,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Detect locks the guard. It reports false, with no side effects, when the guard is already locked.
func (g *Guard) Detect() (Ticket, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Locked {
		return 0, false
	}
	g.generation++
	g.transition(Locked, Detect)
	return Ticket(g.generation), true
}

// Finish schedules the unlock for ticket after the cooldown.
func (g *Guard) Finish(ticket Ticket) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Locked || uint64(ticket) != g.generation {
		return
	}
	if g.cooldown <= 0 {
		g.transition(Unlocked, CooldownElapsed)
		return
	}
	g.stopPending()
	g.pending = g.afterFunc(g.cooldown, func() { g.cooldownElapsed(ticket) })
}

// ForegroundResumed unlocks at once, abandoning any pending cooldown.
func (g *Guard) ForegroundResumed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopPending()
	// Invalidate the ticket of a workflow that may still be running.
	g.generation++
	if g.state == Locked {
		g.transition(Unlocked, ForegroundResumed)
	}
}

// OnDetect runs dispatch for payload unless the guard is locked, then starts the cooldown.
// It reports whether dispatch ran.
func (g *Guard) OnDetect(payload string, dispatch func(payload string)) bool {
	ticket, ok := g.Detect()
	if !ok {
		return false
	}
	defer g.Finish(ticket)
	dispatch(payload)
	return true
}

// Close stops a pending cooldown timer.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopPending()
}

func (g *Guard) cooldownElapsed(ticket Ticket) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if uint64(ticket) != g.generation || g.state != Locked {
		return
	}
	g.pending = nil
	g.transition(Unlocked, CooldownElapsed)
}

func (g *Guard) stopPending() {
	if g.pending != nil {
		g.pending.Stop()
		g.pending = nil
	}
}

func (g *Guard) transition(to State, trigger Trigger) {
	from := g.state
	g.state = to
	if g.onTransition != nil {
		g.onTransition(from, to, trigger)
	}
}
