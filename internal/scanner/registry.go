// Package scanner keeps one camera view per (device, location, direction):
// a debounce guard in front of a workflow bound to that location and direction.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"parkpeek-guard/internal/debounce"
	"parkpeek-guard/internal/metrics"
	"parkpeek-guard/internal/workflow"
)

// ErrUnknownLocation is returned for a location that has no parking slot.
var ErrUnknownLocation = errors.New("unknown parking location")

// workflowTimeout bounds a run that has been detached from its request.
const workflowTimeout = 30 * time.Second

// Key identifies one camera view.
type Key struct {
	Device    string
	Location  string
	Direction workflow.Direction
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Device, k.Location, k.Direction)
}

// Result of one detection.
type Result struct {
	// Ignored is set when the view was locked and the detection was dropped.
	Ignored bool
	Outcome *workflow.Outcome
	Err     error
}

type screen struct {
	guard    *debounce.Guard
	workflow *workflow.Workflow
	lastUsed time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	screens   map[Key]*screen
	locations map[string]struct{}

	deps      workflow.Deps
	cooldown  time.Duration
	guardOpts []debounce.Option
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Registry)

// WithGuardOptions is applied to every debounce guard the registry creates.
func WithGuardOptions(opts ...debounce.Option) Option {
	return func(r *Registry) { r.guardOpts = append(r.guardOpts, opts...) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func NewRegistry(deps workflow.Deps, cooldown time.Duration, locations []string, opts ...Option) *Registry {
	r := &Registry{
		screens:   make(map[Key]*screen),
		locations: make(map[string]struct{}, len(locations)),
		deps:      deps,
		cooldown:  cooldown,
		metrics:   deps.Metrics,
		now:       time.Now,
	}
	for _, name := range locations {
		r.locations[name] = struct{}{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scan hands payload to the view's workflow unless the view is locked.
// The run is detached from ctx: a guard walking away does not abort a transition in flight.
func (r *Registry) Scan(ctx context.Context, key Key, payload string) (Result, error) {
	s, err := r.screen(key)
	if err != nil {
		return Result{}, err
	}

	var res Result
	dispatched := s.guard.OnDetect(payload, func(payload string) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), workflowTimeout)
		defer cancel()
		res.Outcome, res.Err = s.workflow.Run(runCtx, payload)
	})
	if !dispatched {
		if r.metrics != nil {
			r.metrics.ScansIgnored.WithLabelValues(key.Location, string(key.Direction)).Inc()
		}
		return Result{Ignored: true}, nil
	}
	return res, nil
}

// Foreground unlocks the view at once, as when the app returns to the foreground.
func (r *Registry) Foreground(key Key) error {
	s, err := r.screen(key)
	if err != nil {
		return err
	}
	s.guard.ForegroundResumed()
	log.Printf("scanner %s: foreground resumed, guard unlocked", key)
	return nil
}

// State reports the guard state of a view. Views that were never used are unlocked.
func (r *Registry) State(key Key) debounce.State {
	r.mu.Lock()
	s, ok := r.screens[key]
	r.mu.Unlock()
	if !ok {
		return debounce.Unlocked
	}
	return s.guard.State()
}

// Prune forgets unlocked views idle for longer than maxIdle and returns how many were removed.
func (r *Registry) Prune(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxIdle)
	removed := 0
	for key, s := range r.screens {
		if s.lastUsed.Before(cutoff) && s.guard.State() == debounce.Unlocked {
			s.guard.Close()
			delete(r.screens, key)
			removed++
		}
	}
	return removed
}

// Run prunes idle views every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Prune(maxIdle); n > 0 {
				log.Printf("scanner: pruned %d idle camera views", n)
			}
		}
	}
}

func (r *Registry) screen(key Key) (*screen, error) {
	if _, ok := r.locations[key.Location]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLocation, key.Location)
	}
	if _, err := workflow.ParseDirection(string(key.Direction)); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.screens[key]
	if !ok {
		s = &screen{
			guard:    debounce.New(r.cooldown, r.guardOpts...),
			workflow: workflow.New(key.Location, key.Direction, r.deps),
		}
		r.screens[key] = s
	}
	s.lastUsed = r.now()
	return s, nil
}
