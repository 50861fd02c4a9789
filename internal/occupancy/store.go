// Package occupancy keeps the in-process projection of every location's
// occupancy that dashboards read and scan workflows update.
package occupancy

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"parkpeek-guard/internal/model"
	"parkpeek-guard/internal/retry"
	"parkpeek-guard/internal/store"
)

// Source is the backend call used by Refresh.
type Source interface {
	ListLocations(ctx context.Context) ([]model.ParkingSlot, error)
}

// Entry is the cached view of one location. Current is always within [0, Total].
type Entry struct {
	Name      string    `json:"name"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Stale     bool      `json:"stale"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Full reports whether no space is left.
func (e Entry) Full() bool {
	return e.Current >= e.Total
}

type entry struct {
	current   int
	total     int
	stale     bool
	updatedAt time.Time
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	lastErr error

	source  Source
	policy  retry.Policy
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time

	observers []func(Entry)
	onFailure func(error)
}

type Option func(*Store)

// WithBreaker routes every backend fetch through cb.
func WithBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(s *Store) { s.breaker = cb }
}

// WithObserver registers fn to receive every entry after it changes.
func WithObserver(fn func(Entry)) Option {
	return func(s *Store) { s.observers = append(s.observers, fn) }
}

// WithFailureHook is called once for every refresh that exhausted its retries.
func WithFailureHook(fn func(error)) Option {
	return func(s *Store) { s.onFailure = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(source Source, policy retry.Policy, opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]entry),
		source:  source,
		policy:  policy,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh replaces the cache with the backend's values. When every attempt fails
// the last known values are kept and marked stale, and the error is returned.
func (s *Store) Refresh(ctx context.Context) error {
	var slots []model.ParkingSlot
	err := s.policy.Do(ctx, "occupancy refresh", func(ctx context.Context) error {
		var err error
		slots, err = s.fetch(ctx)
		return err
	})
	if err != nil {
		s.markStale(err)
		return err
	}

	now := s.now()
	s.mu.Lock()
	fresh := make(map[string]entry, len(slots))
	for _, slot := range slots {
		fresh[slot.Name] = entry{current: slot.CurrentOccupancy, total: slot.TotalCapacity, updatedAt: now}
	}
	s.entries = fresh
	s.lastErr = nil
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot...)
	return nil
}

// ApplyDelta moves a location's count by delta, clamped to its capacity.
func (s *Store) ApplyDelta(name string, delta int) (Entry, bool) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return Entry{}, false
	}
	e.current = store.Clamp(e.current, e.total) + delta
	e.updatedAt = s.now()
	s.entries[name] = e
	out := view(name, e)
	s.mu.Unlock()

	s.notify(out)
	return out, true
}

// Set records an authoritative value, typically the counter committed by a transition.
func (s *Store) Set(name string, current, total int) Entry {
	s.mu.Lock()
	e := entry{current: current, total: total, updatedAt: s.now()}
	s.entries[name] = e
	out := view(name, e)
	s.mu.Unlock()

	s.notify(out)
	return out
}

func (s *Store) Get(name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return Entry{}, false
	}
	return view(name, e), true
}

// Snapshot returns every location ordered by name.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// LastError is the error of the most recent failed refresh, or nil after a success.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Run refreshes once, then every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	log.Printf("Starting occupancy refresh loop (every %s)...", interval)
	if err := s.Refresh(ctx); err != nil {
		log.Printf("Initial occupancy refresh failed: %v", err)
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Occupancy refresh loop shutting down.")
			return
		case <-timer.C:
			if err := s.Refresh(ctx); err != nil {
				log.Printf("Occupancy refresh failed, serving stale values: %v", err)
			}
			timer.Reset(interval)
		}
	}
}

func (s *Store) fetch(ctx context.Context) ([]model.ParkingSlot, error) {
	if s.breaker == nil {
		return s.source.ListLocations(ctx)
	}
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.source.ListLocations(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.([]model.ParkingSlot), nil
}

func (s *Store) markStale(err error) {
	s.mu.Lock()
	for name, e := range s.entries {
		e.stale = true
		s.entries[name] = e
	}
	s.lastErr = err
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		return
	}
	if s.onFailure != nil {
		s.onFailure(err)
	}
	s.notify(snapshot...)
}

func (s *Store) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, view(name, e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) notify(entries ...Entry) {
	for _, fn := range s.observers {
		for _, e := range entries {
			fn(e)
		}
	}
}

// view clamps on read.
func view(name string, e entry) Entry {
	return Entry{
		Name:      name,
		Current:   store.Clamp(e.current, e.total),
		Total:     e.total,
		Stale:     e.stale,
		UpdatedAt: e.updatedAt,
	}
}
