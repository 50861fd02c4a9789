// Package workflow turns one decoded QR payload into at most one parking transition.
//
// A run moves through DECODE, VALIDATE, RESOLVE, CHECK, MUTATE and RECONCILE and
// ends either with an Outcome or with an *Error. The session write and the
// counter update are committed together by store.ClockIn/ClockOut.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"parkpeek-guard/internal/events"
	"parkpeek-guard/internal/lock"
	"parkpeek-guard/internal/metrics"
	"parkpeek-guard/internal/model"
	"parkpeek-guard/internal/occupancy"
	"parkpeek-guard/internal/parse"
	"parkpeek-guard/internal/store"
)

// Direction of a transition.
type Direction string

const (
	ClockIn  Direction = "in"
	ClockOut Direction = "out"
)

// ParseDirection accepts "in" and "out".
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case ClockIn, ClockOut:
		return d, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Notifier is told when a location that was full has space again.
type Notifier interface {
	Dispatch(slotID int64)
}

// Deps are the collaborators shared by every workflow.
// Store and Occupancy are required; the rest may be nil.
type Deps struct {
	Store     store.Store
	Occupancy *occupancy.Store
	Locker    lock.Locker
	Events    events.Publisher
	Notifier  Notifier
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Outcome is the result of a successful run.
type Outcome struct {
	Location      string    `json:"location"`
	Direction     Direction `json:"direction"`
	Message       string    `json:"message"`
	StudentNumber string    `json:"student_number"`
	PlateNumber   string    `json:"plate_number"`
	SessionID     int64     `json:"session_id"`
	Current       int       `json:"current"`
	Total         int       `json:"total"`
}

// Workflow is bound to one location and direction.
type Workflow struct {
	location  string
	direction Direction
	deps      Deps
}

func New(location string, direction Direction, deps Deps) *Workflow {
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Workflow{location: location, direction: direction, deps: deps}
}

func (w *Workflow) Location() string     { return w.location }
func (w *Workflow) Direction() Direction { return w.direction }

// resolved is what RESOLVE learns about a credential.
type resolved struct {
	cred    parse.Credential
	profile *model.Profile
	vehicle *model.Vehicle
	slot    *model.ParkingSlot
}

// Run processes payload. Every failure is returned as *Error and leaves state unchanged.
func (w *Workflow) Run(ctx context.Context, payload string) (*Outcome, error) {
	start := w.deps.Now()
	out, err := w.run(ctx, payload)
	w.finish(start, out, err)
	return out, err
}

func (w *Workflow) run(ctx context.Context, payload string) (*Outcome, error) {
	// DECODE
	cred, err := parse.Decode(payload)
	if err != nil {
		if errors.Is(err, parse.ErrInvalid) {
			return nil, newError(InvalidCredential, "Invalid QR code format", err)
		}
		return nil, newError(MalformedCredential, "Invalid QR code format", err)
	}

	// VALIDATE
	if err := parse.Validate(cred, w.location); err != nil {
		return nil, newError(InvalidCredential, fmt.Sprintf("QR code not valid for %s scan %s", w.location, w.direction), err)
	}

	// RESOLVE
	r, err := w.resolve(ctx, cred)
	if err != nil {
		return nil, err
	}

	// Serialize this subject at this location across guards for CHECK and MUTATE.
	release, err := w.acquire(ctx, cred.StudentNumber)
	if err != nil {
		return nil, err
	}
	defer release()

	// CHECK
	if err := w.checkPrecondition(ctx, r); err != nil {
		return nil, err
	}

	// MUTATE
	tr, err := w.mutate(ctx, r)
	if err != nil {
		return nil, err
	}

	// RECONCILE
	entry := w.reconcile(tr)
	w.afterCommit(ctx, r, tr)

	return &Outcome{
		Location:      w.location,
		Direction:     w.direction,
		Message:       w.successMessage(),
		StudentNumber: cred.StudentNumber,
		PlateNumber:   cred.Vehicle.PlateNumber,
		SessionID:     tr.Session.ID,
		Current:       entry.Current,
		Total:         entry.Total,
	}, nil
}

func (w *Workflow) resolve(ctx context.Context, cred parse.Credential) (*resolved, error) {
	profile, err := w.deps.Store.FindIdentity(ctx, cred.StudentNumber)
	if err != nil {
		return nil, lookupError(err, "Profile not found")
	}
	vehicle, err := w.deps.Store.FindVehicle(ctx, profile.UserID, cred.Vehicle.PlateNumber)
	if err != nil {
		return nil, lookupError(err, "Vehicle not found")
	}
	slot, err := w.deps.Store.GetLocation(ctx, w.location)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(InvalidCredential, fmt.Sprintf("Unknown parking location %s", w.location), err)
		}
		return nil, newError(TransportError, "Failed to fetch parking slot data", err)
	}
	return &resolved{cred: cred, profile: profile, vehicle: vehicle, slot: slot}, nil
}

// acquire takes the distributed lock on (subject, location), shared by both directions.
// A lock backend failure does not block scans: the transaction and the unique index
// still hold the invariants.
func (w *Workflow) acquire(ctx context.Context, subject string) (func(), error) {
	if w.deps.Locker == nil {
		return func() {}, nil
	}
	key := lock.Key(subject, w.location)
	release, err := w.deps.Locker.Acquire(ctx, key)
	switch {
	case errors.Is(err, lock.ErrHeld):
		// The key has no direction, so the holder may be a clock-in or a clock-out.
		// The kind follows this scan's direction; the message must not claim a session state.
		msg := fmt.Sprintf("Another scan for this user at %s is in progress", w.location)
		if w.direction == ClockIn {
			return nil, newError(AlreadyParked, msg, err)
		}
		return nil, newError(NotCurrentlyParked, msg, err)
	case err != nil:
		log.Printf("workflow: lock %s unavailable, continuing without it: %v", key, err)
		return func() {}, nil
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("workflow: %v", err)
		}
	}, nil
}

func (w *Workflow) checkPrecondition(ctx context.Context, r *resolved) error {
	active, err := w.deps.Store.FindActiveSession(ctx, r.profile.UserID, r.slot.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return newError(TransportError, "Transaction check failed", err)
	}

	switch w.direction {
	case ClockIn:
		if r.slot.CurrentOccupancy >= r.slot.TotalCapacity {
			return newError(LocationFull, fmt.Sprintf("%s parking is full", w.location), nil)
		}
		if active != nil {
			return newError(AlreadyParked, fmt.Sprintf("User already parked at %s!", w.location), nil)
		}
	case ClockOut:
		if active == nil || active.TimeOut != nil {
			return newError(NotCurrentlyParked, fmt.Sprintf("No active parking session found for this user at %s", w.location), nil)
		}
		if r.slot.CurrentOccupancy <= 0 {
			return newError(InconsistentState, fmt.Sprintf("No occupied slots to decrement in %s", w.location), nil)
		}
	}
	return nil
}

func (w *Workflow) mutate(ctx context.Context, r *resolved) (*store.Transition, error) {
	var (
		tr  *store.Transition
		err error
	)
	now := w.deps.Now().UTC()
	if w.direction == ClockIn {
		tr, err = w.deps.Store.ClockIn(ctx, store.ClockInRequest{
			UserID: r.profile.UserID, VehicleID: r.vehicle.ID, SlotID: r.slot.ID, At: now,
		})
	} else {
		tr, err = w.deps.Store.ClockOut(ctx, store.ClockOutRequest{
			UserID: r.profile.UserID, VehicleID: r.vehicle.ID, SlotID: r.slot.ID, At: now,
		})
	}
	if err != nil {
		return nil, w.mutationError(err)
	}
	return tr, nil
}

// mutationError maps the store's in-transaction re-checks, which win over the earlier reads.
func (w *Workflow) mutationError(err error) error {
	switch {
	case errors.Is(err, store.ErrSlotFull):
		return newError(LocationFull, fmt.Sprintf("%s parking is full", w.location), err)
	case errors.Is(err, store.ErrAlreadyActive):
		return newError(AlreadyParked, fmt.Sprintf("User already parked at %s!", w.location), err)
	case errors.Is(err, store.ErrNoActiveSession):
		return newError(NotCurrentlyParked, fmt.Sprintf("No active parking session found for this user at %s", w.location), err)
	case errors.Is(err, store.ErrSlotEmpty):
		return newError(InconsistentState, fmt.Sprintf("No occupied slots to decrement in %s", w.location), err)
	case errors.Is(err, store.ErrMultipleActive):
		return newError(InconsistentState, fmt.Sprintf("More than one active session at %s", w.location), err)
	case errors.Is(err, store.ErrNotFound):
		return newError(InvalidCredential, fmt.Sprintf("Unknown parking location %s", w.location), err)
	}
	if w.direction == ClockIn {
		return newError(TransportError, "Failed to clock in", err)
	}
	return newError(TransportError, "Failed to clock out", err)
}

// reconcile applies the transition to the cache. A delta is enough when the cache
// agreed with the counter before the transition; otherwise the committed value wins.
func (w *Workflow) reconcile(tr *store.Transition) occupancy.Entry {
	occ := w.deps.Occupancy
	if cached, ok := occ.Get(w.location); ok && cached.Current == tr.PreviousOccupancy && cached.Total == tr.Slot.TotalCapacity {
		delta := 1
		if w.direction == ClockOut {
			delta = -1
		}
		if entry, ok := occ.ApplyDelta(w.location, delta); ok {
			return entry
		}
	}
	return occ.Set(w.location, tr.Slot.CurrentOccupancy, tr.Slot.TotalCapacity)
}

// afterCommit runs side effects that must not undo a committed transition.
func (w *Workflow) afterCommit(ctx context.Context, r *resolved, tr *store.Transition) {
	evt := events.SessionEvent{
		Type:      events.TypeClockIn,
		SessionID: tr.Session.ID,
		UserID:    tr.Session.UserID,
		VehicleID: tr.Session.VehicleID,
		Location:  w.location,
		Occupancy: tr.Slot.CurrentOccupancy,
		Capacity:  tr.Slot.TotalCapacity,
		At:        tr.Session.TimeIn,
	}
	if w.direction == ClockOut {
		evt.Type = events.TypeClockOut
		if tr.Session.TimeOut != nil {
			evt.At = *tr.Session.TimeOut
		}
	}
	if err := w.deps.Events.PublishSession(ctx, evt); err != nil {
		log.Printf("workflow: failed to publish %s for session %d: %v", evt.Type, evt.SessionID, err)
	}

	freed := w.direction == ClockOut &&
		tr.PreviousOccupancy >= tr.Slot.TotalCapacity &&
		tr.Slot.CurrentOccupancy < tr.Slot.TotalCapacity
	if freed && w.deps.Notifier != nil {
		w.deps.Notifier.Dispatch(r.slot.ID)
	}
}

func (w *Workflow) successMessage() string {
	if w.direction == ClockIn {
		return fmt.Sprintf("Clocked In Successfully! (%s)", w.location)
	}
	return fmt.Sprintf("Clocked Out Successfully! (%s)", w.location)
}

func (w *Workflow) finish(start time.Time, out *Outcome, err error) {
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
		log.Printf("scan %s/%s: %s", w.location, w.direction, err)
	} else {
		log.Printf("scan %s/%s: %s student=%s occupancy=%d/%d",
			w.location, w.direction, out.Message, out.StudentNumber, out.Current, out.Total)
	}

	if m := w.deps.Metrics; m != nil {
		m.ScanOutcomes.WithLabelValues(w.location, string(w.direction), result).Inc()
		m.WorkflowDuration.WithLabelValues(w.location, string(w.direction)).Observe(w.deps.Now().Sub(start).Seconds())
	}
}

func lookupError(err error, message string) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(IdentityNotFound, message, err)
	}
	return newError(TransportError, message, err)
}
