package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pkarsten/clavis/internal/clavis/store"
	"github.com/pkarsten/clavis/internal/clavis/types"
)

const (
	// DefaultCheckoutWindow is how long an employee tap authorizes key
	// checkouts.
	DefaultCheckoutWindow = 20 * time.Second

	// DefaultCheckinMinAge is how long a key must stay out before it can
	// come back. It blocks the tailgating pattern where the same key is
	// tapped twice in quick succession and the second tap silently books
	// it back in.
	DefaultCheckinMinAge = 2 * time.Minute
)

var (
	// ErrNoActiveSession: a key checkout was attempted with no employee
	// armed.
	ErrNoActiveSession = errors.New("no active employee session")

	// ErrSessionExpired: the armed window had already lapsed when the key
	// was tapped.
	ErrSessionExpired = errors.New("employee session expired")
)

// CooldownError reports how long a freshly checked-out key must wait
// before it can be checked back in.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("key can be checked in after %ds", e.Seconds())
}

// Seconds is the remaining wait rounded up to whole seconds.
func (e *CooldownError) Seconds() int {
	return int((e.Remaining + time.Second - 1) / time.Second)
}

// SessionState is the in-memory employee session. There is exactly one
// per Engine; it never persists, so a restart always comes up Idle.
type SessionState struct {
	EmployeeUID int64
	ExpiresAt   time.Time
	Armed       bool
}

// ValidAt reports whether the session authorizes checkouts at now.
// Expiry is checked lazily here; nothing ticks the session down.
func (s SessionState) ValidAt(now time.Time) bool {
	return s.Armed && !now.After(s.ExpiresAt)
}

// EngineConfig tunes the Engine's time guards. Zero durations fall back
// to the defaults. Now defaults to time.Now and exists so tests can drive
// the clock.
type EngineConfig struct {
	CheckoutWindow time.Duration
	CheckinMinAge  time.Duration
	Now            func() time.Time
}

// Engine runs the tap state machine: it classifies each tap, arms and
// disarms the employee session, and moves keys through the checkout
// ledger. One Engine owns one SessionState and expects taps to be
// delivered sequentially, which is what a single physical reader
// produces.
type Engine struct {
	dir     *TagDirectory
	session SessionState
	window  time.Duration
	minAge  time.Duration
	now     func() time.Time
}

func NewEngine(dir *TagDirectory, cfg EngineConfig) *Engine {
	if cfg.CheckoutWindow <= 0 {
		cfg.CheckoutWindow = DefaultCheckoutWindow
	}
	if cfg.CheckinMinAge <= 0 {
		cfg.CheckinMinAge = DefaultCheckinMinAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		dir:    dir,
		window: cfg.CheckoutWindow,
		minAge: cfg.CheckinMinAge,
		now:    cfg.Now,
	}
}

// Session returns a copy of the current session state.
func (e *Engine) Session() SessionState {
	return e.session
}

// HandleTap classifies one tap and applies its effect. The returned error
// is reserved for storage failures; every expected condition, refusals
// and tamper included, comes back as an Outcome.
func (e *Engine) HandleTap(ctx context.Context, evt types.TagEvent) (types.Outcome, error) {
	now := e.now().UTC()

	role, active, err := e.dir.Classify(ctx, evt.UID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return types.Outcome{Kind: types.OutcomeUnregistered, UID: evt.UID}, nil
	case errors.Is(err, types.ErrUnknownRole):
		// Corrupt row. Report it; never act on it.
		return types.Outcome{Kind: types.OutcomeInconsistent, UID: evt.UID, Reason: err.Error()}, nil
	case err != nil:
		return types.Outcome{}, err
	}

	if !active {
		return types.Outcome{Kind: types.OutcomeInactive, UID: evt.UID, Role: role}, nil
	}

	// Anti-cloning: the content on the tag must match the credential its
	// registration binds. A stale credential after re-registration lands
	// here too, which is intended.
	ok, err := e.dir.VerifyContent(ctx, evt.UID, evt.Content)
	if err != nil {
		return types.Outcome{}, err
	}
	if !ok {
		return types.Outcome{Kind: types.OutcomeTamper, UID: evt.UID, Role: role}, nil
	}

	switch role {
	case types.RoleEmployee:
		return e.handleEmployee(evt, now), nil
	case types.RoleKey:
		return e.handleKey(ctx, evt, now)
	}

	// Classify parses roles at the storage boundary, so this is dead code
	// unless the closed set grows without this switch keeping up.
	return types.Outcome{
		Kind:   types.OutcomeInconsistent,
		UID:    evt.UID,
		Role:   role,
		Reason: fmt.Sprintf("unhandled role %q", role),
	}, nil
}

// handleEmployee arms, re-arms, or cancels the session. An employee tap
// never touches the ledger.
func (e *Engine) handleEmployee(evt types.TagEvent, now time.Time) types.Outcome {
	if e.session.EmployeeUID == evt.UID && e.session.ValidAt(now) {
		// Same employee inside the window: tap-to-cancel.
		e.session = SessionState{}
		return types.Outcome{
			Kind:        types.OutcomeEmployeeDisarmed,
			UID:         evt.UID,
			Role:        types.RoleEmployee,
			EmployeeUID: evt.UID,
		}
	}

	// Idle, expired, or a different employee: the session is replaced,
	// never extended or merged.
	e.session = SessionState{
		EmployeeUID: evt.UID,
		ExpiresAt:   now.Add(e.window),
		Armed:       true,
	}
	return types.Outcome{
		Kind:        types.OutcomeEmployeeArmed,
		UID:         evt.UID,
		Role:        types.RoleEmployee,
		EmployeeUID: evt.UID,
		ExpiresAt:   e.session.ExpiresAt,
	}
}

// handleKey reads the pair's ledger state and dispatches to checkout or
// check-in. "In the office" covers both a pair with no history and a
// closed last cycle.
func (e *Engine) handleKey(ctx context.Context, evt types.TagEvent, now time.Time) (types.Outcome, error) {
	checkedOut, checkedIn, err := e.dir.LedgerState(ctx, evt.UID, evt.Content)
	if err != nil {
		return types.Outcome{}, err
	}

	switch {
	case checkedOut != nil && checkedIn == nil:
		return e.checkIn(ctx, evt, now, *checkedOut)
	case checkedOut == nil && checkedIn != nil:
		// Ruled out by the ledger invariants; reported, not trusted.
		return types.Outcome{
			Kind:   types.OutcomeInconsistent,
			UID:    evt.UID,
			Role:   types.RoleKey,
			Reason: "ledger cycle has a check-in but no checkout",
		}, nil
	default:
		return e.checkOut(ctx, evt, now)
	}
}

func (e *Engine) checkOut(ctx context.Context, evt types.TagEvent, now time.Time) (types.Outcome, error) {
	if !e.session.ValidAt(now) {
		reason := ErrNoActiveSession
		if e.session.Armed {
			reason = ErrSessionExpired
		}
		// A dead session is cleared rather than left to linger.
		e.session = SessionState{}
		return types.Outcome{
			Kind:   types.OutcomeCheckoutFailed,
			UID:    evt.UID,
			Role:   types.RoleKey,
			Reason: reason.Error(),
		}, nil
	}

	employeeUID := e.session.EmployeeUID
	err := e.dir.Checkout(ctx, evt.UID, evt.Content, employeeUID, now)
	if errors.Is(err, store.ErrKeyAlreadyOut) {
		// Lost a race with another writer. The session stays armed; the
		// employee did nothing wrong.
		return types.Outcome{
			Kind:   types.OutcomeCheckoutFailed,
			UID:    evt.UID,
			Role:   types.RoleKey,
			Reason: err.Error(),
		}, nil
	}
	if err != nil {
		return types.Outcome{}, err
	}

	// The session survives a success so one employee can take several
	// keys in one window. Wait carries the cooldown so the front-end can
	// say when the key may come back.
	return types.Outcome{
		Kind:        types.OutcomeKeyCheckedOut,
		UID:         evt.UID,
		Role:        types.RoleKey,
		EmployeeUID: employeeUID,
		ExpiresAt:   e.session.ExpiresAt,
		Wait:        e.minAge,
	}, nil
}

func (e *Engine) checkIn(ctx context.Context, evt types.TagEvent, now time.Time, checkedOutAt time.Time) (types.Outcome, error) {
	if eligibleAt := checkedOutAt.Add(e.minAge); now.Before(eligibleAt) {
		cooldown := &CooldownError{Remaining: eligibleAt.Sub(now)}
		return types.Outcome{
			Kind:   types.OutcomeCheckinWait,
			UID:    evt.UID,
			Role:   types.RoleKey,
			Reason: cooldown.Error(),
			Wait:   cooldown.Remaining,
		}, nil
	}

	err := e.dir.Checkin(ctx, evt.UID, evt.Content, now)
	if errors.Is(err, store.ErrKeyNotCheckedOut) {
		// The open cycle vanished between LedgerState and here.
		return types.Outcome{
			Kind:   types.OutcomeInconsistent,
			UID:    evt.UID,
			Role:   types.RoleKey,
			Reason: err.Error(),
		}, nil
	}
	if err != nil {
		return types.Outcome{}, err
	}

	return types.Outcome{Kind: types.OutcomeKeyCheckedIn, UID: evt.UID, Role: types.RoleKey}, nil
}
