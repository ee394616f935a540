package service

import (
	"time"

	"github.com/okulsys/attendance-api/internal/models"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
)

// EditWindowCause explains why a session rejected attendance writes.
type EditWindowCause string

const (
	CauseLocked       EditWindowCause = "locked"
	CauseNotYetOpen   EditWindowCause = "not_yet_open"
	CauseWindowClosed EditWindowCause = "window_closed"
)

// EditabilityDecision is the outcome of evaluating the edit window for a
// session at a given instant.
type EditabilityDecision struct {
	Editable bool
	Cause    EditWindowCause

	// ShouldLock instructs the caller to persist locked=true before
	// reporting the failure. It is set only when the window has closed,
	// never when the session was already locked, so the transition stays
	// observable and idempotent.
	ShouldLock bool

	WindowStart time.Time
	WindowEnd   time.Time
}

// EditabilityPolicy decides whether a session currently accepts attendance
// writes. Both margins arrive per evaluation so runtime flag updates take
// effect without rebuilding the policy.
type EditabilityPolicy struct{}

// NewEditabilityPolicy constructs the policy.
func NewEditabilityPolicy() *EditabilityPolicy {
	return &EditabilityPolicy{}
}

// Evaluate applies the edit-window rules in order: the lock always wins,
// then the window [start - earlyOpen, end + grace] is checked inclusively.
// Negative margins are treated as zero.
func (p *EditabilityPolicy) Evaluate(session *models.Session, now time.Time, gracePeriodMinutes, earlyOpenMinutes int) EditabilityDecision {
	if gracePeriodMinutes < 0 {
		gracePeriodMinutes = 0
	}
	if earlyOpenMinutes < 0 {
		earlyOpenMinutes = 0
	}
	decision := EditabilityDecision{
		WindowStart: session.StartTime.Add(-time.Duration(earlyOpenMinutes) * time.Minute),
		WindowEnd:   session.EndTime.Add(time.Duration(gracePeriodMinutes) * time.Minute),
	}

	if session.IsLocked {
		decision.Cause = CauseLocked
		return decision
	}
	if now.Before(decision.WindowStart) {
		decision.Cause = CauseNotYetOpen
		return decision
	}
	if now.After(decision.WindowEnd) {
		decision.Cause = CauseWindowClosed
		decision.ShouldLock = true
		return decision
	}

	decision.Editable = true
	return decision
}

// NotEditableError builds the single error kind reported for every
// non-editable cause, carrying the cause as an informational detail only.
func (d EditabilityDecision) NotEditableError() *appErrors.Error {
	return appErrors.WithDetail(appErrors.ErrSessionNotEditable, string(d.Cause))
}

// EditableUntil returns the last instant at which the session accepts
// writes, for API consumers that surface the window.
func (p *EditabilityPolicy) EditableUntil(session *models.Session, gracePeriodMinutes int) time.Time {
	if gracePeriodMinutes < 0 {
		gracePeriodMinutes = 0
	}
	return session.EndTime.Add(time.Duration(gracePeriodMinutes) * time.Minute)
}
