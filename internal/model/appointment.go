package model

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by the store when a write would produce
	// overlapping non-cancelled appointments for a business day.
	ErrConflict       = errors.New("overlapping appointment")
	ErrDuplicateEmail = errors.New("email already registered")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusPending, StatusConfirmed, StatusPaid, StatusCancelled:
		return Status(raw), true
	}
	return "", false
}

// CanTransitionTo reports whether the status change is legal. Paid and
// cancelled are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusPaid || next == StatusCancelled
	default:
		return false
	}
}

// Appointment is the central entity. Date is UTC midnight; Start/End are
// half-open time-of-day bounds on that date, Start < End.
type Appointment struct {
	ID           string
	CustomerID   string
	BusinessID   string
	Service      string
	Date         time.Time
	Start        ClockTime
	End          ClockTime
	Status       Status
	Notes        string
	ReminderSent bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StartAt is the absolute start instant, used in notification payloads.
func (a Appointment) StartAt() time.Time {
	return a.Start.On(a.Date)
}
