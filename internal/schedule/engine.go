package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tahmid-hasan/schedly/internal/model"
)

// AppointmentStore is the persistence boundary. Create and Update return
// model.ErrConflict when the write would violate the no-overlap invariant;
// both must hold that invariant under concurrent writers for the same
// business day. UpdateStatus is compare-and-set on the current status and
// returns model.ErrConflict when the entity moved underneath the caller.
type AppointmentStore interface {
	Create(ctx context.Context, appt *model.Appointment) error
	GetByID(ctx context.Context, id string) (model.Appointment, error)
	ListByCustomer(ctx context.Context, customerID string) ([]model.Appointment, error)
	ListByBusiness(ctx context.Context, businessID string) ([]model.Appointment, error)
	ListBusinessDay(ctx context.Context, businessID string, day time.Time) ([]model.Appointment, error)
	Update(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	UpdateStatus(ctx context.Context, id string, from, to model.Status) (model.Appointment, error)
	StatusCounts(ctx context.Context, businessID string) (map[model.Status]int, error)
	CountInDateRange(ctx context.Context, businessID string, from, to time.Time) (int, error)
}

// Directory resolves accounts; read-only.
type Directory interface {
	Resolve(ctx context.Context, id string) (model.Account, error)
}

// Notifier dispatches appointment mail. Failures are logged and never fail
// the surrounding operation.
type Notifier interface {
	SendConfirmation(ctx context.Context, email, name string, appt model.Appointment) error
}

// EventSink records domain events best-effort (outbox).
type EventSink interface {
	Record(ctx context.Context, eventType string, appt model.Appointment)
}

const (
	EventBooked        = "scheduling.appointment.booked.v1"
	EventStatusChanged = "scheduling.appointment.status_changed.v1"
	EventCancelled     = "scheduling.appointment.cancelled.v1"
)

// Engine orchestrates booking, status transitions and access control.
type Engine struct {
	store    AppointmentStore
	dir      Directory
	checker  *Checker
	notifier Notifier
	events   EventSink
	logger   *slog.Logger

	now           func() time.Time
	notifyTimeout time.Duration
}

func NewEngine(store AppointmentStore, dir Directory, notifier Notifier, events EventSink, logger *slog.Logger) *Engine {
	return &Engine{
		store:         store,
		dir:           dir,
		checker:       NewChecker(store),
		notifier:      notifier,
		events:        events,
		logger:        logger,
		now:           time.Now,
		notifyTimeout: 5 * time.Second,
	}
}

// WithClock overrides the engine's time source. Tests use this to pin "today".
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

type BookRequest struct {
	RequesterID string
	BusinessID  string
	Service     string
	Date        time.Time
	Start       model.ClockTime
	End         model.ClockTime
	Notes       string
}

// Detail is an appointment with the party projections attached.
type Detail struct {
	Appointment model.Appointment
	Customer    model.AccountSummary
	Business    model.AccountSummary
}

type Stats struct {
	StatusCounts map[model.Status]int
	TodayCount   int
	PaidCount    int
}

// Book creates a pending appointment for the requester if the slot is free.
// The conflict check here is fast-fail; the store repeats it atomically, so
// concurrent bookings for the same business day cannot both land.
func (e *Engine) Book(ctx context.Context, req BookRequest) (Detail, error) {
	if !req.Start.Valid() || !req.End.Valid() || req.Start >= req.End {
		return Detail{}, ErrInvalidInterval
	}

	business, err := e.dir.Resolve(ctx, req.BusinessID)
	if errors.Is(err, model.ErrNotFound) {
		return Detail{}, ErrBusinessNotFound
	}
	if err != nil {
		return Detail{}, fmt.Errorf("resolve business: %w", err)
	}
	if business.Role != model.RoleBusiness {
		return Detail{}, ErrBusinessNotFound
	}

	customer, err := e.dir.Resolve(ctx, req.RequesterID)
	if errors.Is(err, model.ErrNotFound) {
		return Detail{}, ErrNotFound
	}
	if err != nil {
		return Detail{}, fmt.Errorf("resolve requester: %w", err)
	}
	if customer.Role != model.RoleCustomer {
		return Detail{}, ErrAccessDenied
	}

	day := model.Day(req.Date)
	conflict, err := e.checker.HasConflict(ctx, req.BusinessID, day, req.Start, req.End, "")
	if err != nil {
		return Detail{}, fmt.Errorf("conflict check: %w", err)
	}
	if conflict {
		return Detail{}, ErrSlotUnavailable
	}

	appt := model.Appointment{
		ID:         uuid.NewString(),
		CustomerID: customer.ID,
		BusinessID: business.ID,
		Service:    req.Service,
		Date:       day,
		Start:      req.Start,
		End:        req.End,
		Status:     model.StatusPending,
		Notes:      req.Notes,
	}
	if err := e.store.Create(ctx, &appt); err != nil {
		if errors.Is(err, model.ErrConflict) {
			return Detail{}, ErrSlotUnavailable
		}
		return Detail{}, fmt.Errorf("create appointment: %w", err)
	}

	e.sendConfirmation(ctx, customer, appt)
	e.record(ctx, EventBooked, appt)

	return Detail{Appointment: appt, Customer: customer.Summary(), Business: business.Summary()}, nil
}

// ListMine returns the requester's appointments: as customer their bookings,
// as business their calendar. Ordered by (date, start time) ascending.
func (e *Engine) ListMine(ctx context.Context, requesterID string, role model.Role) ([]Detail, error) {
	var (
		appts []model.Appointment
		err   error
	)
	if role == model.RoleBusiness {
		appts, err = e.store.ListByBusiness(ctx, requesterID)
	} else {
		appts, err = e.store.ListByCustomer(ctx, requesterID)
	}
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return e.attachParties(ctx, appts)
}

// UpdateStatus applies a business-initiated status change. The lookup is
// scoped to the requester's appointments: a foreign appointment reports
// ErrNotFound rather than ErrAccessDenied, hiding its existence.
func (e *Engine) UpdateStatus(ctx context.Context, requesterID, appointmentID string, next model.Status) (Detail, error) {
	appt, err := e.store.GetByID(ctx, appointmentID)
	if errors.Is(err, model.ErrNotFound) {
		return Detail{}, ErrNotFound
	}
	if err != nil {
		return Detail{}, fmt.Errorf("load appointment: %w", err)
	}
	if appt.BusinessID != requesterID {
		return Detail{}, ErrNotFound
	}

	if !appt.Status.CanTransitionTo(next) {
		return Detail{}, ErrInvalidTransition
	}

	updated, err := e.store.UpdateStatus(ctx, appointmentID, appt.Status, next)
	if errors.Is(err, model.ErrConflict) {
		// Concurrent writer moved the status; the transition we validated
		// no longer applies.
		return Detail{}, ErrInvalidTransition
	}
	if err != nil {
		return Detail{}, fmt.Errorf("update status: %w", err)
	}

	e.record(ctx, EventStatusChanged, updated)
	return e.attachParty(ctx, updated)
}

// DetailsPatch is the allow-listed update surface. Nil fields are untouched.
type DetailsPatch struct {
	Service *string
	Date    *time.Time
	Start   *model.ClockTime
	End     *model.ClockTime
	Notes   *string
	Status  *model.Status
}

// UpdateDetails merges the patch into the appointment for either party.
// Temporal edits re-run the conflict check (excluding the appointment
// itself) and status edits obey the transition table.
func (e *Engine) UpdateDetails(ctx context.Context, requesterID, appointmentID string, patch DetailsPatch) (Detail, error) {
	appt, err := e.store.GetByID(ctx, appointmentID)
	if errors.Is(err, model.ErrNotFound) {
		return Detail{}, ErrNotFound
	}
	if err != nil {
		return Detail{}, fmt.Errorf("load appointment: %w", err)
	}
	if appt.CustomerID != requesterID && appt.BusinessID != requesterID {
		return Detail{}, ErrAccessDenied
	}

	updated := appt
	timesChanged := false
	if patch.Service != nil {
		updated.Service = *patch.Service
	}
	if patch.Date != nil {
		updated.Date = model.Day(*patch.Date)
		timesChanged = true
	}
	if patch.Start != nil {
		updated.Start = *patch.Start
		timesChanged = true
	}
	if patch.End != nil {
		updated.End = *patch.End
		timesChanged = true
	}
	if patch.Notes != nil {
		updated.Notes = *patch.Notes
	}
	if patch.Status != nil && *patch.Status != appt.Status {
		if !appt.Status.CanTransitionTo(*patch.Status) {
			return Detail{}, ErrInvalidTransition
		}
		updated.Status = *patch.Status
	}

	if !updated.Start.Valid() || !updated.End.Valid() || updated.Start >= updated.End {
		return Detail{}, ErrInvalidInterval
	}

	if timesChanged && updated.Status != model.StatusCancelled {
		conflict, err := e.checker.HasConflict(ctx, updated.BusinessID, updated.Date, updated.Start, updated.End, updated.ID)
		if err != nil {
			return Detail{}, fmt.Errorf("conflict check: %w", err)
		}
		if conflict {
			return Detail{}, ErrSlotUnavailable
		}
	}

	persisted, err := e.store.Update(ctx, updated)
	if errors.Is(err, model.ErrConflict) {
		return Detail{}, ErrSlotUnavailable
	}
	if errors.Is(err, model.ErrNotFound) {
		return Detail{}, ErrNotFound
	}
	if err != nil {
		return Detail{}, fmt.Errorf("update appointment: %w", err)
	}

	if persisted.Status != appt.Status {
		e.record(ctx, EventStatusChanged, persisted)
	}
	return e.attachParty(ctx, persisted)
}

// Cancel sets the appointment to cancelled. Either party may cancel, from
// any status; cancelling an already-cancelled appointment is a no-op
// success and touches nothing.
func (e *Engine) Cancel(ctx context.Context, requesterID, appointmentID string) error {
	appt, err := e.store.GetByID(ctx, appointmentID)
	if errors.Is(err, model.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load appointment: %w", err)
	}
	if appt.CustomerID != requesterID && appt.BusinessID != requesterID {
		return ErrAccessDenied
	}
	if appt.Status == model.StatusCancelled {
		return nil
	}

	cancelled, err := e.store.UpdateStatus(ctx, appointmentID, appt.Status, model.StatusCancelled)
	if errors.Is(err, model.ErrConflict) {
		// Lost the race; fine as long as someone cancelled it.
		current, rerr := e.store.GetByID(ctx, appointmentID)
		if rerr == nil && current.Status == model.StatusCancelled {
			return nil
		}
		return fmt.Errorf("cancel appointment: %w", err)
	}
	if err != nil {
		return fmt.Errorf("cancel appointment: %w", err)
	}

	e.record(ctx, EventCancelled, cancelled)
	return nil
}

// Stats aggregates a business's appointments: per-status counts, today's
// count (UTC day window) and the paid total.
func (e *Engine) Stats(ctx context.Context, businessID string) (Stats, error) {
	counts, err := e.store.StatusCounts(ctx, businessID)
	if err != nil {
		return Stats{}, fmt.Errorf("status counts: %w", err)
	}

	today := model.Day(e.now())
	todayCount, err := e.store.CountInDateRange(ctx, businessID, today, today.AddDate(0, 0, 1))
	if err != nil {
		return Stats{}, fmt.Errorf("today count: %w", err)
	}

	return Stats{
		StatusCounts: counts,
		TodayCount:   todayCount,
		PaidCount:    counts[model.StatusPaid],
	}, nil
}

func (e *Engine) sendConfirmation(ctx context.Context, customer model.Account, appt model.Appointment) {
	if e.notifier == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
	defer cancel()
	if err := e.notifier.SendConfirmation(sendCtx, customer.Email, customer.Name, appt); err != nil {
		e.logger.Warn("confirmation dispatch failed",
			"appointment_id", appt.ID,
			"recipient", customer.Email,
			"err", err,
		)
	}
}

func (e *Engine) record(ctx context.Context, eventType string, appt model.Appointment) {
	if e.events == nil {
		return
	}
	e.events.Record(ctx, eventType, appt)
}

func (e *Engine) attachParty(ctx context.Context, appt model.Appointment) (Detail, error) {
	details, err := e.attachParties(ctx, []model.Appointment{appt})
	if err != nil {
		return Detail{}, err
	}
	return details[0], nil
}

func (e *Engine) attachParties(ctx context.Context, appts []model.Appointment) ([]Detail, error) {
	details := make([]Detail, 0, len(appts))
	summaries := make(map[string]model.AccountSummary, 2*len(appts))

	lookup := func(id string) (model.AccountSummary, error) {
		if s, ok := summaries[id]; ok {
			return s, nil
		}
		acct, err := e.dir.Resolve(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			// Party account gone; keep the appointment usable.
			summaries[id] = model.AccountSummary{ID: id}
			return summaries[id], nil
		}
		if err != nil {
			return model.AccountSummary{}, fmt.Errorf("resolve account %s: %w", id, err)
		}
		summaries[id] = acct.Summary()
		return summaries[id], nil
	}

	for _, appt := range appts {
		customer, err := lookup(appt.CustomerID)
		if err != nil {
			return nil, err
		}
		business, err := lookup(appt.BusinessID)
		if err != nil {
			return nil, err
		}
		details = append(details, Detail{Appointment: appt, Customer: customer, Business: business})
	}
	return details, nil
}
