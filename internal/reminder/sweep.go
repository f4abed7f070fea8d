package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tahmid-hasan/schedly/internal/model"
)

const EventReminderSent = "scheduling.reminder.sent.v1"

// Store is the slice of the appointment store the sweep needs: candidate
// selection and the monotonic reminder flag.
type Store interface {
	ListReminderCandidates(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
	MarkReminderSent(ctx context.Context, id string) (bool, error)
}

type Directory interface {
	Resolve(ctx context.Context, id string) (model.Account, error)
}

type Notifier interface {
	SendReminder(ctx context.Context, email, name string, appt model.Appointment) error
}

type EventSink interface {
	Record(ctx context.Context, eventType string, appt model.Appointment)
}

// Sweeper sends next-day reminders. Sweep is a pure function of now and
// store state, so tests drive it with a fixed clock instead of waiting for
// wall time.
type Sweeper struct {
	store       Store
	dir         Directory
	notifier    Notifier
	events      EventSink
	logger      *slog.Logger
	sendTimeout time.Duration
}

func NewSweeper(store Store, dir Directory, notifier Notifier, events EventSink, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:       store,
		dir:         dir,
		notifier:    notifier,
		events:      events,
		logger:      logger,
		sendTimeout: 5 * time.Second,
	}
}

// Sweep selects appointments on the day after now (UTC) that are pending or
// confirmed and not yet reminded, dispatches one reminder each, and durably
// flips reminder_sent on success. Failures are isolated per appointment: a
// failed dispatch leaves the flag unset and moves on. A failed appointment
// is retried only while its date still qualifies — once its day arrives the
// window has passed. Returns the number of reminders sent.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	tomorrow := model.Day(now).AddDate(0, 0, 1)
	dayAfter := tomorrow.AddDate(0, 0, 1)

	candidates, err := s.store.ListReminderCandidates(ctx, tomorrow, dayAfter)
	if err != nil {
		return 0, fmt.Errorf("list reminder candidates: %w", err)
	}

	sent := 0
	for _, appt := range candidates {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		customer, err := s.dir.Resolve(ctx, appt.CustomerID)
		if err != nil {
			s.logger.Warn("reminder skipped: customer lookup failed",
				"appointment_id", appt.ID, "customer_id", appt.CustomerID, "err", err)
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
		err = s.notifier.SendReminder(sendCtx, customer.Email, customer.Name, appt)
		cancel()
		if err != nil {
			s.logger.Warn("reminder dispatch failed",
				"appointment_id", appt.ID, "recipient", customer.Email, "err", err)
			continue
		}

		marked, err := s.store.MarkReminderSent(ctx, appt.ID)
		if err != nil {
			// The reminder went out but the flag write failed; the next
			// qualifying sweep may send again. Surfaced loudly for that reason.
			s.logger.Error("reminder sent but not marked",
				"appointment_id", appt.ID, "err", err)
			continue
		}
		if !marked {
			// Another runner got there first.
			continue
		}

		sent++
		appt.ReminderSent = true
		if s.events != nil {
			s.events.Record(ctx, EventReminderSent, appt)
		}
	}

	s.logger.Info("reminder sweep complete", "candidates", len(candidates), "sent", sent)
	return sent, nil
}
