package reminder_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tahmid-hasan/schedly/internal/directory"
	"github.com/tahmid-hasan/schedly/internal/model"
	"github.com/tahmid-hasan/schedly/internal/reminder"
	"github.com/tahmid-hasan/schedly/internal/storage"
)

type reminderRecorder struct {
	sent    []string // appointment ids
	failFor map[string]bool
}

func (r *reminderRecorder) SendReminder(_ context.Context, _, _ string, appt model.Appointment) error {
	if r.failFor[appt.ID] {
		return errors.New("smtp unreachable")
	}
	r.sent = append(r.sent, appt.ID)
	return nil
}

var sweepNow = time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)

func seedSweep(t *testing.T) (*storage.Memory, *directory.Directory) {
	t.Helper()
	store := storage.NewMemory()
	accounts := []model.Account{
		{ID: "cust-1", Name: "Ana", Email: "ana@example.com", Role: model.RoleCustomer},
		{ID: "cust-2", Name: "Ben", Email: "ben@example.com", Role: model.RoleCustomer},
		{ID: "biz-1", Name: "Mia", Email: "mia@cuts.example.com", Role: model.RoleBusiness, BusinessName: "Mia's Cuts"},
	}
	for _, acct := range accounts {
		if err := store.CreateAccount(context.Background(), acct); err != nil {
			t.Fatalf("seed account: %v", err)
		}
	}
	dir, err := directory.New(store, 16)
	if err != nil {
		t.Fatalf("directory.New: %v", err)
	}
	return store, dir
}

func seedAppointment(t *testing.T, store *storage.Memory, id, customerID string, date time.Time, start model.ClockTime, status model.Status) {
	t.Helper()
	appt := model.Appointment{
		ID:         id,
		CustomerID: customerID,
		BusinessID: "biz-1",
		Service:    "haircut",
		Date:       model.Day(date),
		Start:      start,
		End:        start + 60,
		Status:     status,
	}
	if err := store.Create(context.Background(), &appt); err != nil {
		t.Fatalf("seed appointment %s: %v", id, err)
	}
}

func TestSweepSelectsTomorrowOnly(t *testing.T) {
	store, dir := seedSweep(t)
	tomorrow := sweepNow.AddDate(0, 0, 1)

	seedAppointment(t, store, "a-today", "cust-1", sweepNow, 600, model.StatusConfirmed)
	seedAppointment(t, store, "a-tomorrow", "cust-1", tomorrow, 600, model.StatusConfirmed)
	seedAppointment(t, store, "a-tomorrow-pending", "cust-2", tomorrow, 720, model.StatusPending)
	seedAppointment(t, store, "a-tomorrow-cancelled", "cust-2", tomorrow, 840, model.StatusCancelled)
	seedAppointment(t, store, "a-later", "cust-1", sweepNow.AddDate(0, 0, 2), 600, model.StatusConfirmed)

	rec := &reminderRecorder{}
	sweeper := reminder.NewSweeper(store, dir, rec, nil, testLogger())

	sent, err := sweeper.Sweep(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
	got := map[string]bool{}
	for _, id := range rec.sent {
		got[id] = true
	}
	if !got["a-tomorrow"] || !got["a-tomorrow-pending"] {
		t.Fatalf("wrong recipients: %v", rec.sent)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	store, dir := seedSweep(t)
	tomorrow := sweepNow.AddDate(0, 0, 1)
	seedAppointment(t, store, "a1", "cust-1", tomorrow, 600, model.StatusConfirmed)

	rec := &reminderRecorder{}
	sweeper := reminder.NewSweeper(store, dir, rec, nil, testLogger())

	if sent, err := sweeper.Sweep(context.Background(), sweepNow); err != nil || sent != 1 {
		t.Fatalf("first sweep: sent=%d err=%v", sent, err)
	}
	if sent, err := sweeper.Sweep(context.Background(), sweepNow); err != nil || sent != 0 {
		t.Fatalf("second sweep: sent=%d err=%v, want 0 resends", sent, err)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("customer received %d reminders, want 1", len(rec.sent))
	}

	appt, err := store.GetByID(context.Background(), "a1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !appt.ReminderSent {
		t.Fatal("reminder_sent not persisted")
	}
}

func TestSweepIsolatesFailures(t *testing.T) {
	store, dir := seedSweep(t)
	tomorrow := sweepNow.AddDate(0, 0, 1)
	seedAppointment(t, store, "a-fail", "cust-1", tomorrow, 600, model.StatusConfirmed)
	seedAppointment(t, store, "a-ok", "cust-2", tomorrow, 720, model.StatusConfirmed)

	rec := &reminderRecorder{failFor: map[string]bool{"a-fail": true}}
	sweeper := reminder.NewSweeper(store, dir, rec, nil, testLogger())

	sent, err := sweeper.Sweep(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}

	// The failed appointment keeps its flag down and is retried while its
	// date still qualifies.
	failed, err := store.GetByID(context.Background(), "a-fail")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if failed.ReminderSent {
		t.Fatal("failed dispatch must not set reminder_sent")
	}

	rec.failFor = nil
	sent, err = sweeper.Sweep(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("retry Sweep: %v", err)
	}
	if sent != 1 {
		t.Fatalf("retry sent = %d, want 1", sent)
	}
}

func TestSweepSkipsDeletedCustomer(t *testing.T) {
	store, dir := seedSweep(t)
	tomorrow := sweepNow.AddDate(0, 0, 1)
	seedAppointment(t, store, "a-ghost", "cust-gone", tomorrow, 600, model.StatusConfirmed)
	seedAppointment(t, store, "a-ok", "cust-1", tomorrow, 720, model.StatusConfirmed)

	rec := &reminderRecorder{}
	sweeper := reminder.NewSweeper(store, dir, rec, nil, testLogger())

	sent, err := sweeper.Sweep(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if sent != 1 || len(rec.sent) != 1 || rec.sent[0] != "a-ok" {
		t.Fatalf("sent=%d recipients=%v, want only a-ok", sent, rec.sent)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
