package schedule_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tahmid-hasan/schedly/internal/directory"
	"github.com/tahmid-hasan/schedly/internal/model"
	"github.com/tahmid-hasan/schedly/internal/schedule"
	"github.com/tahmid-hasan/schedly/internal/storage"
)

type sentMail struct {
	kind  string
	email string
	appt  model.Appointment
}

type recordingNotifier struct {
	sent []sentMail
	fail bool
}

func (n *recordingNotifier) SendConfirmation(_ context.Context, email, _ string, appt model.Appointment) error {
	if n.fail {
		return errors.New("smtp unreachable")
	}
	n.sent = append(n.sent, sentMail{kind: "confirmation", email: email, appt: appt})
	return nil
}

type recordedEvent struct {
	eventType string
	apptID    string
}

type recordingSink struct {
	events []recordedEvent
}

func (s *recordingSink) Record(_ context.Context, eventType string, appt model.Appointment) {
	s.events = append(s.events, recordedEvent{eventType: eventType, apptID: appt.ID})
}

type fixture struct {
	engine   *schedule.Engine
	store    *storage.Memory
	notifier *recordingNotifier
	sink     *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemory()
	for _, acct := range []model.Account{
		{ID: "cust-1", Name: "Ana", Email: "ana@example.com", Phone: "555-0101", Role: model.RoleCustomer},
		{ID: "cust-2", Name: "Ben", Email: "ben@example.com", Role: model.RoleCustomer},
		{ID: "biz-1", Name: "Mia", Email: "mia@cuts.example.com", Role: model.RoleBusiness, BusinessName: "Mia's Cuts"},
		{ID: "biz-2", Name: "Leo", Email: "leo@spa.example.com", Role: model.RoleBusiness, BusinessName: "Leo's Spa"},
	} {
		if err := store.CreateAccount(context.Background(), acct); err != nil {
			t.Fatalf("seed account %s: %v", acct.ID, err)
		}
	}
	dir, err := directory.New(store, 16)
	if err != nil {
		t.Fatalf("directory.New: %v", err)
	}
	notifier := &recordingNotifier{}
	sink := &recordingSink{}
	engine := schedule.NewEngine(store, dir, notifier, sink, discardLogger())
	return &fixture{engine: engine, store: store, notifier: notifier, sink: sink}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func at(hour, minute int) model.ClockTime {
	return model.ClockTime(hour*60 + minute)
}

var day = time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

func (f *fixture) book(t *testing.T, customerID, businessID string, start, end model.ClockTime) schedule.Detail {
	t.Helper()
	detail, err := f.engine.Book(context.Background(), schedule.BookRequest{
		RequesterID: customerID,
		BusinessID:  businessID,
		Service:     "haircut",
		Date:        day,
		Start:       start,
		End:         end,
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	return detail
}

func TestBookRejectsInvalidInterval(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ start, end model.ClockTime }{
		{at(10, 0), at(10, 0)},
		{at(11, 0), at(10, 0)},
		{-1, at(10, 0)},
		{at(10, 0), 24*60 + 1},
	} {
		_, err := f.engine.Book(context.Background(), schedule.BookRequest{
			RequesterID: "cust-1", BusinessID: "biz-1", Service: "haircut",
			Date: day, Start: tc.start, End: tc.end,
		})
		if !errors.Is(err, schedule.ErrInvalidInterval) {
			t.Fatalf("interval [%d,%d): expected ErrInvalidInterval, got %v", tc.start, tc.end, err)
		}
	}
}

func TestBookUnknownBusiness(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Book(context.Background(), schedule.BookRequest{
		RequesterID: "cust-1", BusinessID: "nope", Service: "haircut",
		Date: day, Start: at(10, 0), End: at(11, 0),
	})
	if !errors.Is(err, schedule.ErrBusinessNotFound) {
		t.Fatalf("expected ErrBusinessNotFound, got %v", err)
	}

	// A customer account id is not a bookable business.
	_, err = f.engine.Book(context.Background(), schedule.BookRequest{
		RequesterID: "cust-1", BusinessID: "cust-2", Service: "haircut",
		Date: day, Start: at(10, 0), End: at(11, 0),
	})
	if !errors.Is(err, schedule.ErrBusinessNotFound) {
		t.Fatalf("expected ErrBusinessNotFound for customer target, got %v", err)
	}
}

func TestBookByBusinessAccountDenied(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Book(context.Background(), schedule.BookRequest{
		RequesterID: "biz-2", BusinessID: "biz-1", Service: "haircut",
		Date: day, Start: at(10, 0), End: at(11, 0),
	})
	if !errors.Is(err, schedule.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestBookConflicts(t *testing.T) {
	f := newFixture(t)
	f.book(t, "cust-1", "biz-1", at(10, 0), at(11, 0))

	// Any overlap with the 10:00-11:00 hold is rejected, whoever asks.
	for _, tc := range []struct{ start, end model.ClockTime }{
		{at(10, 30), at(11, 30)},
		{at(9, 30), at(10, 30)},
		{at(10, 15), at(10, 45)},
		{at(9, 0), at(12, 0)},
		{at(10, 0), at(11, 0)},
	} {
		_, err := f.engine.Book(context.Background(), schedule.BookRequest{
			RequesterID: "cust-2", BusinessID: "biz-1", Service: "massage",
			Date: day, Start: tc.start, End: tc.end,
		})
		if !errors.Is(err, schedule.ErrSlotUnavailable) {
			t.Fatalf("interval [%s,%s): expected ErrSlotUnavailable, got %v", tc.start, tc.end, err)
		}
	}

	// Touching endpoints do not collide.
	f.book(t, "cust-2", "biz-1", at(11, 0), at(12, 0))
	f.book(t, "cust-2", "biz-1", at(9, 0), at(10, 0))

	// Other businesses keep their own calendars.
	f.book(t, "cust-2", "biz-2", at(10, 0), at(11, 0))
}

func TestBookConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)
	const attempts = 16

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Book(context.Background(), schedule.BookRequest{
				RequesterID: "cust-1", BusinessID: "biz-1", Service: "haircut",
				Date: day, Start: at(10, 0), End: at(11, 0),
			})
			if err == nil {
				succeeded.Add(1)
				return
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	// Exactly one booking lands; every loser sees the slot taken.
	if got := succeeded.Load(); got != 1 {
		t.Fatalf("%d concurrent bookings succeeded, want exactly 1", got)
	}
	for err := range errs {
		if !errors.Is(err, schedule.ErrSlotUnavailable) {
			t.Fatalf("loser got %v, want ErrSlotUnavailable", err)
		}
	}

	appts, err := f.store.ListBusinessDay(context.Background(), "biz-1", day)
	if err != nil {
		t.Fatalf("ListBusinessDay: %v", err)
	}
	live := 0
	for _, a := range appts {
		if a.Status != model.StatusCancelled {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("store holds %d live appointments, want 1", live)
	}
}

func TestCancelledSlotIsRebookable(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, "cust-1", "biz-1", at(10, 0), at(11, 0))
	if err := f.engine.Cancel(context.Background(), "cust-1", first.Appointment.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	f.book(t, "cust-2", "biz-1", at(10, 0), at(11, 0))
}

func TestBookNotifiesAndRecords(t *testing.T) {
	f := newFixture(t)
	detail := f.book(t, "cust-1", "biz-1", at(10, 0), at(11, 0))

	if len(f.notifier.sent) != 1 || f.notifier.sent[0].email != "ana@example.com" {
		t.Fatalf("expected one confirmation to ana@example.com, got %+v", f.notifier.sent)
	}
	if len(f.sink.events) != 1 || f.sink.events[0].eventType != schedule.EventBooked {
		t.Fatalf("expected one booked event, got %+v", f.sink.events)
	}
	if f.sink.events[0].apptID != detail.Appointment.ID {
		t.Fatalf("event references %s, want %s", f.sink.events[0].apptID, detail.Appointment.ID)
	}
	if detail.Appointment.Status != model.StatusPending {
		t.Fatalf("new appointment status = %s, want pending", detail.Appointment.Status)
	}
	if detail.Business.BusinessName != "Mia's Cuts" {
		t.Fatalf("business summary = %+v", detail.Business)
	}
}

func TestBookSucceedsWhenNotifierFails(t *testing.T) {
	f := newFixture(t)
	f.notifier.fail = true
	detail := f.book(t, "cust-1", "biz-1", at(10, 0), at(11, 0))
	if _, err := f.store.GetByID(context.Background(), detail.Appointment.ID); err != nil {
		t.Fatalf("appointment not persisted: %v", err)
	}
}

func TestListMine(t *testing.T) {
	f := newFixture(t)
	f.book(t, "cust-1", "biz-1", at(14, 0), at(15, 0))
	f.book(t, "cust-1", "biz-2", at(9, 0), at(10, 0))
	f.book(t, "cust-2", "biz-1", at(10, 0), at(11, 0))

	mine, err := f.engine.ListMine(context.Background(), "cust-1", model.RoleCustomer)
	if err != nil {
		t.Fatalf("ListMine customer: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("customer sees %d appointments, want 2", len(mine))
	}
	if mine[0].Appointment.Start != at(9, 0) || mine[1].Appointment.Start != at(14, 0) {
		t.Fatalf("not ordered by start: %v, %v", mine[0].Appointment.Start, mine[1].Appointment.Start)
	}

	calendar, err := f.engine.ListMine(context.Background(), "biz-1", model.RoleBusiness)
	if err != nil {
		t.Fatalf("ListMine business: %v", err)
	}
	if len(calendar) != 2 {
		t.Fatalf("business sees %d appointments, want 2", len(calendar))
	}
	for _, d := range calendar {
		if d.Business.ID != "biz-1" {
			t.Fatalf("foreign appointment in calendar: %+v", d.Appointment)
		}
	}
}

func TestUpdateStatusTransitions(t *testing.T) {
	f := newFixture(t)
	detail := f.book(t, "cust-1", "biz-1", at(10, 0), at(11, 0))
	id := detail.Appointment.ID
	ctx := context.Background()

	if _, err := f.engine.UpdateStatus(ctx, "biz-1", id, model.StatusPaid); !errors.Is(err, schedule.ErrInvalidTransition) {
		t.Fatalf("pending->paid: expected ErrInvalidTransition, got %v", err)
	}

	confirmed, err := f.engine.UpdateStatus(ctx, "biz-1", id, model.StatusConfirmed)
	if err != nil {
		t.Fatalf("pending->confirmed: %v", err)
	}
	if confirmed.Appointment.Status != model.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", confirmed.Appointment.Status)
	}

	paid, err := f.engine.UpdateStatus(ctx, "biz-1", id, model.StatusPaid)
	if err != nil {
		t.Fatalf("confirmed->paid: %v", err)
	}
	if paid.Appointment.Status != model.StatusPaid {
		t.Fatalf("status = %s, want paid", paid.Appointment.Status)
	}

	if _, err := f.engine.UpdateStatus(ctx, "biz-1", id, model.StatusConfirmed); !errors.Is(err, schedule.ErrInvalidTransition) {
		t.Fatalf("paid->confirmed: expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdateStatusHidesForeignAppointments(t *testing.T) {
	f := newFixture(t)
	detail := f.book(t, "cust-1", "biz-1", at(10, 0), at(11, 0))
	ctx := context.Background()

	if _, err := f.engine.UpdateStatus(ctx, "biz-2", detail.Appointment.ID, model.StatusConfirmed); !errors.Is(err, schedule.ErrNotFound) {
		t.Fatalf("foreign business: expected ErrNotFound, got %v", err)
	}
	if _, err := f.engine.UpdateStatus(ctx, "cust-1", detail.Appointment.ID, model.StatusConfirmed); !errors.Is(err, schedule.ErrNotFound) {
		t.Fatalf("customer requester: expected ErrNotFound, got %v", err)
	}
	if _, err := f.engine.UpdateStatus(ctx, "biz-1", "missing", model.StatusConfirmed); !errors.Is(err, schedule.ErrNotFound) {
		t.Fatalf("missing id: expected ErrNotFound, got %v", err)
	}
}

func TestUpdateDetailsReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "cust-1", "biz-1", at(10, 0), at(11, 0))
	f.book(t, "cust-2", "biz-1", at(12, 0), at(13, 0))

	// Moving onto another appointment is rejected.
	start, end := at(12, 30), at(13, 30)
	if _, err := f.engine.UpdateDetails(ctx, "cust-1", a.Appointment.ID, schedule.DetailsPatch{Start: &start, End: &end}); !errors.Is(err, schedule.ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	// Shifting within its own slot excludes itself from the check.
	start, end = at(10, 30), at(11, 30)
	updated, err := f.engine.UpdateDetails(ctx, "cust-1", a.Appointment.ID, schedule.DetailsPatch{Start: &start, End: &end})
	if err != nil {
		t.Fatalf("UpdateDetails: %v", err)
	}
	if updated.Appointment.Start != at(10, 30) || updated.Appointment.End != at(11, 30) {
		t.Fatalf("times not updated: %+v", updated.Appointment)
	}

	notes := "please be on time"
	updated, err = f.engine.UpdateDetails(ctx, "biz-1", a.Appointment.ID, schedule.DetailsPatch{Notes: &notes})
	if err != nil {
		t.Fatalf("UpdateDetails by business: %v", err)
	}
	if updated.Appointment.Notes != notes {
		t.Fatalf("notes = %q", updated.Appointment.Notes)
	}

	if _, err := f.engine.UpdateDetails(ctx, "cust-2", a.Appointment.ID, schedule.DetailsPatch{Notes: &notes}); !errors.Is(err, schedule.ErrAccessDenied) {
		t.Fatalf("non-party: expected ErrAccessDenied, got %v", err)
	}
}

func TestUpdateDetailsStatusObeysTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "cust-1", "biz-1", at(10, 0), at(11, 0))

	paid := model.StatusPaid
	if _, err := f.engine.UpdateDetails(ctx, "biz-1", a.Appointment.ID, schedule.DetailsPatch{Status: &paid}); !errors.Is(err, schedule.ErrInvalidTransition) {
		t.Fatalf("pending->paid via patch: expected ErrInvalidTransition, got %v", err)
	}

	confirmed := model.StatusConfirmed
	updated, err := f.engine.UpdateDetails(ctx, "biz-1", a.Appointment.ID, schedule.DetailsPatch{Status: &confirmed})
	if err != nil {
		t.Fatalf("pending->confirmed via patch: %v", err)
	}
	if updated.Appointment.Status != model.StatusConfirmed {
		t.Fatalf("status = %s", updated.Appointment.Status)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "cust-1", "biz-1", at(10, 0), at(11, 0))

	if err := f.engine.Cancel(ctx, "cust-2", a.Appointment.ID); !errors.Is(err, schedule.ErrAccessDenied) {
		t.Fatalf("non-party cancel: expected ErrAccessDenied, got %v", err)
	}

	if err := f.engine.Cancel(ctx, "cust-1", a.Appointment.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, err := f.store.GetByID(ctx, a.Appointment.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	// Second cancel is a no-op success.
	if err := f.engine.Cancel(ctx, "cust-1", a.Appointment.ID); err != nil {
		t.Fatalf("repeat Cancel: %v", err)
	}

	if err := f.engine.Cancel(ctx, "cust-1", "missing"); !errors.Is(err, schedule.ErrNotFound) {
		t.Fatalf("missing id: expected ErrNotFound, got %v", err)
	}
}

func TestCancelFromPaidByBusiness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "cust-1", "biz-1", at(10, 0), at(11, 0))
	if _, err := f.engine.UpdateStatus(ctx, "biz-1", a.Appointment.ID, model.StatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.engine.UpdateStatus(ctx, "biz-1", a.Appointment.ID, model.StatusPaid); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if err := f.engine.Cancel(ctx, "biz-1", a.Appointment.ID); err != nil {
		t.Fatalf("cancel paid: %v", err)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine = f.engine.WithClock(func() time.Time { return day.Add(10 * time.Hour) })

	a := f.book(t, "cust-1", "biz-1", at(9, 0), at(10, 0))
	f.book(t, "cust-2", "biz-1", at(10, 0), at(11, 0))
	if _, err := f.engine.UpdateStatus(ctx, "biz-1", a.Appointment.ID, model.StatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.engine.UpdateStatus(ctx, "biz-1", a.Appointment.ID, model.StatusPaid); err != nil {
		t.Fatalf("pay: %v", err)
	}

	// Tomorrow's booking is outside the today window.
	if _, err := f.engine.Book(ctx, schedule.BookRequest{
		RequesterID: "cust-1", BusinessID: "biz-1", Service: "haircut",
		Date: day.AddDate(0, 0, 1), Start: at(9, 0), End: at(10, 0),
	}); err != nil {
		t.Fatalf("book tomorrow: %v", err)
	}

	stats, err := f.engine.Stats(ctx, "biz-1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TodayCount != 2 {
		t.Fatalf("TodayCount = %d, want 2", stats.TodayCount)
	}
	if stats.PaidCount != 1 {
		t.Fatalf("PaidCount = %d, want 1", stats.PaidCount)
	}
	if stats.StatusCounts[model.StatusPending] != 2 {
		t.Fatalf("pending count = %d, want 2", stats.StatusCounts[model.StatusPending])
	}
}
