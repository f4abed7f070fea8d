package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/tahmid-hasan/schedly/libs/db"

	"github.com/tahmid-hasan/schedly/internal/model"
)

const appointmentColumns = `
	id::text, customer_id::text, business_id::text, service, date,
	start_time, end_time, status, notes, reminder_sent, created_at, updated_at`

// AppointmentRepository is the Postgres appointment store. Booking writes
// are serialized per (business, date) with an advisory transaction lock and
// re-check the overlap predicate inside that transaction; the table's
// exclusion constraint is the last line of defense and surfaces as
// model.ErrConflict either way.
type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Create(ctx context.Context, appt *model.Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockBusinessDay(ctx, tx, appt.BusinessID, appt.Date); err != nil {
		return err
	}
	conflict, err := overlapExists(ctx, tx, appt.BusinessID, appt.Date, appt.Start, appt.End, "")
	if err != nil {
		return err
	}
	if conflict {
		return model.ErrConflict
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, customer_id, business_id, service, date, start_time, end_time, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, appt.ID, appt.CustomerID, appt.BusinessID, appt.Service, appt.Date,
		pgTime(appt.Start), pgTime(appt.End), string(appt.Status), appt.Notes,
	).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		if isOverlapViolation(err) {
			return model.ErrConflict
		}
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, model.ErrNotFound
	}
	return appt, err
}

func (r *AppointmentRepository) ListByCustomer(ctx context.Context, customerID string) ([]model.Appointment, error) {
	return r.listWhere(ctx, `WHERE customer_id = $1`, customerID)
}

func (r *AppointmentRepository) ListByBusiness(ctx context.Context, businessID string) ([]model.Appointment, error) {
	return r.listWhere(ctx, `WHERE business_id = $1`, businessID)
}

func (r *AppointmentRepository) ListBusinessDay(ctx context.Context, businessID string, day time.Time) ([]model.Appointment, error) {
	return r.listWhere(ctx, `WHERE business_id = $1 AND date = $2`, businessID, model.Day(day))
}

// Update rewrites the allow-listed mutable fields. reminder_sent is
// deliberately excluded so the reminder sweep's flag can never be clobbered
// by a concurrent detail edit.
func (r *AppointmentRepository) Update(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if appt.Status != model.StatusCancelled {
		if err := lockBusinessDay(ctx, tx, appt.BusinessID, appt.Date); err != nil {
			return model.Appointment{}, err
		}
		conflict, err := overlapExists(ctx, tx, appt.BusinessID, appt.Date, appt.Start, appt.End, appt.ID)
		if err != nil {
			return model.Appointment{}, err
		}
		if conflict {
			return model.Appointment{}, model.ErrConflict
		}
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET service = $2,
			date = $3,
			start_time = $4,
			end_time = $5,
			status = $6,
			notes = $7,
			updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.Service, appt.Date, pgTime(appt.Start), pgTime(appt.End), string(appt.Status), appt.Notes)

	updated, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, model.ErrNotFound
	}
	if err != nil {
		if isOverlapViolation(err) {
			return model.Appointment{}, model.ErrConflict
		}
		return model.Appointment{}, err
	}
	return updated, tx.Commit(ctx)
}

// UpdateStatus is compare-and-set: zero rows with the entity present means
// a concurrent status change won, reported as model.ErrConflict.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, id string, from, to model.Status) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+appointmentColumns+`
	`, id, string(from), string(to))

	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if checkErr := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); checkErr != nil {
			return model.Appointment{}, checkErr
		}
		if exists {
			return model.Appointment{}, model.ErrConflict
		}
		return model.Appointment{}, model.ErrNotFound
	}
	return appt, err
}

func (r *AppointmentRepository) StatusCounts(ctx context.Context, businessID string) (map[model.Status]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM appointments
		WHERE business_id = $1
		GROUP BY status
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[model.Status(status)] = count
	}
	return counts, rows.Err()
}

func (r *AppointmentRepository) CountInDateRange(ctx context.Context, businessID string, from, to time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE business_id = $1 AND date >= $2 AND date < $3
	`, businessID, from, to).Scan(&count)
	return count, err
}

func (r *AppointmentRepository) ListReminderCandidates(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	return r.listWhere(ctx, `
		WHERE date >= $1 AND date < $2
			AND status IN ('pending', 'confirmed')
			AND reminder_sent = FALSE
	`, from, to)
}

// MarkReminderSent flips the flag false->true at most once; the guard in the
// WHERE clause makes the write idempotent and keeps it scoped to the one
// field, so it cannot race with user-initiated status updates.
func (r *AppointmentRepository) MarkReminderSent(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent = TRUE, updated_at = now()
		WHERE id = $1 AND reminder_sent = FALSE
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AppointmentRepository) listWhere(ctx context.Context, where string, args ...any) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments `+where+`
		ORDER BY date ASC, start_time ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

func lockBusinessDay(ctx context.Context, tx pgx.Tx, businessID string, day time.Time) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`,
		businessID, model.Day(day).Format("2006-01-02"))
	return err
}

func overlapExists(ctx context.Context, tx pgx.Tx, businessID string, day time.Time, start, end model.ClockTime, excludeID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE business_id = $1
				AND date = $2
				AND status <> 'cancelled'
				AND ($5 = '' OR id::text <> $5)
				AND start_time < $4
				AND end_time > $3
		)
	`, businessID, model.Day(day), pgTime(start), pgTime(end), excludeID).Scan(&exists)
	return exists, err
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	var start, end pgtype.Time
	err := row.Scan(
		&appt.ID,
		&appt.CustomerID,
		&appt.BusinessID,
		&appt.Service,
		&appt.Date,
		&start,
		&end,
		&status,
		&appt.Notes,
		&appt.ReminderSent,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	appt.Start = clockTime(start)
	appt.End = clockTime(end)
	appt.Date = model.Day(appt.Date)
	return appt, nil
}

func pgTime(c model.ClockTime) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * 60 * 1_000_000, Valid: true}
}

func clockTime(t pgtype.Time) model.ClockTime {
	return model.ClockTime(t.Microseconds / (60 * 1_000_000))
}
