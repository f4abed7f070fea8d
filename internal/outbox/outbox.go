package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tahmid-hasan/schedly/libs/db"
	otelx "github.com/tahmid-hasan/schedly/libs/otel"

	"github.com/jackc/pgx/v5"
	"github.com/tahmid-hasan/schedly/internal/model"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, evt Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, traceparent, tracestate)
	return err
}

type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

func (r *Repository) FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID, &rcd.EventType, &rcd.Payload, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

// Recorder turns appointment state changes into outbox rows. Recording is
// best-effort: a failed insert is logged and never fails the operation that
// produced the event.
type Recorder struct {
	repo   *Repository
	logger *slog.Logger
}

func NewRecorder(repo *Repository, logger *slog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, eventType string, appt model.Appointment) {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"customer_id":    appt.CustomerID,
		"business_id":    appt.BusinessID,
		"service":        appt.Service,
		"date":           appt.Date.Format("2006-01-02"),
		"start_time":     appt.Start.String(),
		"end_time":       appt.End.String(),
		"status":         string(appt.Status),
		"reminder_sent":  appt.ReminderSent,
	})
	if err != nil {
		r.logger.Error("failed to build event payload", "event_type", eventType, "err", err)
		return
	}
	if err := r.repo.Insert(ctx, Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		r.logger.Error("failed to record outbox event", "event_type", eventType, "appointment_id", appt.ID, "err", err)
	}
}
