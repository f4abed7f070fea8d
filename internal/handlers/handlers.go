package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tahmid-hasan/schedly/internal/directory"
	"github.com/tahmid-hasan/schedly/internal/model"
	"github.com/tahmid-hasan/schedly/internal/schedule"
)

// AccountStore is the account write/lookup surface the auth endpoints use.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct model.Account) error
	FindAccountByEmail(ctx context.Context, email string) (model.Account, error)
}

type Handler struct {
	engine    *schedule.Engine
	dir       *directory.Directory
	accounts  AccountStore
	logger    *slog.Logger
	jwtSecret string
	tokenTTL  time.Duration
}

func New(engine *schedule.Engine, dir *directory.Directory, accounts AccountStore, logger *slog.Logger, jwtSecret string) *Handler {
	return &Handler{
		engine:    engine,
		dir:       dir,
		accounts:  accounts,
		logger:    logger,
		jwtSecret: jwtSecret,
		tokenTTL:  7 * 24 * time.Hour,
	}
}

// Register mounts all routes. Exact patterns win over the subtree patterns,
// so /api/appointments/businesses is not swallowed by /api/appointments/.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/register", h.handleRegister)
	mux.HandleFunc("/api/auth/login", h.handleLogin)

	mux.HandleFunc("/api/appointments/businesses", h.withAuth(h.handleBusinesses))
	mux.HandleFunc("/api/appointments/mine", h.withAuth(h.handleListMine))
	mux.HandleFunc("/api/appointments", h.withAuth(h.handleCreate))
	mux.HandleFunc("/api/appointments/", h.withAuth(h.handleAppointmentByID))

	mux.HandleFunc("/api/admin/appointments", h.withAuth(h.requireBusiness(h.handleAdminList)))
	mux.HandleFunc("/api/admin/appointments/", h.withAuth(h.requireBusiness(h.handleAdminStatus)))
	mux.HandleFunc("/api/admin/stats", h.withAuth(h.requireBusiness(h.handleStats)))
}

type appointmentResponse struct {
	ID           string               `json:"id"`
	Customer     model.AccountSummary `json:"customer"`
	Business     model.AccountSummary `json:"business"`
	Service      string               `json:"service"`
	Date         string               `json:"date"`
	StartTime    model.ClockTime      `json:"start_time"`
	EndTime      model.ClockTime      `json:"end_time"`
	Status       string               `json:"status"`
	Notes        string               `json:"notes,omitempty"`
	ReminderSent bool                 `json:"reminder_sent"`
	CreatedAt    string               `json:"created_at"`
	UpdatedAt    string               `json:"updated_at"`
}

func toAppointmentResponse(d schedule.Detail) appointmentResponse {
	a := d.Appointment
	return appointmentResponse{
		ID:           a.ID,
		Customer:     d.Customer,
		Business:     d.Business,
		Service:      a.Service,
		Date:         a.Date.Format("2006-01-02"),
		StartTime:    a.Start,
		EndTime:      a.End,
		Status:       string(a.Status),
		Notes:        a.Notes,
		ReminderSent: a.ReminderSent,
		CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEngineError maps the engine's sentinel errors to HTTP statuses.
// Unknown errors are dependency failures and stay opaque to the client.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, schedule.ErrInvalidInterval):
		http.Error(w, "start time must be before end time", http.StatusBadRequest)
	case errors.Is(err, schedule.ErrBusinessNotFound):
		http.Error(w, "business not found", http.StatusNotFound)
	case errors.Is(err, schedule.ErrSlotUnavailable):
		http.Error(w, "time slot not available", http.StatusConflict)
	case errors.Is(err, schedule.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, schedule.ErrAccessDenied):
		http.Error(w, "access denied", http.StatusForbidden)
	case errors.Is(err, schedule.ErrInvalidTransition):
		http.Error(w, "status transition not allowed", http.StatusUnprocessableEntity)
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
