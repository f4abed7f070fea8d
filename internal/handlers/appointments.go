package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tahmid-hasan/schedly/internal/model"
	"github.com/tahmid-hasan/schedly/internal/schedule"
)

func (h *Handler) handleBusinesses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businesses, err := h.dir.FindBusinesses(r.Context())
	if err != nil {
		h.logger.Error("list businesses", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"businesses": businesses})
}

type createAppointmentRequest struct {
	BusinessID string          `json:"business_id"`
	Service    string          `json:"service"`
	Date       string          `json:"date"`
	StartTime  model.ClockTime `json:"start_time"`
	EndTime    model.ClockTime `json:"end_time"`
	Notes      string          `json:"notes"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims := ClaimsFromContext(r.Context())

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.BusinessID == "" || strings.TrimSpace(req.Service) == "" {
		http.Error(w, "business_id and service are required", http.StatusBadRequest)
		return
	}
	date, err := time.ParseInLocation("2006-01-02", req.Date, time.UTC)
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	detail, err := h.engine.Book(r.Context(), schedule.BookRequest{
		RequesterID: claims.Sub,
		BusinessID:  req.BusinessID,
		Service:     strings.TrimSpace(req.Service),
		Date:        date,
		Start:       req.StartTime,
		End:         req.EndTime,
		Notes:       req.Notes,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(detail))
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims := ClaimsFromContext(r.Context())

	role, ok := model.ParseRole(claims.Role)
	if !ok {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	details, err := h.engine.ListMine(r.Context(), claims.Sub, role)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	out := make([]appointmentResponse, 0, len(details))
	for _, d := range details {
		out = append(out, toAppointmentResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": out})
}

type updateAppointmentRequest struct {
	Service   *string          `json:"service"`
	Date      *string          `json:"date"`
	StartTime *model.ClockTime `json:"start_time"`
	EndTime   *model.ClockTime `json:"end_time"`
	Notes     *string          `json:"notes"`
	Status    *string          `json:"status"`
}

// handleAppointmentByID serves PUT and DELETE on /api/appointments/{id}.
func (h *Handler) handleAppointmentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/appointments/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}
	claims := ClaimsFromContext(r.Context())

	switch r.Method {
	case http.MethodPut:
		var req updateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		patch := schedule.DetailsPatch{
			Service: req.Service,
			Start:   req.StartTime,
			End:     req.EndTime,
			Notes:   req.Notes,
		}
		if req.Date != nil {
			date, err := time.ParseInLocation("2006-01-02", *req.Date, time.UTC)
			if err != nil {
				http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
				return
			}
			patch.Date = &date
		}
		if req.Status != nil {
			status, ok := model.ParseStatus(*req.Status)
			if !ok {
				http.Error(w, "unknown status", http.StatusBadRequest)
				return
			}
			patch.Status = &status
		}

		detail, err := h.engine.UpdateDetails(r.Context(), claims.Sub, id, patch)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(detail))

	case http.MethodDelete:
		if err := h.engine.Cancel(r.Context(), claims.Sub, id); err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(model.StatusCancelled)})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
