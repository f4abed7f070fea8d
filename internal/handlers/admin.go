package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tahmid-hasan/schedly/internal/model"
)

func (h *Handler) handleAdminList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims := ClaimsFromContext(r.Context())

	details, err := h.engine.ListMine(r.Context(), claims.Sub, model.RoleBusiness)
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

type updateStatusRequest struct {
	Status string `json:"status"`
}

// handleAdminStatus serves PATCH /api/admin/appointments/{id}/status.
func (h *Handler) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/admin/appointments/")
	id, ok := strings.CutSuffix(rest, "/status")
	if !ok || id == "" || strings.Contains(id, "/") {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPatch {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims := ClaimsFromContext(r.Context())

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	status, ok := model.ParseStatus(req.Status)
	if !ok {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}

	detail, err := h.engine.UpdateStatus(r.Context(), claims.Sub, id, status)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(detail))
}

type statsResponse struct {
	StatusCounts map[string]int `json:"status_counts"`
	TodayCount   int            `json:"today_count"`
	PaidCount    int            `json:"paid_count"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims := ClaimsFromContext(r.Context())

	stats, err := h.engine.Stats(r.Context(), claims.Sub)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	counts := make(map[string]int, len(stats.StatusCounts))
	for status, n := range stats.StatusCounts {
		counts[string(status)] = n
	}
	writeJSON(w, http.StatusOK, statsResponse{
		StatusCounts: counts,
		TodayCount:   stats.TodayCount,
		PaidCount:    stats.PaidCount,
	})
}
