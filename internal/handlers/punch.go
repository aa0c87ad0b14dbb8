package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/checador/device/internal/services"
	"github.com/checador/device/types"
)

// PunchHandler provides the kiosk identification endpoint and the admin
// punch listing.
type PunchHandler struct {
	identify *services.IdentifyService
	punches  *services.PunchService
}

// NewPunchHandler constructs a handler with the provided services.
func NewPunchHandler(identify *services.IdentifyService, punches *services.PunchService) *PunchHandler {
	return &PunchHandler{identify: identify, punches: punches}
}

// PunchRouter registers the kiosk identification route.
func PunchRouter(r chi.Router, identify *services.IdentifyService, punches *services.PunchService) {
	handler := NewPunchHandler(identify, punches)
	r.Post("/", handler.Identify)
}

// PunchAdminRouter registers the admin punch listing route.
func PunchAdminRouter(r chi.Router, identify *services.IdentifyService, punches *services.PunchService) {
	handler := NewPunchHandler(identify, punches)
	r.Get("/", handler.ListPunches)
}

// IdentifyResponse reports an identification attempt and, on a match,
// the punch it produced.
type IdentifyResponse struct {
	Status string       `json:"status"`
	Score  int          `json:"score"`
	UserID int          `json:"user_id,omitempty"`
	Punch  *types.Punch `json:"punch,omitempty"`
}

// Identify matches an uploaded capture against the gallery and records
// a punch when it succeeds.
func (h *PunchHandler) Identify(w http.ResponseWriter, r *http.Request) {
	capture, err := readCapture(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.identify.Identify(r.Context(), capture)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "identification failed")
		return
	}

	switch result.Status {
	case services.IdentifyExtractionFailed:
		writeJSON(w, http.StatusUnprocessableEntity, IdentifyResponse{Status: "extraction_failed"})
		return
	case services.IdentifyNoMatch:
		writeJSON(w, http.StatusOK, IdentifyResponse{Status: "no_match", Score: result.Score})
		return
	}

	punch, err := h.punches.RecordPunch(r.Context(), result.UserID, result.Score)
	if err != nil {
		if errors.Is(err, services.ErrPunchBounced) {
			writeJSON(w, http.StatusOK, IdentifyResponse{
				Status: "bounced",
				Score:  result.Score,
				UserID: result.UserID,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record punch")
		return
	}

	writeJSON(w, http.StatusOK, IdentifyResponse{
		Status: "matched",
		Score:  result.Score,
		UserID: result.UserID,
		Punch:  &punch,
	})
}

// ListPunches returns the newest punches with their sync state.
func (h *PunchHandler) ListPunches(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	punches, err := h.punches.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list punches")
		return
	}
	writeJSON(w, http.StatusOK, punches)
}
