package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/checador/device/internal/services"
	"github.com/checador/device/internal/store"
	"github.com/checador/device/types"
)

// EnrollHandler provides HTTP handlers for the enrollment flow.
type EnrollHandler struct {
	enrollment *services.EnrollmentService
}

// NewEnrollHandler constructs a handler with the provided service.
func NewEnrollHandler(enrollment *services.EnrollmentService) *EnrollHandler {
	return &EnrollHandler{enrollment: enrollment}
}

// EnrollRouter registers enrollment routes on the given router.
func EnrollRouter(r chi.Router, enrollment *services.EnrollmentService) {
	handler := NewEnrollHandler(enrollment)
	r.Post("/start", handler.Start)
	r.Post("/{userID}/sample", handler.SubmitSample)
}

type EnrollStartRequest struct {
	Name         string `json:"name"`
	EmployeeCode string `json:"employee_code"`
}

type EnrollStartResponse struct {
	User types.User `json:"user"`
}

// SampleResponse reports the decision for one enrollment capture.
type SampleResponse struct {
	Status      string `json:"status"`
	Quality     int    `json:"quality"`
	SampleIndex int    `json:"sample_index,omitempty"`
	Complete    bool   `json:"complete"`
}

// Start creates the user that enrollment samples will attach to.
func (h *EnrollHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req EnrollStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.EmployeeCode = strings.TrimSpace(req.EmployeeCode)
	if req.Name == "" || req.EmployeeCode == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	user, err := h.enrollment.StartEnrollment(r.Context(), req.Name, req.EmployeeCode)
	if err != nil {
		if errors.Is(err, services.ErrEmployeeCodeTaken) {
			writeError(w, http.StatusConflict, "employee code already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start enrollment")
		return
	}

	writeJSON(w, http.StatusCreated, EnrollStartResponse{User: user})
}

// SubmitSample runs one uploaded capture through the quality gate.
func (h *EnrollHandler) SubmitSample(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil || userID < 1 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	capture, err := readCapture(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.enrollment.SubmitSample(r.Context(), userID, capture)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to process sample")
		return
	}

	writeJSON(w, http.StatusOK, SampleResponse{
		Status:      sampleStatusLabel(result.Status),
		Quality:     result.Quality,
		SampleIndex: result.SampleIndex,
		Complete:    result.Complete,
	})
}

func sampleStatusLabel(status services.SampleStatus) string {
	switch status {
	case services.SampleAccepted:
		return "accepted"
	case services.SampleLowQuality:
		return "low_quality"
	case services.SampleExtractionFailed:
		return "extraction_failed"
	default:
		return "unknown"
	}
}
