package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/checador/device/internal/syncer"
)

// SyncHandler exposes sync diagnostics and a manual drain trigger.
type SyncHandler struct {
	worker *syncer.Worker
}

// NewSyncHandler constructs a handler with the provided worker.
func NewSyncHandler(worker *syncer.Worker) *SyncHandler {
	return &SyncHandler{worker: worker}
}

// SyncRouter registers sync routes on the given router.
func SyncRouter(r chi.Router, worker *syncer.Worker) {
	handler := NewSyncHandler(worker)
	r.Get("/status", handler.Status)
	r.Post("/now", handler.SyncNow)
}

// Status reports sync configuration and backlog.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.worker.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read sync status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SyncNow triggers one drain cycle. The worker serializes this with the
// background loop, so triggering during a cycle just waits its turn.
func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	if err := h.worker.SyncOnce(r.Context()); err != nil {
		if errors.Is(err, syncer.ErrDeliveryFailed) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "sync cycle failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
