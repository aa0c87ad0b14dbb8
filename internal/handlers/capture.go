package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/checador/device/internal/archive"
)

// CaptureHandler serves archived capture images for audit review.
type CaptureHandler struct {
	archive *archive.Archive
}

// NewCaptureHandler constructs a handler with the provided archive.
func NewCaptureHandler(captureArchive *archive.Archive) *CaptureHandler {
	return &CaptureHandler{archive: captureArchive}
}

// CaptureRouter registers the capture download route. Only mounted when
// archiving is enabled.
func CaptureRouter(r chi.Router, captureArchive *archive.Archive) {
	handler := NewCaptureHandler(captureArchive)
	r.Get("/*", handler.Download)
}

// Download streams one archived capture by its object key.
func (h *CaptureHandler) Download(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" {
		writeError(w, http.StatusBadRequest, "capture key is required")
		return
	}

	object, err := h.archive.Fetch(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusNotFound, "capture not found")
		return
	}
	defer object.Close()

	w.Header().Set("Content-Type", "image/png")
	if _, err := io.Copy(w, object); err != nil {
		// Headers are gone; nothing left to report to the client.
		return
	}
}
