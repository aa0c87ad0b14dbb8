package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
)

type contextKey string

const contextSubjectKey contextKey = "sub"

// maxCaptureBytes bounds uploaded fingerprint captures. Raw sensor
// frames are well under this.
const maxCaptureBytes = 8 << 20

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// Healthz reports process liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readCapture extracts the uploaded fingerprint image from a multipart
// form field named "capture".
func readCapture(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxCaptureBytes); err != nil {
		return nil, errors.New("invalid multipart form")
	}
	file, _, err := r.FormFile("capture")
	if err != nil {
		return nil, errors.New("capture file is required")
	}
	defer closeQuietly(file)

	data, err := io.ReadAll(io.LimitReader(file, maxCaptureBytes+1))
	if err != nil {
		return nil, errors.New("failed to read capture")
	}
	if len(data) == 0 {
		return nil, errors.New("capture is empty")
	}
	if len(data) > maxCaptureBytes {
		return nil, errors.New("capture too large")
	}
	return data, nil
}

func closeQuietly(f multipart.File) {
	_ = f.Close()
}
