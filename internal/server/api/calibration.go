// Package api provides HTTP API handlers for echosight calibration data.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/echosight/internal/store"
)

// WidthSetter receives calibration changes so they apply without a restart.
type WidthSetter interface {
	SetReferenceWidth(label string, meters float64)
}

// CalibrationHandler handles HTTP requests for reference widths.
type CalibrationHandler struct {
	store  *store.Store
	widths WidthSetter
}

// NewCalibrationHandler creates a new CalibrationHandler. widths may be nil.
func NewCalibrationHandler(s *store.Store, widths WidthSetter) *CalibrationHandler {
	return &CalibrationHandler{store: s, widths: widths}
}

// ServeHTTP routes /api/calibration and /api/calibration/{label}.
func (h *CalibrationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	label := strings.TrimPrefix(r.URL.Path, "/api/calibration")
	label = strings.TrimPrefix(label, "/")

	if label == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, label)
	case http.MethodPut:
		h.put(w, r, label)
	case http.MethodDelete:
		h.delete(w, r, label)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Request and response types

type putWidthRequest struct {
	WidthM float64 `json:"width_m"`
}

type widthResponse struct {
	Label     string  `json:"label"`
	WidthM    float64 `json:"width_m"`
	UpdatedAt string  `json:"updated_at"`
}

type listWidthsResponse struct {
	Widths      []widthResponse `json:"widths"`
	FocalLength *float64        `json:"focal_length,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toResponse(rw *store.ReferenceWidth) widthResponse {
	return widthResponse{
		Label:     rw.Label,
		WidthM:    rw.Meters,
		UpdatedAt: rw.UpdatedAt.Format(time.RFC3339),
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/calibration.
func (h *CalibrationHandler) list(w http.ResponseWriter, r *http.Request) {
	widths, err := h.store.Calibration().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reference widths")
		return
	}

	response := listWidthsResponse{
		Widths: make([]widthResponse, 0, len(widths)),
	}
	for _, rw := range widths {
		response.Widths = append(response.Widths, toResponse(rw))
	}

	if f, err := h.store.Settings().FocalLength(); err == nil {
		response.FocalLength = &f
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/calibration/{label}.
func (h *CalibrationHandler) get(w http.ResponseWriter, r *http.Request, label string) {
	rw, err := h.store.Calibration().Get(label)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Label not calibrated")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get reference width")
		return
	}

	writeJSON(w, http.StatusOK, toResponse(rw))
}

// put handles PUT /api/calibration/{label}.
func (h *CalibrationHandler) put(w http.ResponseWriter, r *http.Request, label string) {
	var req putWidthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.WidthM <= 0 {
		writeError(w, http.StatusBadRequest, "width_m must be positive")
		return
	}

	if err := h.store.Calibration().Set(label, req.WidthM); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save reference width")
		return
	}

	rw, err := h.store.Calibration().Get(label)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get reference width")
		return
	}

	if h.widths != nil {
		h.widths.SetReferenceWidth(rw.Label, rw.Meters)
	}

	writeJSON(w, http.StatusOK, toResponse(rw))
}

// delete handles DELETE /api/calibration/{label}.
func (h *CalibrationHandler) delete(w http.ResponseWriter, r *http.Request, label string) {
	if err := h.store.Calibration().Delete(label); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Label not calibrated")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete reference width")
		return
	}

	if h.widths != nil {
		h.widths.SetReferenceWidth(label, 0)
	}

	w.WriteHeader(http.StatusNoContent)
}
