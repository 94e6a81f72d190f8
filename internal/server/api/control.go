package api

import (
	"errors"
	"net/http"

	"github.com/ayusman/guardian/internal/app"
	"github.com/ayusman/guardian/internal/location"
)

// Controller is the part of the monitoring service driven over HTTP.
// *app.App implements it.
type Controller interface {
	ResetAlert() bool
	UpdateLocation(lat, lng float64) (location.Info, error)
	SetNotifierToken(token string) error
	Status() app.Status
}

// ControlHandler exposes status and out-of-band commands.
type ControlHandler struct {
	ctrl Controller
}

// NewControlHandler creates a new ControlHandler.
func NewControlHandler(ctrl Controller) *ControlHandler {
	return &ControlHandler{ctrl: ctrl}
}

// ServeHTTP routes the control endpoints.
func (h *ControlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/status":
		h.only(http.MethodGet, h.status)(w, r)
	case "/api/alert/reset":
		h.only(http.MethodPost, h.reset)(w, r)
	case "/api/location":
		h.only(http.MethodPost, h.location)(w, r)
	case "/api/token":
		h.only(http.MethodPost, h.token)(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *ControlHandler) only(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

type resetResponse struct {
	Status     string `json:"status"`
	WasLatched bool   `json:"was_latched"`
}

type locationRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type locationResponse struct {
	Status   string        `json:"status"`
	Location location.Info `json:"location"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// status handles GET /api/status.
func (h *ControlHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// reset handles POST /api/alert/reset.
func (h *ControlHandler) reset(w http.ResponseWriter, r *http.Request) {
	was := h.ctrl.ResetAlert()
	writeJSON(w, http.StatusOK, resetResponse{Status: "reset", WasLatched: was})
}

// location handles POST /api/location with {"lat": .., "lng": ..}.
func (h *ControlHandler) location(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}

	info, err := h.ctrl.UpdateLocation(*req.Lat, *req.Lng)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, locationResponse{Status: "updated", Location: info})
}

// token handles POST /api/token with {"token": ".."}.
func (h *ControlHandler) token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.ctrl.SetNotifierToken(req.Token); err != nil {
		if errors.Is(err, app.ErrEmptyToken) {
			writeError(w, http.StatusBadRequest, "token is required")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to save token")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "updated"})
}
