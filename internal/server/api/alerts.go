package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/guardian/internal/store"
)

// defaultAlertLimit is the page size when no limit is given.
const defaultAlertLimit = 50

// AlertsHandler serves the alert history.
type AlertsHandler struct {
	store *store.Store
}

// NewAlertsHandler creates a new AlertsHandler with the given store.
func NewAlertsHandler(s *store.Store) *AlertsHandler {
	return &AlertsHandler{store: s}
}

// ServeHTTP routes /api/alerts and /api/alerts/{id}.
func (h *AlertsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/alerts")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		h.list(w, r)
		return
	}
	h.get(w, r, path)
}

type alertResponse struct {
	ID          string  `json:"id"`
	TriggeredAt string  `json:"triggered_at"`
	Location    *latLng `json:"location,omitempty"`
	MapLink     string  `json:"map_link,omitempty"`
	SnapshotKey string  `json:"snapshot_key,omitempty"`
	Status      string  `json:"status"`
	Attempts    int     `json:"attempts"`
	Error       string  `json:"error,omitempty"`
}

type latLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type listAlertsResponse struct {
	Alerts []alertResponse `json:"alerts"`
	Total  int             `json:"total"`
}

func toAlertResponse(a *store.Alert) alertResponse {
	resp := alertResponse{
		ID:          a.ID,
		TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		SnapshotKey: a.SnapshotKey,
		Status:      string(a.Status),
		Attempts:    a.Attempts,
		Error:       a.Error,
	}
	if a.HasLocation {
		resp.Location = &latLng{Lat: a.Lat, Lng: a.Lng}
		resp.MapLink = a.MapLink
	}
	return resp
}

// list handles GET /api/alerts?limit=N, newest first.
func (h *AlertsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	alerts, err := h.store.Alerts().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	total, err := h.store.Alerts().Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count alerts")
		return
	}

	resp := listAlertsResponse{
		Alerts: make([]alertResponse, 0, len(alerts)),
		Total:  total,
	}
	for _, a := range alerts {
		resp.Alerts = append(resp.Alerts, toAlertResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// get handles GET /api/alerts/{id}.
func (h *AlertsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	a, err := h.store.Alerts().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get alert")
		return
	}
	writeJSON(w, http.StatusOK, toAlertResponse(a))
}
