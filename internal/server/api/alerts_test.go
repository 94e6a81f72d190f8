package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/guardian/internal/store"
)

// newTestStore creates a new Store with a temporary database for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func seedAlerts(t *testing.T, s *store.Store, n int) []*store.Alert {
	t.Helper()

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	var alerts []*store.Alert
	for i := 0; i < n; i++ {
		a := &store.Alert{
			ID:          "alert-" + string(rune('a'+i)),
			TriggeredAt: base.Add(time.Duration(i) * time.Minute),
		}
		if i == 0 {
			a.HasLocation = true
			a.Lat, a.Lng = 48.85, 2.35
			a.MapLink = "https://www.google.com/maps?q=48.85,2.35"
		}
		if err := s.Alerts().Create(a); err != nil {
			t.Fatalf("failed to create alert: %v", err)
		}
		alerts = append(alerts, a)
	}
	return alerts
}

func TestAlertsHandler_List(t *testing.T) {
	s := newTestStore(t)
	seedAlerts(t, s, 3)
	handler := NewAlertsHandler(s)

	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var resp listAlertsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 3 || len(resp.Alerts) != 3 {
		t.Fatalf("expected 3 alerts, got %d (total %d)", len(resp.Alerts), resp.Total)
	}
	if resp.Alerts[0].ID != "alert-c" {
		t.Errorf("expected newest first, got %s", resp.Alerts[0].ID)
	}
	if resp.Alerts[0].Status != "pending" {
		t.Errorf("expected pending, got %s", resp.Alerts[0].Status)
	}

	oldest := resp.Alerts[2]
	if oldest.Location == nil || oldest.Location.Lat != 48.85 {
		t.Errorf("expected location on oldest alert, got %+v", oldest.Location)
	}
	if resp.Alerts[0].Location != nil {
		t.Error("expected no location on newest alert")
	}
}

func TestAlertsHandler_ListLimit(t *testing.T) {
	s := newTestStore(t)
	seedAlerts(t, s, 3)
	handler := NewAlertsHandler(s)

	req := httptest.NewRequest(http.MethodGet, "/api/alerts?limit=2", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp listAlertsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Alerts) != 2 || resp.Total != 3 {
		t.Errorf("expected 2 of 3 alerts, got %d of %d", len(resp.Alerts), resp.Total)
	}

	for _, bad := range []string{"0", "-1", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/alerts?limit="+bad, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected status %d, got %d", bad, http.StatusBadRequest, rec.Code)
		}
	}
}

func TestAlertsHandler_ListEmpty(t *testing.T) {
	handler := NewAlertsHandler(newTestStore(t))

	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if string(raw["alerts"]) != "[]" {
		t.Errorf("expected empty array, got %s", raw["alerts"])
	}
}

func TestAlertsHandler_Get(t *testing.T) {
	s := newTestStore(t)
	seedAlerts(t, s, 1)
	if err := s.Alerts().UpdateResult("alert-a", store.AlertFailed, 4, "gateway down"); err != nil {
		t.Fatalf("failed to update alert: %v", err)
	}
	handler := NewAlertsHandler(s)

	t.Run("existing alert", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/alerts/alert-a", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		var resp alertResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Status != "failed" || resp.Attempts != 4 || resp.Error != "gateway down" {
			t.Errorf("unexpected alert %+v", resp)
		}
		if resp.TriggeredAt != "2026-05-01T08:00:00Z" {
			t.Errorf("unexpected triggered_at %s", resp.TriggeredAt)
		}
	})

	t.Run("missing alert", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/alerts/nope", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/alerts/alert-a", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})
}
