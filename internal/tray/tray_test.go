package tray

import (
	"context"
	"testing"
	"time"

	"github.com/ayusman/guardian/internal/app"
)

func TestTray_Apply(t *testing.T) {
	tests := []struct {
		name      string
		events    []app.EventType
		wantTitle string
		wantAlert bool
	}{
		{"initial", nil, titleNoCamera, false},
		{"camera connected", []app.EventType{app.EventCameraConnected}, titleMonitoring, false},
		{"fall", []app.EventType{app.EventCameraConnected, app.EventAlertTriggered}, titleAlert, true},
		{"cooldown expired", []app.EventType{app.EventCameraConnected, app.EventAlertTriggered, app.EventAlertCleared}, titleMonitoring, false},
		{"reset", []app.EventType{app.EventCameraConnected, app.EventAlertTriggered, app.EventAlertReset}, titleMonitoring, false},
		{"camera lost", []app.EventType{app.EventCameraConnected, app.EventCameraLost}, titleNoCamera, false},
		{"alert outranks camera state", []app.EventType{app.EventAlertTriggered, app.EventCameraLost}, titleAlert, true},
		{"unrelated event", []app.EventType{app.EventCameraConnected, app.EventLocationUpdated}, titleMonitoring, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			for _, typ := range tt.events {
				tr.Apply(app.Event{Type: typ})
			}
			if got := tr.Title(); got != tt.wantTitle {
				t.Errorf("Title() = %q, want %q", got, tt.wantTitle)
			}
			if got := tr.AlertActive(); got != tt.wantAlert {
				t.Errorf("AlertActive() = %v, want %v", got, tt.wantAlert)
			}
		})
	}
}

func TestTray_HandleReset(t *testing.T) {
	tr := New()
	tr.Apply(app.Event{Type: app.EventAlertTriggered})

	called := 0
	tr.OnReset(func() { called++ })
	tr.handleReset()

	if called != 1 {
		t.Errorf("reset callback called %d times, want 1", called)
	}
	if tr.AlertActive() {
		t.Error("expected alert cleared after reset")
	}

	// No callback registered
	New().handleReset()
}

func TestTray_Watch(t *testing.T) {
	tr := New()
	events := make(chan app.Event, 2)
	events <- app.Event{Type: app.EventCameraConnected}
	events <- app.Event{Type: app.EventAlertTriggered}
	close(events)

	done := make(chan struct{})
	go func() {
		tr.Watch(context.Background(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after channel close")
	}
	if !tr.AlertActive() {
		t.Error("expected alert after watched events")
	}
}
