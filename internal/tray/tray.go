// Package tray provides a system tray interface for the guardian monitoring service.
package tray

import (
	"context"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/guardian/internal/app"
)

const (
	titleMonitoring = "Status: Monitoring"
	titleAlert      = "⚠ FALL DETECTED"
	titleNoCamera   = "Status: Waiting for camera"
)

// Tray represents the system tray application.
type Tray struct {
	onReset      func()
	onOpenStream func()
	onQuit       func()
	status       string
	alert        bool
	mu           sync.RWMutex

	// Menu items stored for later updates
	menuStatus *systray.MenuItem
	menuReset  *systray.MenuItem
}

// New creates a new Tray waiting for the camera.
func New() *Tray {
	return &Tray{
		status: titleNoCamera,
	}
}

// OnReset sets the callback function to be called when Reset Alert is clicked.
func (t *Tray) OnReset(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReset = fn
}

// OnOpenStream sets the callback function to be called when Open Stream is clicked.
func (t *Tray) OnOpenStream(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpenStream = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray from outside the menu.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Guardian")
	systray.SetTooltip("Guardian Fall Monitor")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem(t.status, "Monitoring status")
	t.menuStatus.Disable()
	systray.AddSeparator()

	t.menuReset = systray.AddMenuItem("Reset Alert", "Clear the active fall alert")
	if !t.alert {
		t.menuReset.Disable()
	}
	t.mu.Unlock()

	menuStream := systray.AddMenuItem("Open Stream...", "Open the live stream in browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Guardian")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuReset.ClickedCh:
				t.handleReset()
			case <-menuStream.ClickedCh:
				t.call(func() func() { return t.onOpenStream })
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

// handleReset runs the reset callback and returns the menu to monitoring.
func (t *Tray) handleReset() {
	t.call(func() func() { return t.onReset })
	t.Apply(app.Event{Type: app.EventAlertReset})
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.call(func() func() { return t.onQuit })
	systray.Quit()
}

// call reads a callback under the lock and runs it outside.
func (t *Tray) call(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// Apply updates the menu for a pipeline event.
func (t *Tray) Apply(e app.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e.Type {
	case app.EventAlertTriggered:
		t.alert = true
	case app.EventAlertCleared, app.EventAlertReset:
		t.alert = false
	case app.EventCameraLost:
		t.status = titleNoCamera
	case app.EventCameraConnected:
		t.status = titleMonitoring
	default:
		return
	}

	title := t.status
	if t.alert {
		title = titleAlert
	}
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(title)
	}
	if t.menuReset != nil {
		if t.alert {
			t.menuReset.Enable()
		} else {
			t.menuReset.Disable()
		}
	}
}

// Watch applies events until ctx is done or events is closed.
func (t *Tray) Watch(ctx context.Context, events <-chan app.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			t.Apply(e)
		}
	}
}

// Title returns the status line currently shown.
func (t *Tray) Title() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.alert {
		return titleAlert
	}
	return t.status
}

// AlertActive reports whether the tray shows an active alert.
func (t *Tray) AlertActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alert
}
