// Package app wires the fall-monitoring pipeline: camera, pose detector,
// alert latch, overlay and alert delivery.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/guardian/internal/alert"
	"github.com/ayusman/guardian/internal/detector"
	"github.com/ayusman/guardian/internal/location"
	"github.com/ayusman/guardian/internal/notify"
	"github.com/ayusman/guardian/internal/snapshot"
	"github.com/ayusman/guardian/internal/store"
)

// ErrEmptyToken is returned by SetNotifierToken for a blank token.
var ErrEmptyToken = errors.New("notifier token is empty")

// Config holds the application's collaborators and tunables.
type Config struct {
	// Source supplies camera frames. Required.
	Source FrameSource
	// Detector wraps the pose detector. Nil runs in unavailable mode.
	Detector *detector.Adapter
	// Notifier delivers alerts. Nil logs them.
	Notifier notify.Notifier
	// Archive stores alert snapshots. Optional.
	Archive snapshot.Archive
	// Store persists alerts and settings. Optional.
	Store *store.Store

	Cooldown    time.Duration
	Processor   ProcessorConfig
	Dispatch    alert.DispatcherConfig
	FrameBuffer int
	EventBuffer int

	Log *zap.Logger
}

// App is the running monitoring service.
type App struct {
	config     Config
	log        *zap.Logger
	latch      *alert.Latch
	locations  *location.Tracker
	notifier   notify.Notifier
	dispatcher *alert.Dispatcher
	processor  *FrameProcessor
	frames     *Hub[[]byte]
	events     *Hub[Event]

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// Status is a snapshot of the service state.
type Status struct {
	Running           bool           `json:"running"`
	CameraConnected   bool           `json:"camera_connected"`
	Device            string         `json:"device,omitempty"`
	DetectorAvailable bool           `json:"detector_available"`
	DetectorStatus    string         `json:"detector_status"`
	Latched           bool           `json:"latched"`
	LatchedUntil      *time.Time     `json:"latched_until,omitempty"`
	Location          *location.Info `json:"location,omitempty"`
	Frames            uint64         `json:"frames"`
	Placeholders      uint64         `json:"placeholders"`
	ReadFailures      uint64         `json:"read_failures"`
	ClassifyErrors    uint64         `json:"classify_errors"`
	Viewers           int            `json:"viewers"`
}

// New creates an App. Nothing runs until Start.
func New(config Config) (*App, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("frame source is required")
	}
	log := config.Log
	if log == nil {
		log = zap.NewNop()
	}
	if config.Cooldown <= 0 {
		config.Cooldown = alert.DefaultCooldown
	}
	if config.FrameBuffer <= 0 {
		config.FrameBuffer = 2
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 32
	}

	a := &App{
		config:    config,
		log:       log,
		latch:     alert.NewLatch(config.Cooldown),
		locations: location.NewTracker(),
		notifier:  config.Notifier,
		frames:    NewHub[[]byte](config.FrameBuffer),
		events:    NewHub[Event](config.EventBuffer),
	}
	if a.notifier == nil {
		a.notifier = notify.NewLogNotifier(log)
	}

	var recorder alert.Recorder
	if config.Store != nil {
		recorder = config.Store.Alerts()
	}
	a.dispatcher = alert.NewDispatcher(config.Dispatch, a.notifier, a.locations, config.Archive, recorder, log)
	a.dispatcher.OnOutcome = a.onOutcome

	procCfg := config.Processor
	procCfg.OnEvent = a.publishEvent
	proc, err := NewFrameProcessor(procCfg, config.Source, config.Detector, a.latch, a.dispatcher, log)
	if err != nil {
		return nil, err
	}
	a.processor = proc

	return a, nil
}

// Start restores persisted settings and begins the frame loop. Calling Start
// on a running App is a no-op; an App cannot be restarted after Stop.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		return nil
	}
	if a.started {
		return ErrStopped
	}
	a.started = true

	a.restoreSettings()

	// Queued alerts outlive the frame loop; Stop drains them
	a.dispatcher.Start(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.run(loopCtx)

	a.log.Info("monitoring started")
	return nil
}

func (a *App) run(ctx context.Context) {
	defer close(a.done)
	for frame := range a.processor.Frames(ctx) {
		a.frames.Publish(frame)
	}
}

// Stop halts the frame loop, releases the camera, flushes queued alerts and
// closes the detector.
func (a *App) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
	a.processor.Close()
	a.dispatcher.Close()

	if a.config.Detector != nil {
		if err := a.config.Detector.Close(); err != nil {
			a.log.Warn("error closing detector", zap.Error(err))
		}
	}

	a.log.Info("monitoring stopped")
}

// Running reports whether the frame loop is active.
func (a *App) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancel != nil
}

// ResetAlert clears the alert latch immediately. It reports whether an alert
// was active.
func (a *App) ResetAlert() bool {
	wasLatched := a.latch.Reset()
	if wasLatched {
		a.log.Info("alert reset")
	}
	a.publishEvent(Event{Type: EventAlertReset})
	return wasLatched
}

// UpdateLocation validates and stores the subject's location. It is attached
// to every later alert.
func (a *App) UpdateLocation(lat, lng float64) (location.Info, error) {
	if err := location.Validate(lat, lng); err != nil {
		return location.Info{}, err
	}
	info := a.locations.Update(lat, lng)

	if a.config.Store != nil {
		data, err := json.Marshal(info)
		if err == nil {
			err = a.config.Store.Settings().Set(store.SettingLocation, string(data))
		}
		if err != nil {
			a.log.Warn("failed to persist location", zap.Error(err))
		}
	}

	a.publishEvent(Event{Type: EventLocationUpdated, Detail: info.MapLink})
	return info, nil
}

// Location returns the current location, if one was set.
func (a *App) Location() (location.Info, bool) {
	return a.locations.Current()
}

// SetNotifierToken updates the device token alerts are routed to.
func (a *App) SetNotifierToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	a.notifier.SetToken(token)

	if a.config.Store != nil {
		if err := a.config.Store.Settings().Set(store.SettingNotifierToken, token); err != nil {
			return fmt.Errorf("persist notifier token: %w", err)
		}
	}
	return nil
}

// Status returns a snapshot of the service state.
func (a *App) Status() Status {
	now := time.Now()
	stats := a.processor.Stats()
	latch := a.latch.Snapshot(now)

	st := Status{
		Running:           a.Running(),
		CameraConnected:   a.config.Source.Connected(),
		Device:            a.config.Source.Device(),
		DetectorAvailable: a.config.Detector != nil && a.config.Detector.Available(),
		DetectorStatus:    stats.LastStatus.String(),
		Latched:           latch.IsLatched(now),
		Frames:            stats.Frames,
		Placeholders:      stats.Placeholders,
		ReadFailures:      stats.ReadFailures,
		ClassifyErrors:    stats.ClassifyErrors,
		Viewers:           a.frames.Subscribers(),
	}
	if st.Latched {
		until := latch.ExpiresAt
		st.LatchedUntil = &until
	}
	if info, ok := a.locations.Current(); ok {
		st.Location = &info
	}
	return st
}

// Alerts returns the most recent alerts, newest first.
func (a *App) Alerts(limit int) ([]*store.Alert, error) {
	if a.config.Store == nil {
		return nil, nil
	}
	return a.config.Store.Alerts().List(limit)
}

// Frames returns the hub carrying encoded stream frames.
func (a *App) Frames() *Hub[[]byte] {
	return a.frames
}

// Events returns the hub carrying pipeline events.
func (a *App) Events() *Hub[Event] {
	return a.events
}

// Placeholder returns the frame shown while no camera is connected.
func (a *App) Placeholder() []byte {
	return a.processor.Placeholder()
}

func (a *App) restoreSettings() {
	if a.config.Store == nil {
		return
	}
	settings := a.config.Store.Settings()

	token, err := settings.Get(store.SettingNotifierToken)
	switch {
	case err == nil && token != "":
		a.notifier.SetToken(token)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		a.log.Warn("failed to load notifier token", zap.Error(err))
	}

	raw, err := settings.Get(store.SettingLocation)
	switch {
	case err == nil:
		var info location.Info
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			a.log.Warn("ignoring stored location", zap.Error(err))
			break
		}
		if err := location.Validate(info.Lat, info.Lng); err != nil {
			a.log.Warn("ignoring stored location", zap.Error(err))
			break
		}
		a.locations.Restore(info)
	case !errors.Is(err, store.ErrNotFound):
		a.log.Warn("failed to load location", zap.Error(err))
	}
}

func (a *App) onOutcome(o alert.Outcome) {
	e := Event{Type: EventAlertDelivered, AlertID: o.AlertID}
	if o.Err != nil {
		e.Type = EventAlertFailed
		e.Detail = o.Err.Error()
	}
	a.publishEvent(e)
}

func (a *App) publishEvent(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	a.events.Publish(e)
}
