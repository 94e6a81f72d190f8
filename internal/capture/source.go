package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var (
	// ErrCameraUnavailable is returned when no configured device could be opened.
	ErrCameraUnavailable = errors.New("no camera available")
	// ErrReadFailure is returned when an opened device fails to deliver a frame.
	ErrReadFailure = errors.New("camera read failed")
	// ErrNotConnected is returned by NextFrame when no device is connected.
	ErrNotConnected = errors.New("camera not connected")
	// ErrConnectInProgress is returned when Connect is called while another connect runs.
	ErrConnectInProgress = errors.New("camera connect already in progress")
)

// DefaultSettleDelay is how long a freshly opened device gets before the warm-up read.
const DefaultSettleDelay = time.Second

// State is the connection state of a Source.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Opener creates a Camera for a device identifier.
type Opener func(device string) Camera

// SourceConfig configures device probing.
type SourceConfig struct {
	// Devices is the ordered list of devices to probe. Defaults to ["0", "1"].
	Devices []string
	// SettleDelay is waited after opening before the warm-up read. Zero means
	// DefaultSettleDelay; a negative value skips the wait.
	SettleDelay time.Duration
	// Open creates cameras. Defaults to NewCamera.
	Open Opener
}

// Source owns the single active camera handle and reconnects across failures.
type Source struct {
	devices []string
	settle  time.Duration
	open    Opener
	log     *zap.Logger

	state atomic.Int32
	mu    sync.Mutex
	cam   Camera
}

// NewSource creates a disconnected Source.
func NewSource(cfg SourceConfig, log *zap.Logger) *Source {
	if log == nil {
		log = zap.NewNop()
	}
	devices := cfg.Devices
	if len(devices) == 0 {
		devices = []string{"0", "1"}
	}
	settle := cfg.SettleDelay
	switch {
	case settle == 0:
		settle = DefaultSettleDelay
	case settle < 0:
		settle = 0
	}
	open := cfg.Open
	if open == nil {
		open = NewCamera
	}

	return &Source{
		devices: append([]string(nil), devices...),
		settle:  settle,
		open:    open,
		log:     log.Named("camera"),
	}
}

// State returns the current connection state.
func (s *Source) State() State {
	return State(s.state.Load())
}

// Connected reports whether a device is connected.
func (s *Source) Connected() bool {
	return s.State() == Connected
}

// Device returns the connected device identifier, or "" when disconnected.
func (s *Source) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cam == nil {
		return ""
	}
	return s.cam.Device()
}

// Connect probes the configured devices in order and keeps the first one that
// opens and delivers a warm-up frame. Calling Connect while connected is a no-op;
// calling it while another Connect runs returns ErrConnectInProgress.
func (s *Source) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Disconnected), int32(Connecting)) {
		if s.State() == Connected {
			return nil
		}
		return ErrConnectInProgress
	}

	// Drop any stale handle before probing
	s.release()

	var failures []string
	for _, device := range s.devices {
		if err := ctx.Err(); err != nil {
			s.state.Store(int32(Disconnected))
			return err
		}

		cam, err := s.probe(ctx, device)
		if err != nil {
			s.log.Info("camera device unavailable", zap.String("device", device), zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: %v", device, err))
			continue
		}

		s.mu.Lock()
		s.cam = cam
		s.mu.Unlock()
		s.state.Store(int32(Connected))

		s.log.Info("camera connected", zap.String("device", device))
		return nil
	}

	s.state.Store(int32(Disconnected))
	s.log.Warn("no camera found", zap.Strings("devices", s.devices))
	return fmt.Errorf("%w (%s)", ErrCameraUnavailable, strings.Join(failures, "; "))
}

// probe opens device, waits the settle delay and performs a warm-up read.
func (s *Source) probe(ctx context.Context, device string) (Camera, error) {
	cam := s.open(device)
	if err := cam.Open(); err != nil {
		return nil, err
	}

	if s.settle > 0 {
		timer := time.NewTimer(s.settle)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			cam.Close()
			return nil, ctx.Err()
		}
	}

	frame, err := cam.ReadFrame()
	if err != nil {
		cam.Close()
		return nil, fmt.Errorf("warm-up read: %w", err)
	}
	frame.Close()

	return cam, nil
}

// NextFrame reads one frame from the connected device. On a read failure the
// handle is released and the source drops to Disconnected so the caller
// reconnects instead of retrying a dead device.
func (s *Source) NextFrame() (*gocv.Mat, error) {
	if s.State() != Connected {
		return nil, ErrNotConnected
	}

	s.mu.Lock()
	cam := s.cam
	s.mu.Unlock()
	if cam == nil {
		s.state.Store(int32(Disconnected))
		return nil, ErrNotConnected
	}

	frame, err := cam.ReadFrame()
	if err != nil {
		s.log.Warn("camera read failed, releasing device", zap.String("device", cam.Device()), zap.Error(err))
		s.Release()
		return nil, fmt.Errorf("%w: %w", ErrReadFailure, err)
	}

	return frame, nil
}

// Release closes the camera handle and marks the source disconnected.
func (s *Source) Release() {
	s.release()
	// A concurrent Connect owns the state while probing
	s.state.CompareAndSwap(int32(Connected), int32(Disconnected))
}

func (s *Source) release() {
	s.mu.Lock()
	cam := s.cam
	s.cam = nil
	s.mu.Unlock()

	if cam == nil {
		return
	}
	if err := cam.Close(); err != nil {
		s.log.Debug("error closing camera", zap.String("device", cam.Device()), zap.Error(err))
	}
}
