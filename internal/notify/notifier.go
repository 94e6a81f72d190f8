// Package notify delivers fall alerts to caregivers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ayusman/guardian/internal/location"
)

// TimestampLayout is the format of Payload.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrNoToken is returned by token-routed notifiers before a device token is set.
var ErrNoToken = errors.New("no device token registered")

// Payload is the alert metadata sent alongside the snapshot.
// Location fields are flattened into the JSON object when present.
type Payload struct {
	AlertID   string `json:"alert_id,omitempty"`
	Timestamp string `json:"timestamp"`
	*location.Info
}

// Notifier sends fall alerts. Implementations must be safe for concurrent use.
type Notifier interface {
	// SendFallAlert delivers one alert with its JPEG snapshot. image may be nil.
	SendFallAlert(ctx context.Context, image []byte, payload Payload) error

	// SetToken updates the delivery routing token out of band.
	SetToken(token string)
}

// Multi fans an alert out to several notifiers. Every notifier is attempted;
// failures are joined.
type Multi struct {
	notifiers []Notifier
}

// NewMulti creates a Multi over ns, skipping nil entries.
func NewMulti(ns ...Notifier) *Multi {
	m := &Multi{}
	for _, n := range ns {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of wrapped notifiers.
func (m *Multi) Len() int {
	return len(m.notifiers)
}

func (m *Multi) SendFallAlert(ctx context.Context, image []byte, payload Payload) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.SendFallAlert(ctx, image, payload); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) SetToken(token string) {
	for _, n := range m.notifiers {
		n.SetToken(token)
	}
}

// LogNotifier only logs alerts. Used when no delivery channel is configured.
type LogNotifier struct {
	log   *zap.Logger
	mu    sync.Mutex
	token string
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) SendFallAlert(ctx context.Context, image []byte, payload Payload) error {
	fields := []zap.Field{
		zap.String("alert_id", payload.AlertID),
		zap.String("timestamp", payload.Timestamp),
		zap.Int("image_bytes", len(image)),
	}
	if payload.Info != nil {
		fields = append(fields, zap.String("map_link", payload.MapLink))
	}
	n.log.Warn("fall alert (no delivery channel configured)", fields...)
	return nil
}

func (n *LogNotifier) SetToken(token string) {
	n.mu.Lock()
	n.token = token
	n.mu.Unlock()
	n.log.Info("device token updated")
}
