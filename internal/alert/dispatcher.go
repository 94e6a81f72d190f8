package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayusman/guardian/internal/location"
	"github.com/ayusman/guardian/internal/notify"
	"github.com/ayusman/guardian/internal/snapshot"
	"github.com/ayusman/guardian/internal/store"
)

var (
	// ErrDispatch is returned when an alert cannot be queued for delivery.
	ErrDispatch = errors.New("alert dispatch failed")
	// ErrQueueFull is wrapped by ErrDispatch when the delivery queue is full.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrClosed is wrapped by ErrDispatch after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// LocationSource supplies the optional location attached to alerts.
type LocationSource interface {
	Current() (location.Info, bool)
}

// Recorder persists the alert history. *store.AlertRepository implements it.
type Recorder interface {
	Create(a *store.Alert) error
	UpdateResult(id string, status store.AlertStatus, attempts int, errMsg string) error
}

// Outcome reports the delivery result of one alert.
type Outcome struct {
	AlertID  string
	Payload  notify.Payload
	Attempts int
	Err      error
}

// DispatcherConfig configures delivery.
type DispatcherConfig struct {
	QueueSize      int           `yaml:"queue_size"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
}

// DefaultDispatcherConfig returns the default delivery settings.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:      8,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		SendTimeout:    30 * time.Second,
	}
}

// Dispatcher delivers alerts on a background worker so the frame loop never
// waits on the network.
type Dispatcher struct {
	cfg       DispatcherConfig
	notifier  notify.Notifier
	locations LocationSource
	archive   snapshot.Archive
	recorder  Recorder
	log       *zap.Logger

	// OnOutcome, when set before Start, is called after each delivery attempt.
	OnOutcome func(Outcome)

	mu     sync.Mutex
	queue  chan job
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type job struct {
	id       string
	at       time.Time
	image    []byte
	payload  notify.Payload
	location bool
}

// NewDispatcher creates a Dispatcher. locations, archive and recorder may be nil.
func NewDispatcher(cfg DispatcherConfig, n notify.Notifier, locations LocationSource, archive snapshot.Archive, recorder Recorder, log *zap.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Dispatcher{
		cfg:       cfg,
		notifier:  n,
		locations: locations,
		archive:   archive,
		recorder:  recorder,
		log:       log.Named("dispatch"),
		queue:     make(chan job, cfg.QueueSize),
	}
}

// Start runs the delivery worker until ctx is cancelled or Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()
}

// Close stops accepting alerts, drains the queue and waits for the worker.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()
}

// Dispatch queues an alert carrying the annotated JPEG captured at at.
// It never blocks; when the queue is full the alert is dropped and an error
// wrapping ErrDispatch is returned. The returned id identifies the alert.
func (d *Dispatcher) Dispatch(image []byte, at time.Time) (string, error) {
	j := job{
		id:    uuid.New().String(),
		at:    at,
		image: image,
	}
	j.payload = notify.Payload{
		AlertID:   j.id,
		Timestamp: at.Format(notify.TimestampLayout),
	}
	if d.locations != nil {
		if info, ok := d.locations.Current(); ok {
			j.payload.Info = &info
			j.location = true
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", fmt.Errorf("%w: %w", ErrDispatch, ErrClosed)
	}

	select {
	case d.queue <- j:
		d.log.Info("fall alert queued", zap.String("alert_id", j.id), zap.Bool("location", j.location))
		return j.id, nil
	default:
		d.log.Warn("dispatch queue full, dropping alert", zap.String("alert_id", j.id))
		return "", fmt.Errorf("%w: %w", ErrDispatch, ErrQueueFull)
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		select {
		case j, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	var snapshotKey string
	if d.archive != nil && len(j.image) > 0 {
		key := snapshot.Key(j.id, j.at)
		if err := d.archive.Put(ctx, key, j.image); err != nil {
			d.log.Warn("failed to archive snapshot", zap.String("alert_id", j.id), zap.Error(err))
		} else {
			snapshotKey = key
		}
	}

	if d.recorder != nil {
		rec := &store.Alert{
			ID:          j.id,
			TriggeredAt: j.at,
			SnapshotKey: snapshotKey,
		}
		if j.payload.Info != nil {
			rec.HasLocation = true
			rec.Lat = j.payload.Lat
			rec.Lng = j.payload.Lng
			rec.MapLink = j.payload.MapLink
		}
		if err := d.recorder.Create(rec); err != nil {
			d.log.Warn("failed to record alert", zap.String("alert_id", j.id), zap.Error(err))
		}
	}

	attempts, err := d.send(ctx, j)

	status, errMsg := store.AlertDelivered, ""
	if err != nil {
		status, errMsg = store.AlertFailed, err.Error()
		d.log.Error("fall alert delivery failed",
			zap.String("alert_id", j.id),
			zap.Int("attempts", attempts),
			zap.Error(err))
	} else {
		d.log.Info("fall alert delivered", zap.String("alert_id", j.id), zap.Int("attempts", attempts))
	}

	if d.recorder != nil {
		if uerr := d.recorder.UpdateResult(j.id, status, attempts, errMsg); uerr != nil {
			d.log.Warn("failed to record delivery result", zap.String("alert_id", j.id), zap.Error(uerr))
		}
	}

	if d.OnOutcome != nil {
		d.OnOutcome(Outcome{AlertID: j.id, Payload: j.payload, Attempts: attempts, Err: err})
	}
}

// send calls the notifier with exponential backoff. A notifier panic is
// treated as a permanent failure.
func (d *Dispatcher) send(ctx context.Context, j job) (int, error) {
	if d.notifier == nil {
		return 0, nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.InitialBackoff
	eb.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.cfg.MaxRetries)), ctx)

	attempts := 0
	op := func() (err error) {
		attempts++
		defer func() {
			if r := recover(); r != nil {
				err = backoff.Permanent(fmt.Errorf("notifier panic: %v", r))
			}
		}()

		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()

		err = d.notifier.SendFallAlert(sendCtx, j.image, j.payload)
		if errors.Is(err, notify.ErrNoToken) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, policy)
	return attempts, err
}
