package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/guardian/internal/alert"
	"github.com/ayusman/guardian/internal/capture"
	"github.com/ayusman/guardian/internal/detector"
	"github.com/ayusman/guardian/internal/render"
)

// ErrStopped is returned by Next once the processor has been stopped.
var ErrStopped = errors.New("frame processor stopped")

// FrameSource supplies raw frames. *capture.Source implements it.
type FrameSource interface {
	Connect(ctx context.Context) error
	NextFrame() (*gocv.Mat, error)
	Release()
	Connected() bool
	Device() string
}

// AlertSink receives the annotated JPEG when the latch engages.
// *alert.Dispatcher implements it.
type AlertSink interface {
	Dispatch(image []byte, at time.Time) (string, error)
}

// overlayRenderer draws annotations onto a frame. *render.Overlay implements it.
type overlayRenderer interface {
	Render(frame *gocv.Mat, in render.Input) error
}

// ProcessorConfig configures the frame loop.
type ProcessorConfig struct {
	// PlaceholderPace is the delay between placeholder frames while no camera is connected.
	PlaceholderPace time.Duration `yaml:"placeholder_pace"`
	// PlaceholderWidth and PlaceholderHeight size the placeholder frame.
	PlaceholderWidth  int `yaml:"placeholder_width"`
	PlaceholderHeight int `yaml:"placeholder_height"`
	// ClassifyTimeout bounds one classification call. Zero means no bound.
	ClassifyTimeout time.Duration `yaml:"classify_timeout"`

	// Now and Sleep replace the wall clock in tests.
	Now   func() time.Time                                 `yaml:"-"`
	Sleep func(ctx context.Context, d time.Duration) error `yaml:"-"`
	// OnEvent, when set, receives pipeline events. It must not block.
	OnEvent func(Event) `yaml:"-"`
}

// DefaultProcessorConfig returns the default loop settings.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PlaceholderPace:   time.Second,
		PlaceholderWidth:  render.PlaceholderWidth,
		PlaceholderHeight: render.PlaceholderHeight,
	}
}

// ProcessorStats is a point-in-time view of the frame loop.
type ProcessorStats struct {
	Frames         uint64
	Placeholders   uint64
	ReadFailures   uint64
	ClassifyErrors uint64
	RenderErrors   uint64
	LastStatus     detector.Status
	LastFrameAt    time.Time
}

// FrameProcessor turns camera frames into annotated JPEGs. It is a pull
// iterator: each Next call runs loop iterations until one yields a frame.
// It is not restartable; once stopped every call returns ErrStopped.
type FrameProcessor struct {
	cfg     ProcessorConfig
	source  FrameSource
	adapter *detector.Adapter
	latch   *alert.Latch
	overlay overlayRenderer
	alerts  AlertSink
	log     *zap.Logger

	placeholder []byte

	// Loop state, guarded by mu. Next holds mu for a whole iteration.
	mu         sync.Mutex
	stopped    bool
	paceNext   bool
	lastPose   *detector.PoseSample
	wasLatched bool
	connected  bool

	frames         atomic.Uint64
	placeholders   atomic.Uint64
	readFailures   atomic.Uint64
	classifyErrors atomic.Uint64
	renderErrors   atomic.Uint64
	lastStatus     atomic.Int32
	lastFrameAt    atomic.Int64
}

// NewFrameProcessor creates a processor. alerts may be nil.
func NewFrameProcessor(cfg ProcessorConfig, source FrameSource, adapter *detector.Adapter, latch *alert.Latch, alerts AlertSink, log *zap.Logger) (*FrameProcessor, error) {
	def := DefaultProcessorConfig()
	if cfg.PlaceholderPace <= 0 {
		cfg.PlaceholderPace = def.PlaceholderPace
	}
	if cfg.PlaceholderWidth <= 0 || cfg.PlaceholderHeight <= 0 {
		cfg.PlaceholderWidth, cfg.PlaceholderHeight = def.PlaceholderWidth, def.PlaceholderHeight
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if log == nil {
		log = zap.NewNop()
	}
	if latch == nil {
		latch = alert.NewLatch(alert.DefaultCooldown)
	}
	if adapter == nil {
		adapter = detector.NewAdapter(nil, log)
	}

	placeholder, err := render.PlaceholderJPEG(cfg.PlaceholderWidth, cfg.PlaceholderHeight)
	if err != nil {
		return nil, fmt.Errorf("build placeholder frame: %w", err)
	}

	p := &FrameProcessor{
		cfg:         cfg,
		source:      source,
		adapter:     adapter,
		latch:       latch,
		overlay:     render.NewOverlay(),
		alerts:      alerts,
		log:         log.Named("processor"),
		placeholder: placeholder,
	}
	p.lastStatus.Store(int32(detector.StatusUnavailable))
	return p, nil
}

// Placeholder returns the encoded placeholder frame.
func (p *FrameProcessor) Placeholder() []byte {
	return p.placeholder
}

// Latch returns the alert latch driven by the processor.
func (p *FrameProcessor) Latch() *alert.Latch {
	return p.latch
}

// Stats returns loop counters. Safe to call while Next runs.
func (p *FrameProcessor) Stats() ProcessorStats {
	s := ProcessorStats{
		Frames:         p.frames.Load(),
		Placeholders:   p.placeholders.Load(),
		ReadFailures:   p.readFailures.Load(),
		ClassifyErrors: p.classifyErrors.Load(),
		RenderErrors:   p.renderErrors.Load(),
		LastStatus:     detector.Status(p.lastStatus.Load()),
	}
	if ns := p.lastFrameAt.Load(); ns != 0 {
		s.LastFrameAt = time.Unix(0, ns)
	}
	return s
}

// Next returns the next encoded frame. It blocks until a frame is available
// and only fails when ctx is cancelled, after which the camera is released
// and the processor is stopped for good.
func (p *FrameProcessor) Next(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, ErrStopped
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, p.stop(err)
		}

		if p.paceNext {
			p.paceNext = false
			if err := p.cfg.Sleep(ctx, p.cfg.PlaceholderPace); err != nil {
				return nil, p.stop(err)
			}
		}

		if !p.source.Connected() {
			if err := p.source.Connect(ctx); err != nil && ctx.Err() != nil {
				return nil, p.stop(ctx.Err())
			}
			if !p.source.Connected() {
				p.placeholders.Add(1)
				p.paceNext = true
				return p.placeholder, nil
			}
			p.connected = true
			p.emit(Event{Type: EventCameraConnected, Device: p.source.Device()})
		}

		frame, err := p.source.NextFrame()
		if err != nil {
			p.readFailures.Add(1)
			if p.connected {
				p.connected = false
				p.emit(Event{Type: EventCameraLost, Detail: err.Error()})
			}
			continue
		}

		data := p.process(ctx, frame)
		p.frames.Add(1)
		return data, nil
	}
}

// Frames returns the processor as a sequence. Breaking out of the range loop
// stops the processor.
func (p *FrameProcessor) Frames(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			data, err := p.Next(ctx)
			if err != nil {
				return
			}
			if !yield(data) {
				p.Close()
				return
			}
		}
	}
}

// Close stops the processor and releases the camera.
func (p *FrameProcessor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stop(ErrStopped)
	}
}

func (p *FrameProcessor) stop(cause error) error {
	p.stopped = true
	p.source.Release()
	p.log.Info("frame processor stopped", zap.NamedError("cause", cause))
	if errors.Is(cause, ErrStopped) {
		return ErrStopped
	}
	return fmt.Errorf("%w: %w", ErrStopped, cause)
}

// process annotates frame in place, encodes it and dispatches an alert when
// the latch engages. It always returns a non-empty JPEG.
func (p *FrameProcessor) process(ctx context.Context, frame *gocv.Mat) []byte {
	defer frame.Close()

	now := p.cfg.Now()
	p.lastFrameAt.Store(now.UnixNano())

	var dispatch bool
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.renderErrors.Add(1)
				p.log.Error("frame processing panic, streaming raw frame", zap.Any("panic", r))
			}
		}()
		p.annotate(ctx, frame, now, &dispatch)
	}()

	data, err := render.EncodeJPEG(*frame)
	if err != nil {
		p.log.Warn("failed to encode frame, streaming placeholder", zap.Error(err))
		data = p.placeholder
	}

	if dispatch {
		p.dispatch(data, now)
	}
	return data
}

// annotate runs classification, updates the latch and draws the overlay.
// dispatch is set as soon as the latch engages so a later panic cannot lose
// the alert.
func (p *FrameProcessor) annotate(ctx context.Context, frame *gocv.Mat, now time.Time, dispatch *bool) {
	classifyCtx := ctx
	if p.cfg.ClassifyTimeout > 0 {
		var cancel context.CancelFunc
		classifyCtx, cancel = context.WithTimeout(ctx, p.cfg.ClassifyTimeout)
		defer cancel()
	}

	res := p.adapter.Classify(classifyCtx, *frame)
	p.lastStatus.Store(int32(res.Status))
	if res.Status == detector.StatusFailed {
		if p.classifyErrors.Add(1) == 1 {
			p.emit(Event{Type: EventDetectorDegraded, Detail: res.Err.Error()})
		}
	}

	state, engaged := p.latch.Observe(now, res.Detection)
	*dispatch = engaged
	latched := state.IsLatched(now)
	if latched != p.wasLatched {
		p.wasLatched = latched
		if !latched {
			p.emit(Event{Type: EventAlertCleared})
		}
	}

	p.updateLastPose(res.Detection)

	if res.Status == detector.StatusFailed {
		return
	}

	err := p.overlay.Render(frame, render.Input{
		DetectorAvailable: p.adapter.Available(),
		Classified:        res.Status == detector.StatusOK,
		Samples:           res.Detection,
		Fallback:          p.lastPose,
		Latched:           latched,
	})
	if err != nil {
		p.renderErrors.Add(1)
		p.log.Debug("overlay failed", zap.Error(err))
	}
}

func (p *FrameProcessor) updateLastPose(det detector.Detection) {
	for i := range det {
		if !det[i].IsEmpty() {
			pose := det[i].Clone()
			p.lastPose = &pose
			return
		}
	}
	if pose, ok := p.adapter.LastKnownPose(); ok && !pose.IsEmpty() {
		p.lastPose = &pose
	}
}

func (p *FrameProcessor) dispatch(data []byte, at time.Time) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("alert dispatch panic", zap.Any("panic", r))
		}
	}()

	p.log.Warn("fall detected, dispatching alert")
	if p.alerts == nil {
		p.emit(Event{Type: EventAlertTriggered})
		return
	}

	id, err := p.alerts.Dispatch(data, at)
	if err != nil {
		p.log.Error("failed to dispatch alert", zap.Error(err))
		p.emit(Event{Type: EventAlertTriggered, Detail: err.Error()})
		return
	}
	p.emit(Event{Type: EventAlertTriggered, AlertID: id})
}

func (p *FrameProcessor) emit(e Event) {
	if p.cfg.OnEvent == nil {
		return
	}
	if e.At.IsZero() {
		e.At = p.cfg.Now()
	}
	p.cfg.OnEvent(e)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ FrameSource = (*capture.Source)(nil)
var _ AlertSink = (*alert.Dispatcher)(nil)
var _ overlayRenderer = (*render.Overlay)(nil)
