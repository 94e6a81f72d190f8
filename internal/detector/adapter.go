package detector

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Status describes how a classification attempt went.
type Status int

const (
	// StatusUnavailable means no detector is loaded; classification never runs.
	StatusUnavailable Status = iota
	// StatusOK means the detector ran. The detection may still be empty.
	StatusOK
	// StatusFailed means the detector ran and returned an error or panicked.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUnavailable:
		return "unavailable"
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome of classifying one frame.
type Result struct {
	Detection Detection
	Status    Status
	Err       error
}

// Adapter wraps a PoseDetector so that no detector failure escapes into the frame loop.
// A nil detector puts the adapter in permanent unavailable mode.
type Adapter struct {
	detector PoseDetector
	log      *zap.Logger
	mu       sync.Mutex
	failures int
}

// NewAdapter creates an Adapter around d. d may be nil.
func NewAdapter(d PoseDetector, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		detector: d,
		log:      log.Named("pose"),
	}
}

// Available reports whether a detector is loaded.
func (a *Adapter) Available() bool {
	return a.detector != nil
}

// Classify runs the detector on frame. It never panics and never returns nil Detection
// on failure paths; callers branch on Result.Status.
func (a *Adapter) Classify(ctx context.Context, frame gocv.Mat) (res Result) {
	if a.detector == nil {
		return Result{Detection: Detection{}, Status: StatusUnavailable, Err: ErrUnavailable}
	}

	defer func() {
		if r := recover(); r != nil {
			res = a.failed(fmt.Errorf("%w: panic: %v", ErrClassification, r))
		}
	}()

	det, err := a.detector.Classify(ctx, frame)
	if err != nil {
		return a.failed(fmt.Errorf("%w: %w", ErrClassification, err))
	}
	if det == nil {
		det = Detection{}
	}

	a.mu.Lock()
	a.failures = 0
	a.mu.Unlock()

	return Result{Detection: det, Status: StatusOK}
}

func (a *Adapter) failed(err error) Result {
	a.mu.Lock()
	a.failures++
	n := a.failures
	a.mu.Unlock()

	// First failure of a streak, then every 100th
	if n == 1 || n%100 == 0 {
		a.log.Warn("inference failed, streaming raw frame", zap.Error(err), zap.Int("consecutive", n))
	}
	return Result{Detection: Detection{}, Status: StatusFailed, Err: err}
}

// LastKnownPose returns the detector's most recent pose estimate.
func (a *Adapter) LastKnownPose() (pose PoseSample, ok bool) {
	if a.detector == nil {
		return PoseSample{}, false
	}
	defer func() {
		if r := recover(); r != nil {
			pose, ok = PoseSample{}, false
		}
	}()
	return a.detector.LastKnownPose()
}

// Close releases the wrapped detector.
func (a *Adapter) Close() error {
	if a.detector == nil {
		return nil
	}
	return a.detector.Close()
}
