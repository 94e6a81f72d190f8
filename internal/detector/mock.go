package detector

import (
	"context"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the PoseDetector interface.
// It allows tests to control the classification results.
type MockDetector struct {
	mu       sync.Mutex
	script   []MockStep
	samples  Detection
	err      error
	panicMsg string
	lastPose *PoseSample
	calls    int
	closed   bool
}

// MockStep is one scripted Classify outcome.
type MockStep struct {
	Samples Detection
	Err     error
	Panic   string
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetSamples sets the samples that will be returned by Classify.
func (m *MockDetector) SetSamples(samples Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = samples
}

// SetError sets the error that will be returned by Classify.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetPanic makes Classify panic with msg.
func (m *MockDetector) SetPanic(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg = msg
}

// Script queues per-call outcomes consumed before the fixed samples/error apply.
func (m *MockDetector) Script(steps ...MockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, steps...)
}

// SetLastKnownPose sets the pose returned by LastKnownPose.
func (m *MockDetector) SetLastKnownPose(p *PoseSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPose = p
}

// Calls returns how many times Classify was called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Classify returns the next scripted step, or the pre-configured samples or error.
func (m *MockDetector) Classify(ctx context.Context, frame gocv.Mat) (Detection, error) {
	m.mu.Lock()
	m.calls++
	step := MockStep{Samples: m.samples, Err: m.err, Panic: m.panicMsg}
	if len(m.script) > 0 {
		step = m.script[0]
		m.script = m.script[1:]
	}
	if len(step.Samples) > 0 {
		last := step.Samples[len(step.Samples)-1].Clone()
		m.lastPose = &last
	}
	m.mu.Unlock()

	if step.Panic != "" {
		panic(step.Panic)
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Samples, nil
}

// LastKnownPose returns the configured last pose.
func (m *MockDetector) LastKnownPose() (PoseSample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastPose == nil {
		return PoseSample{}, false
	}
	return m.lastPose.Clone(), true
}

// Close marks the mock closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// StandingPose returns a preset upright pose at roughly the center of a 640x480 frame.
func StandingPose() PoseSample {
	return PoseSample{
		Label:      LabelNormal,
		Confidence: 0.92,
		Keypoints: map[string]*Point2D{
			Nose:          {X: 320, Y: 100},
			LeftShoulder:  {X: 290, Y: 160},
			RightShoulder: {X: 350, Y: 160},
			LeftHip:       {X: 300, Y: 280},
			RightHip:      {X: 340, Y: 280},
			LeftKnee:      {X: 300, Y: 360},
			RightKnee:     {X: 340, Y: 360},
			LeftAnkle:     nil,
			RightAnkle:    nil,
		},
	}
}

// FallenPose returns a preset horizontal pose near the floor labeled FALL.
func FallenPose() PoseSample {
	return PoseSample{
		Label:      LabelFall,
		Confidence: 0.81,
		Keypoints: map[string]*Point2D{
			Nose:          {X: 150, Y: 400},
			LeftShoulder:  {X: 210, Y: 390},
			RightShoulder: {X: 210, Y: 430},
			LeftHip:       {X: 330, Y: 395},
			RightHip:      {X: 330, Y: 425},
			LeftKnee:      {X: 410, Y: 400},
			RightKnee:     nil,
		},
	}
}
