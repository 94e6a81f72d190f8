package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"

	"github.com/ayusman/guardian/internal/alert"
	"github.com/ayusman/guardian/internal/capture"
	"github.com/ayusman/guardian/internal/detector"
	"github.com/ayusman/guardian/internal/render"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSleeper records requested sleeps without waiting.
type fakeSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *fakeSleeper) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

type dispatched struct {
	image []byte
	at    time.Time
}

type recordingSink struct {
	mu    sync.Mutex
	calls []dispatched
}

func (s *recordingSink) Dispatch(image []byte, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, dispatched{image: image, at: at})
	return fmt.Sprintf("alert-%d", len(s.calls)), nil
}

func (s *recordingSink) Calls() []dispatched {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatched(nil), s.calls...)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Record(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) Types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	types := make([]EventType, len(l.events))
	for i, e := range l.events {
		types[i] = e.Type
	}
	return types
}

func blackFrame(t *testing.T) *gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	m.SetTo(gocv.NewScalar(0, 0, 0, 0))
	t.Cleanup(func() { m.Close() })
	return &m
}

// singleCameraSource returns a Source whose device "0" is cam and whose other
// devices fail to open.
func singleCameraSource(t *testing.T, cam *capture.MockCamera) *capture.Source {
	t.Helper()
	cam.SetDevice("0")
	return capture.NewSource(capture.SourceConfig{
		Devices:     []string{"0", "1"},
		SettleDelay: -1,
		Open: func(device string) capture.Camera {
			if device == "0" {
				return cam
			}
			c := capture.NewMockCamera(nil, false)
			c.SetOpenError(errors.New("no such device"))
			return c
		},
	}, zaptest.NewLogger(t))
}

type processorHarness struct {
	proc    *FrameProcessor
	cam     *capture.MockCamera
	det     *detector.MockDetector
	latch   *alert.Latch
	sink    *recordingSink
	clock   *fakeClock
	sleeper *fakeSleeper
	events  *eventLog
}

func newProcessorHarness(t *testing.T, cam *capture.MockCamera) *processorHarness {
	t.Helper()
	log := zaptest.NewLogger(t)

	h := &processorHarness{
		cam:     cam,
		det:     detector.NewMockDetector(),
		latch:   alert.NewLatch(alert.DefaultCooldown),
		sink:    &recordingSink{},
		clock:   newFakeClock(),
		sleeper: &fakeSleeper{},
		events:  &eventLog{},
	}

	cfg := DefaultProcessorConfig()
	cfg.Now = h.clock.Now
	cfg.Sleep = h.sleeper.Sleep
	cfg.OnEvent = h.events.Record

	proc, err := NewFrameProcessor(cfg, singleCameraSource(t, cam), detector.NewAdapter(h.det, log), h.latch, h.sink, log)
	require.NoError(t, err)
	h.proc = proc
	t.Cleanup(proc.Close)
	return h
}

func isJPEG(b []byte) bool {
	return len(b) > 4 && bytes.HasPrefix(b, []byte{0xff, 0xd8})
}

// brightPixels counts pixels of the decoded JPEG brighter than a dark threshold.
func brightPixels(t *testing.T, data []byte) int {
	t.Helper()
	gray, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
	require.NoError(t, err)
	defer gray.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(gray, &mask, 60, 255, gocv.ThresholdBinary)
	return gocv.CountNonZero(mask)
}

func TestFrameProcessor_PlaceholderWhenNoCamera(t *testing.T) {
	cam := capture.NewMockCamera(nil, false)
	cam.SetOpenError(errors.New("unplugged"))
	h := newProcessorHarness(t, cam)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		data, err := h.proc.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, h.proc.Placeholder(), data, "frame %d", i)
		assert.True(t, isJPEG(data))
	}

	// One pacing sleep between consecutive placeholders
	assert.Equal(t, []time.Duration{time.Second, time.Second}, h.sleeper.Sleeps())
	assert.Equal(t, uint64(3), h.proc.Stats().Placeholders)
	assert.Zero(t, h.det.Calls())
}

func TestFrameProcessor_StreamsAnnotatedFrames(t *testing.T) {
	cam := capture.NewMockCamera([]*gocv.Mat{blackFrame(t)}, true)
	h := newProcessorHarness(t, cam)
	h.det.SetSamples(detector.Detection{detector.StandingPose()})

	data, err := h.proc.Next(context.Background())
	require.NoError(t, err)
	require.True(t, isJPEG(data))
	assert.NotEqual(t, h.proc.Placeholder(), data)
	assert.Positive(t, brightPixels(t, data), "overlay drawn on black frame")

	assert.Equal(t, []EventType{EventCameraConnected}, h.events.Types())
	assert.Empty(t, h.sleeper.Sleeps())
	assert.Empty(t, h.sink.Calls())

	stats := h.proc.Stats()
	assert.Equal(t, uint64(1), stats.Frames)
	assert.Equal(t, detector.StatusOK, stats.LastStatus)
	assert.Equal(t, h.clock.Now(), stats.LastFrameAt.UTC())
}

func TestFrameProcessor_ClassifierErrorStreamsRawFrame(t *testing.T) {
	cam := capture.NewMockCamera([]*gocv.Mat{blackFrame(t)}, true)
	h := newProcessorHarness(t, cam)
	standing := detector.Detection{detector.StandingPose()}
	h.det.Script(
		detector.MockStep{Samples: standing},
		detector.MockStep{Err: errors.New("inference crashed")},
		detector.MockStep{Samples: standing},
	)

	ctx := context.Background()
	first, err := h.proc.Next(ctx)
	require.NoError(t, err)
	raw, err := h.proc.Next(ctx)
	require.NoError(t, err)
	third, err := h.proc.Next(ctx)
	require.NoError(t, err)

	assert.Positive(t, brightPixels(t, first))
	assert.Zero(t, brightPixels(t, raw), "failed classification leaves the frame un-annotated")
	assert.True(t, isJPEG(raw))
	assert.Positive(t, brightPixels(t, third), "next frame is processed normally")

	stats := h.proc.Stats()
	assert.Equal(t, uint64(3), stats.Frames)
	assert.Equal(t, uint64(1), stats.ClassifyErrors)
	assert.Contains(t, h.events.Types(), EventDetectorDegraded)
}

func TestFrameProcessor_DetectorPanicDoesNotStopStream(t *testing.T) {
	cam := capture.NewMockCamera([]*gocv.Mat{blackFrame(t)}, true)
	h := newProcessorHarness(t, cam)
	h.det.Script(detector.MockStep{Panic: "boom"})

	data, err := h.proc.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, isJPEG(data))

	data, err = h.proc.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, isJPEG(data))
	assert.Equal(t, 2, h.det.Calls())
}

func TestFrameProcessor_DispatchesOncePerLatch(t *testing.T) {
	cam := capture.NewMockCamera([]*gocv.Mat{blackFrame(t)}, true)
	h := newProcessorHarness(t, cam)
	h.det.SetSamples(detector.Detection{detector.FallenPose()})

	ctx := context.Background()
	var firstFall []byte
	for i := 0; i < 20; i++ {
		data, err := h.proc.Next(ctx)
		require.NoError(t, err)
		if i == 0 {
			firstFall = data
		}
		h.clock.Advance(100 * time.Millisecond)
	}

	calls := h.sink.Calls()
	require.Len(t, calls, 1, "continuous FALL dispatches once")
	assert.Equal(t, firstFall, calls[0].image, "dispatched snapshot is the streamed frame")
	assert.Equal(t, newFakeClock().Now(), calls[0].at)

	// Reset then a fresh FALL re-triggers
	assert.True(t, h.latch.Reset())
	_, err := h.proc.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, h.sink.Calls(), 2)

	types := h.events.Types()
	assert.Contains(t, types, EventAlertTriggered)
}

// panickingOverlay fails past the renderer's own recovery.
type panickingOverlay struct{}

func (panickingOverlay) Render(*gocv.Mat, render.Input) error {
	panic("overlay exploded")
}

func TestFrameProcessor_PanicAfterLatchStillDispatches(t *testing.T) {
	cam := capture.NewMockCamera([]*gocv.Mat{blackFrame(t)}, true)
	h := newProcessorHarness(t, cam)
	h.proc.overlay = panickingOverlay{}
	h.det.SetSamples(detector.Detection{detector.FallenPose()})

	data, err := h.proc.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, isJPEG(data))

	calls := h.sink.Calls()
	require.Len(t, calls, 1, "the latch engaged, so the alert must go out")
	assert.Equal(t, data, calls[0].image)
	assert.True(t, h.latch.Snapshot(h.clock.Now()).IsLatched(h.clock.Now()))
	assert.EqualValues(t, 1, h.proc.Stats().RenderErrors)
}

// stalledDetector never answers until the classification deadline passes.
type stalledDetector struct{}

func (stalledDetector) Classify(ctx context.Context, _ gocv.Mat) (detector.Detection, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledDetector) LastKnownPose() (detector.PoseSample, bool) { return detector.PoseSample{}, false }
func (stalledDetector) Close() error { return nil }

func TestFrameProcessor_ClassifyTimeout(t *testing.T) {
	log := zaptest.NewLogger(t)
	cam := capture.NewMockCamera([]*gocv.Mat{blackFrame(t)}, true)
	events := &eventLog{}

	cfg := DefaultProcessorConfig()
	cfg.ClassifyTimeout = 50 * time.Millisecond
	cfg.OnEvent = events.Record
	proc, err := NewFrameProcessor(cfg, singleCameraSource(t, cam), detector.NewAdapter(stalledDetector{}, log), nil, nil, log)
	require.NoError(t, err)
	t.Cleanup(proc.Close)

	start := time.Now()
	for i := 0; i < 2; i++ {
		data, err := proc.Next(context.Background())
		require.NoError(t, err)
		assert.True(t, isJPEG(data))
	}
	assert.Less(t, time.Since(start), 5*time.Second)

	st := proc.Stats()
	assert.EqualValues(t, 2, st.ClassifyErrors)
	assert.Equal(t, detector.StatusFailed, st.LastStatus)
	assert.Contains(t, events.Types(), EventDetectorDegraded)
}

func TestFrameProcessor_LatchClearsAfterCooldown(t *testing.T) {
	cam := capture.NewMockCamera([]*gocv.Mat{blackFrame(t)}, true)
	h := newProcessorHarness(t, cam)
	h.det.Script(detector.MockStep{Samples: detector.Detection{detector.FallenPose()}})
	h.det.SetSamples(detector.Detection{detector.StandingPose()})

	ctx := context.Background()
	_, err := h.proc.Next(ctx)
	require.NoError(t, err)
	assert.True(t, h.latch.Snapshot(h.clock.Now()).IsLatched(h.clock.Now()))

	h.clock.Advance(alert.DefaultCooldown - time.Millisecond)
	_, err = h.proc.Next(ctx)
	require.NoError(t, err)
	assert.NotContains(t, h.events.Types(), EventAlertCleared)

	h.clock.Advance(time.Millisecond)
	_, err = h.proc.Next(ctx)
	require.NoError(t, err)
	assert.Contains(t, h.events.Types(), EventAlertCleared)
	assert.Equal(t, alert.Idle, h.latch.Snapshot(h.clock.Now()).Phase)
	assert.Len(t, h.sink.Calls(), 1)
}

func TestFrameProcessor_FallbackPoseDrawn(t *testing.T) {
	cam := capture.NewMockCamera([]*gocv.Mat{blackFrame(t)}, true)
	h := newProcessorHarness(t, cam)
	standing := detector.StandingPose()
	h.det.SetLastKnownPose(&standing)
	h.det.SetSamples(detector.Detection{})

	data, err := h.proc.Next(context.Background())
	require.NoError(t, err)

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	require.NoError(t, err)
	defer img.Close()

	shoulder := image.Pt(290, 160)
	v := img.GetVecbAt(shoulder.Y, shoulder.X)
	assert.Greater(t, v[0], uint8(180), "blue keypoint at left shoulder")
	assert.Less(t, v[2], uint8(80))
}

func TestFrameProcessor_ReadFailureReconnects(t *testing.T) {
	cam := capture.NewMockCamera([]*gocv.Mat{blackFrame(t)}, true)
	// Read 1 is the warm-up, read 2 the first frame
	cam.FailRead(3)
	h := newProcessorHarness(t, cam)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		data, err := h.proc.Next(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, h.proc.Placeholder(), data)
	}

	assert.Equal(t, 2, cam.Opens())
	assert.Equal(t, uint64(1), h.proc.Stats().ReadFailures)
	assert.Equal(t, []EventType{EventCameraConnected, EventCameraLost, EventCameraConnected}, h.events.Types())
}

func TestFrameProcessor_CameraLostFallsBackToPlaceholder(t *testing.T) {
	cam := capture.NewMockCamera([]*gocv.Mat{blackFrame(t)}, true)
	cam.FailRead(3)
	h := newProcessorHarness(t, cam)

	ctx := context.Background()
	_, err := h.proc.Next(ctx)
	require.NoError(t, err)

	cam.SetOpenError(errors.New("unplugged"))
	data, err := h.proc.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.proc.Placeholder(), data)
}

func TestFrameProcessor_StopReleasesCamera(t *testing.T) {
	cam := capture.NewMockCamera([]*gocv.Mat{blackFrame(t)}, true)
	h := newProcessorHarness(t, cam)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := h.proc.Next(ctx)
	require.NoError(t, err)

	cancel()
	_, err = h.proc.Next(ctx)
	require.ErrorIs(t, err, ErrStopped)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, cam.Closes())
	assert.False(t, cam.IsOpen())

	// Not restartable
	_, err = h.proc.Next(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestFrameProcessor_FramesBreakStops(t *testing.T) {
	cam := capture.NewMockCamera([]*gocv.Mat{blackFrame(t)}, true)
	h := newProcessorHarness(t, cam)

	n := 0
	for data := range h.proc.Frames(context.Background()) {
		require.True(t, isJPEG(data))
		n++
		if n == 3 {
			break
		}
	}

	assert.Equal(t, 3, n)
	assert.False(t, cam.IsOpen())
	_, err := h.proc.Next(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestFrameProcessor_UnavailableDetector(t *testing.T) {
	cam := capture.NewMockCamera([]*gocv.Mat{blackFrame(t)}, true)
	log := zaptest.NewLogger(t)
	proc, err := NewFrameProcessor(ProcessorConfig{}, singleCameraSource(t, cam), nil, nil, nil, log)
	require.NoError(t, err)
	defer proc.Close()

	data, err := proc.Next(context.Background())
	require.NoError(t, err)
	assert.Positive(t, brightPixels(t, data), "unavailable status line drawn")
	assert.Equal(t, detector.StatusUnavailable, proc.Stats().LastStatus)
}
