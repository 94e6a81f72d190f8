// Package render draws the monitoring overlay onto camera frames.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/ayusman/guardian/internal/detector"
)

// ErrRender is returned when the overlay could not be drawn.
var ErrRender = errors.New("render failed")

var (
	colorGreen  = color.RGBA{0, 255, 0, 0}
	colorRed    = color.RGBA{255, 0, 0, 0}
	colorYellow = color.RGBA{255, 255, 0, 0}
	colorWhite  = color.RGBA{255, 255, 255, 0}
	colorBlue   = color.RGBA{0, 0, 255, 0}
	colorCyan   = color.RGBA{0, 255, 255, 0}
)

// Skeleton is the set of keypoint pairs joined by a line.
var Skeleton = [][2]string{
	{detector.LeftShoulder, detector.RightShoulder},
	{detector.LeftShoulder, detector.LeftHip},
	{detector.RightShoulder, detector.RightHip},
	{detector.LeftHip, detector.RightHip},
}

// Status is the monitoring state shown on the status line.
type Status int

const (
	StatusUnavailable Status = iota
	StatusMonitoring
	StatusFallTriggered
)

// Text returns the status line for s.
func (s Status) Text() string {
	switch s {
	case StatusUnavailable:
		return "Status: Detector Unavailable"
	case StatusMonitoring:
		return "Status: Monitoring"
	case StatusFallTriggered:
		return "WARNING: FALL DETECTED!"
	default:
		return fmt.Sprintf("Status: %d", int(s))
	}
}

// Input is everything the overlay needs for one frame.
type Input struct {
	// DetectorAvailable is false when no pose detector is loaded.
	DetectorAvailable bool
	// Classified is true when the detector produced a result for this frame.
	Classified bool
	// Samples is the current frame's detection.
	Samples detector.Detection
	// Fallback is drawn as ACTIVE when Samples has nothing to draw.
	Fallback *detector.PoseSample
	// Latched is true while a fall alert is engaged.
	Latched bool
}

// StatusFor returns the status line state for in.
func StatusFor(in Input) Status {
	switch {
	case in.Latched:
		return StatusFallTriggered
	case !in.DetectorAvailable:
		return StatusUnavailable
	default:
		return StatusMonitoring
	}
}

// Overlay draws skeletons, labels and status text.
type Overlay struct {
	font gocv.HersheyFont
}

// NewOverlay creates an Overlay.
func NewOverlay() *Overlay {
	return &Overlay{font: gocv.FontHersheySimplex}
}

// Render draws the overlay onto frame in place. It never panics; a drawing
// failure is returned wrapped in ErrRender and leaves the frame partially drawn.
func (o *Overlay) Render(frame *gocv.Mat, in Input) (err error) {
	if frame == nil || frame.Empty() {
		return fmt.Errorf("%w: empty frame", ErrRender)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRender, r)
		}
	}()

	if in.DetectorAvailable {
		gocv.PutText(frame, "AI SYSTEM ONLINE", image.Pt(10, 60), o.font, 0.5, colorWhite, 1)
	} else {
		gocv.PutText(frame, "AI LOADING / ERROR...", image.Pt(10, 60), o.font, 0.7, colorRed, 2)
	}

	drawn := false
	for i := range in.Samples {
		s := &in.Samples[i]
		if s.IsEmpty() {
			continue
		}
		o.drawSkeleton(frame, s)
		drawn = true

		fallen := s.Label == detector.LabelFall || in.Latched
		o.drawLabel(frame, s, i+1, fallen)
	}

	if !drawn && in.Fallback != nil && !in.Fallback.IsEmpty() {
		o.drawSkeleton(frame, in.Fallback)
		o.drawLabel(frame, in.Fallback, 1, false)
	}

	status := StatusFor(in)
	statusColor := colorYellow
	switch {
	case status == StatusFallTriggered:
		statusColor = colorRed
		gocv.PutText(frame, "FALL TRIGGERED", image.Pt(10, 90), o.font, 0.5, colorRed, 1)
	case status == StatusUnavailable:
		statusColor = colorRed
	case in.Classified:
		statusColor = colorGreen
	}
	gocv.PutTextWithParams(frame, status.Text(), image.Pt(10, 30), o.font, 1, statusColor, 2, gocv.LineAA, false)

	return nil
}

func (o *Overlay) drawSkeleton(frame *gocv.Mat, s *detector.PoseSample) {
	points := make(map[string]image.Point)
	for name, p := range s.Present() {
		if math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			continue
		}
		pt := image.Pt(int(p.X), int(p.Y))
		points[name] = pt
		gocv.Circle(frame, pt, 5, colorBlue, -1)
	}

	for _, pair := range Skeleton {
		a, okA := points[pair[0]]
		b, okB := points[pair[1]]
		if okA && okB {
			gocv.Line(frame, a, b, colorBlue, 2)
		}
	}
}

func (o *Overlay) drawLabel(frame *gocv.Mat, s *detector.PoseSample, id int, fallen bool) {
	at, ok := LabelAnchor(s)
	if !ok {
		return
	}
	text, c := fmt.Sprintf("ID:%d ACTIVE", id), colorGreen
	if fallen {
		text, c = fmt.Sprintf("ID:%d FALLEN", id), colorRed
	}
	gocv.PutText(frame, text, at, o.font, 0.6, c, 2)
}

// LabelAnchor returns where the person label is drawn: above and left of the
// topmost-leftmost keypoint, kept inside the frame. ok is false when the
// sample has no keypoints.
func LabelAnchor(s *detector.PoseSample) (image.Point, bool) {
	minX, minY, _, _, ok := s.Bounds()
	if !ok || math.IsInf(minX, 0) || math.IsInf(minY, 0) {
		return image.Point{}, false
	}
	x := max(0, int(minX)-20)
	y := max(30, int(minY)-35)
	return image.Pt(x+5, y+20), true
}
