// Package detector provides pose detection interfaces and types for fall monitoring.
package detector

import "math"

// Keypoint names following the PoseNet convention used by the fall detection service.
const (
	Nose          = "nose"
	LeftEye       = "left eye"
	RightEye      = "right eye"
	LeftEar       = "left ear"
	RightEar      = "right ear"
	LeftShoulder  = "left shoulder"
	RightShoulder = "right shoulder"
	LeftElbow     = "left elbow"
	RightElbow    = "right elbow"
	LeftWrist     = "left wrist"
	RightWrist    = "right wrist"
	LeftHip       = "left hip"
	RightHip      = "right hip"
	LeftKnee      = "left knee"
	RightKnee     = "right knee"
	LeftAnkle     = "left ankle"
	RightAnkle    = "right ankle"
)

// Label is the discrete classification attached to a pose sample.
type Label string

const (
	// LabelNormal marks a pose that is not a fall.
	LabelNormal Label = "NORMAL"
	// LabelFall marks a pose classified as a fall.
	LabelFall Label = "FALL"
)

// Point2D is a keypoint position in frame pixel coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PoseSample is one person's pose for one frame.
// A nil entry in Keypoints means the landmark was not detected.
type PoseSample struct {
	Keypoints  map[string]*Point2D `json:"keypoints"`
	Label      Label               `json:"label"`
	Confidence float64             `json:"confidence"`
}

// Detection is the ordered list of pose samples produced for one frame.
type Detection []PoseSample

// HasFall reports whether any sample in the detection is labeled FALL.
func (d Detection) HasFall() bool {
	for i := range d {
		if d[i].Label == LabelFall {
			return true
		}
	}
	return false
}

// Empty reports whether the detection carries no samples.
func (d Detection) Empty() bool {
	return len(d) == 0
}

// Present returns the keypoints that were actually detected.
func (p *PoseSample) Present() map[string]Point2D {
	if p == nil {
		return nil
	}
	points := make(map[string]Point2D, len(p.Keypoints))
	for name, pt := range p.Keypoints {
		if pt == nil || math.IsNaN(pt.X) || math.IsNaN(pt.Y) {
			continue
		}
		points[name] = *pt
	}
	return points
}

// IsEmpty reports whether the sample has no detected keypoints.
func (p *PoseSample) IsEmpty() bool {
	return len(p.Present()) == 0
}

// Bounds returns the min/max coordinates over the detected keypoints.
// ok is false when no keypoint is present.
func (p *PoseSample) Bounds() (minX, minY, maxX, maxY float64, ok bool) {
	points := p.Present()
	if len(points) == 0 {
		return 0, 0, 0, 0, false
	}

	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, pt := range points {
		minX = math.Min(minX, pt.X)
		minY = math.Min(minY, pt.Y)
		maxX = math.Max(maxX, pt.X)
		maxY = math.Max(maxY, pt.Y)
	}
	return minX, minY, maxX, maxY, true
}

// Clone returns a deep copy of the sample.
func (p PoseSample) Clone() PoseSample {
	out := PoseSample{
		Label:      p.Label,
		Confidence: p.Confidence,
		Keypoints:  make(map[string]*Point2D, len(p.Keypoints)),
	}
	for name, pt := range p.Keypoints {
		if pt == nil {
			out.Keypoints[name] = nil
			continue
		}
		c := *pt
		out.Keypoints[name] = &c
	}
	return out
}
