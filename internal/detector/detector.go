package detector

import (
	"context"
	"errors"

	"gocv.io/x/gocv"
)

var (
	// ErrClassification is returned when the pose detector fails on a frame.
	ErrClassification = errors.New("classification failed")
	// ErrUnavailable is returned when no pose detector could be loaded.
	ErrUnavailable = errors.New("pose detector unavailable")
)

// PoseDetector defines the interface for pose/fall classification implementations.
type PoseDetector interface {
	// Classify analyzes a video frame and returns the pose samples flagged for it.
	// Returns an empty Detection if nothing was flagged.
	Classify(ctx context.Context, frame gocv.Mat) (Detection, error)

	// LastKnownPose returns the most recent pose the detector estimated,
	// whether or not it was flagged on the frame that produced it.
	LastKnownPose() (PoseSample, bool)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for the pose model.
type Config struct {
	// ModelPaths maps a runtime ("tflite", "edgetpu") to its model file.
	ModelPaths map[string]string `yaml:"model_paths" json:"model_paths"`

	// LabelsPath is the pose labels file.
	LabelsPath string `yaml:"labels_path" json:"labels_path"`

	// TopK is the maximum number of poses to report per frame.
	TopK int `yaml:"top_k" json:"top_k"`

	// ConfidenceThreshold is the minimum pose confidence (0.0-1.0).
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold"`

	// ModelName identifies the model family, e.g. "mobilenet".
	ModelName string `yaml:"model_name" json:"model_name"`

	// Script is the fall detection service script. Empty means search the default locations.
	Script string `yaml:"script" json:"-"`

	// Python is the interpreter used to run Script. Empty means venv or python3.
	Python string `yaml:"python" json:"-"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		ModelPaths: map[string]string{
			"tflite":  "ai_models/posenet_mobilenet_v1_100_257x257_multi_kpt_stripped.tflite",
			"edgetpu": "ai_models/posenet_mobilenet_v1_075_721_1281_quant_decoder_edgetpu.tflite",
		},
		LabelsPath:          "ai_models/pose_labels.txt",
		TopK:                5,
		ConfidenceThreshold: 0.25,
		ModelName:           "mobilenet",
	}
}
