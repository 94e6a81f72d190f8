package render

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Placeholder frame geometry.
const (
	PlaceholderWidth  = 640
	PlaceholderHeight = 480
)

// Placeholder returns a black frame telling the viewer the camera is
// connecting. The caller owns the returned Mat.
func Placeholder(width, height int) gocv.Mat {
	if width <= 0 {
		width = PlaceholderWidth
	}
	if height <= 0 {
		height = PlaceholderHeight
	}
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(0, 0, 0, 0))

	// Text positions are laid out for 640x480 and scaled to the frame
	sx := float64(width) / PlaceholderWidth
	sy := float64(height) / PlaceholderHeight
	gocv.PutText(&mat, "CONNECTING TO CAMERA...", image.Pt(int(50*sx), int(240*sy)), gocv.FontHersheySimplex, 1.0, colorCyan, 2)
	gocv.PutText(&mat, "PLEASE WAIT", image.Pt(int(200*sx), int(300*sy)), gocv.FontHersheySimplex, 0.8, colorCyan, 2)
	return mat
}

// EncodeJPEG encodes frame and returns a copy of the bytes owned by the caller.
func EncodeJPEG(frame gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	if len(data) == 0 {
		return nil, fmt.Errorf("encode frame: empty output")
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// PlaceholderJPEG returns the encoded placeholder frame.
func PlaceholderJPEG(width, height int) ([]byte, error) {
	mat := Placeholder(width, height)
	defer mat.Close()
	return EncodeJPEG(mat)
}
