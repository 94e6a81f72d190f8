package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ayusman/guardian/internal/app"
)

// StreamHandler serves the annotated frames as MJPEG.
type StreamHandler struct {
	frames      *app.Hub[[]byte]
	placeholder []byte
	log         *zap.Logger
}

// NewStreamHandler creates a StreamHandler over the frame hub. placeholder is
// sent first when no frame has been published yet.
func NewStreamHandler(frames *app.Hub[[]byte], placeholder []byte, log *zap.Logger) *StreamHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamHandler{
		frames:      frames,
		placeholder: placeholder,
		log:         log.Named("stream"),
	}
}

// ServeHTTP streams frames until the client goes away.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ch, cancel := h.frames.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	h.log.Debug("viewer connected", zap.String("remote", r.RemoteAddr))
	defer h.log.Debug("viewer disconnected", zap.String("remote", r.RemoteAddr))

	// Show something immediately rather than waiting for the next frame
	first, ok := h.frames.Latest()
	if !ok {
		first = h.placeholder
	}
	if len(first) > 0 {
		if err := writePart(w, first); err != nil {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if err := writePart(w, frame); err != nil {
				return
			}
		}
	}
}

// writePart writes one multipart MJPEG part and flushes it.
func writePart(w http.ResponseWriter, jpeg []byte) error {
	if _, err := fmt.Fprint(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n"); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
