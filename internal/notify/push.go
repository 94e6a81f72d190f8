package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PushConfig holds configuration for the HTTP push gateway.
type PushConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	ServerKey string        `yaml:"server_key"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
}

// PushNotifier posts alerts to a push gateway which routes them to the
// registered device token.
type PushNotifier struct {
	config     PushConfig
	httpClient *http.Client
	log        *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewPushNotifier creates a push notifier. The device token may be set later.
func NewPushNotifier(config PushConfig, log *zap.Logger) (*PushNotifier, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("push endpoint is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &PushNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		log:   log.Named("push"),
		token: config.Token,
	}, nil
}

// SetToken updates the device token alerts are routed to.
func (n *PushNotifier) SetToken(token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.token = token
}

// Token returns the current device token.
func (n *PushNotifier) Token() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.token
}

// pushMessage is the JSON part of the multipart request.
type pushMessage struct {
	To           string  `json:"to"`
	Title        string  `json:"title"`
	Body         string  `json:"body"`
	Data         Payload `json:"data"`
	Priority     string  `json:"priority"`
	ContentImage bool    `json:"content_image"`
}

// SendFallAlert posts the alert as multipart/form-data: a "message" JSON part
// and an optional "image" JPEG part.
func (n *PushNotifier) SendFallAlert(ctx context.Context, image []byte, payload Payload) error {
	token := n.Token()
	if token == "" {
		return ErrNoToken
	}

	msg := pushMessage{
		To:           token,
		Title:        "Fall detected",
		Body:         fmt.Sprintf("A fall was detected at %s", payload.Timestamp),
		Data:         payload,
		Priority:     "high",
		ContentImage: len(image) > 0,
	}
	if payload.Info != nil {
		msg.Body += " - " + payload.MapLink
	}

	body, contentType, err := buildPushBody(msg, image)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.Endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if n.config.ServerKey != "" {
		req.Header.Set("Authorization", "key="+n.config.ServerKey)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send push request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	n.log.Info("fall alert pushed", zap.String("alert_id", payload.AlertID), zap.Int("status", resp.StatusCode))
	return nil
}

func buildPushBody(msg pushMessage, image []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="message"`)
	header.Set("Content-Type", "application/json")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create message part: %w", err)
	}
	if err := json.NewEncoder(part).Encode(msg); err != nil {
		return nil, "", fmt.Errorf("failed to encode message: %w", err)
	}

	if len(image) > 0 {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="image"; filename="fall.jpg"`)
		header.Set("Content-Type", "image/jpeg")
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create image part: %w", err)
		}
		if _, err := part.Write(image); err != nil {
			return nil, "", fmt.Errorf("failed to write image: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
