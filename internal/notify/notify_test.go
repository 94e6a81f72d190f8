package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ayusman/guardian/internal/location"
	"github.com/ayusman/guardian/internal/plugin"
)

type recordingNotifier struct {
	mu       sync.Mutex
	err      error
	payloads []Payload
	images   [][]byte
	token    string
}

func (r *recordingNotifier) SendFallAlert(_ context.Context, image []byte, payload Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	r.images = append(r.images, image)
	return r.err
}

func (r *recordingNotifier) SetToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token = token
}

func TestPayload_JSON(t *testing.T) {
	t.Run("without location", func(t *testing.T) {
		data, err := json.Marshal(Payload{Timestamp: "2024-05-01 10:11:12"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"timestamp":"2024-05-01 10:11:12"}`, string(data))
	})

	t.Run("location fields are flattened", func(t *testing.T) {
		info := location.Info{Lat: 12.5, Lng: 77.25, MapLink: location.MapLink(12.5, 77.25)}
		data, err := json.Marshal(Payload{AlertID: "a1", Timestamp: "2024-05-01 10:11:12", Info: &info})
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"alert_id": "a1",
			"timestamp": "2024-05-01 10:11:12",
			"lat": 12.5,
			"lng": 77.25,
			"map_link": "https://www.google.com/maps?q=12.5,77.25"
		}`, string(data))
	})
}

func TestTimestampLayout(t *testing.T) {
	at := time.Date(2024, 3, 9, 7, 5, 3, 0, time.UTC)
	assert.Equal(t, "2024-03-09 07:05:03", at.Format(TimestampLayout))
}

func TestMulti(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("boom")}
	m := NewMulti(ok, nil, bad)
	assert.Equal(t, 2, m.Len())

	err := m.SendFallAlert(context.Background(), []byte{1, 2}, Payload{Timestamp: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, ok.payloads, 1, "every notifier is attempted")
	assert.Len(t, bad.payloads, 1)

	m.SetToken("tok")
	assert.Equal(t, "tok", ok.token)
	assert.Equal(t, "tok", bad.token)

	assert.NoError(t, NewMulti().SendFallAlert(context.Background(), nil, Payload{}))
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(zaptest.NewLogger(t))
	info := location.Info{Lat: 1, Lng: 2, MapLink: location.MapLink(1, 2)}
	assert.NoError(t, n.SendFallAlert(context.Background(), nil, Payload{Timestamp: "t", Info: &info}))
	n.SetToken("x")
}

func TestPushNotifier_RequiresEndpoint(t *testing.T) {
	_, err := NewPushNotifier(PushConfig{}, nil)
	assert.Error(t, err)
}

func TestPushNotifier_NoToken(t *testing.T) {
	n, err := NewPushNotifier(PushConfig{Endpoint: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	err = n.SendFallAlert(context.Background(), nil, Payload{})
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestPushNotifier_Send(t *testing.T) {
	type captured struct {
		auth    string
		message pushMessage
		image   []byte
	}
	got := make(chan captured, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c captured
		c.auth = r.Header.Get("Authorization")

		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(part)
			switch part.FormName() {
			case "message":
				_ = json.Unmarshal(data, &c.message)
			case "image":
				c.image = data
			}
		}
		got <- c
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewPushNotifier(PushConfig{Endpoint: srv.URL, ServerKey: "secret"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	n.SetToken("device-123")
	assert.Equal(t, "device-123", n.Token())

	info := location.Info{Lat: 12.5, Lng: 77.25, MapLink: location.MapLink(12.5, 77.25)}
	err = n.SendFallAlert(context.Background(), []byte("jpeg-bytes"), Payload{
		AlertID:   "a1",
		Timestamp: "2024-05-01 10:11:12",
		Info:      &info,
	})
	require.NoError(t, err)

	c := <-got
	assert.Equal(t, "key=secret", c.auth)
	assert.Equal(t, "device-123", c.message.To)
	assert.Equal(t, "high", c.message.Priority)
	assert.True(t, c.message.ContentImage)
	assert.Equal(t, "2024-05-01 10:11:12", c.message.Data.Timestamp)
	require.NotNil(t, c.message.Data.Info)
	assert.Equal(t, 12.5, c.message.Data.Lat)
	assert.Contains(t, c.message.Body, info.MapLink)
	assert.Equal(t, []byte("jpeg-bytes"), c.image)
}

func TestPushNotifier_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid registration", http.StatusBadRequest)
	}))
	defer srv.Close()

	n, err := NewPushNotifier(PushConfig{Endpoint: srv.URL, Token: "t"}, nil)
	require.NoError(t, err)

	err = n.SendFallAlert(context.Background(), nil, Payload{Timestamp: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "invalid registration")
}

func TestMQTTNotifier_Config(t *testing.T) {
	_, err := NewMQTTNotifier(MQTTConfig{}, nil)
	assert.Error(t, err, "broker required")

	_, err = NewMQTTNotifier(MQTTConfig{Broker: "tcp://localhost:1883", QoS: 3}, nil)
	assert.Error(t, err, "qos out of range")

	n, err := NewMQTTNotifier(MQTTConfig{Broker: "tcp://localhost:1883"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "guardian/alerts/fall", n.cfg.Topic)
	assert.Equal(t, "guardian", n.cfg.ClientID)
}

func TestBuildMQTTMessage(t *testing.T) {
	data, err := buildMQTTMessage(Payload{Timestamp: "2024-05-01 10:11:12"}, []byte{0xff, 0xd8}, "tok")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event": "fall",
		"device_token": "tok",
		"payload": {"timestamp": "2024-05-01 10:11:12"},
		"image": "/9g="
	}`, string(data))

	data, err = buildMQTTMessage(Payload{Timestamp: "t"}, nil, "")
	require.NoError(t, err)
	assert.NotContains(t, string(data), "image")
	assert.NotContains(t, string(data), "device_token")
}

func TestHookNotifier(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	root := t.TempDir()
	out := filepath.Join(t.TempDir(), "received.json")

	hookDir := filepath.Join(root, "recorder")
	require.NoError(t, os.MkdirAll(hookDir, 0755))
	script := "#!/bin/sh\ncat > " + out + "\necho '{\"success\":true}'\n"
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "run.sh"), []byte(script), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "plugin.json"),
		[]byte(`{"name":"recorder","executable":"run.sh","actions":["fall_alert"],"config":{"repeat":2}}`), 0644))

	failDir := filepath.Join(root, "failing")
	require.NoError(t, os.MkdirAll(failDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(failDir, "run.sh"),
		[]byte("#!/bin/sh\necho '{\"success\":false,\"error\":\"no signal\"}'\n"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(failDir, "plugin.json"),
		[]byte(`{"name":"failing","executable":"run.sh","actions":["fall_alert"]}`), 0644))

	mgr := plugin.NewManager(root, zaptest.NewLogger(t))
	require.NoError(t, mgr.Discover())

	n := NewHookNotifier(mgr, plugin.NewExecutor(5*time.Second), zaptest.NewLogger(t))
	n.SetToken("tok")
	err := n.SendFallAlert(context.Background(), []byte{1}, Payload{AlertID: "a1", Timestamp: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no signal")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var req plugin.Request
	require.NoError(t, json.Unmarshal(data, &req))
	assert.Equal(t, plugin.ActionFallAlert, req.Action)
	assert.Equal(t, "fall", req.Event)
	assert.JSONEq(t, `{"repeat":2}`, string(req.Config))
	assert.True(t, strings.Contains(string(req.Params), `"alert_id":"a1"`))
	assert.True(t, strings.Contains(string(req.Params), `"device_token":"tok"`))
}

func TestHookNotifier_NoHooks(t *testing.T) {
	mgr := plugin.NewManager(t.TempDir(), nil)
	require.NoError(t, mgr.Discover())
	n := NewHookNotifier(mgr, plugin.NewExecutor(time.Second), nil)
	assert.NoError(t, n.SendFallAlert(context.Background(), nil, Payload{}))
}
