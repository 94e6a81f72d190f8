package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig holds configuration for the MQTT alert publisher.
type MQTTConfig struct {
	Broker   string        `yaml:"broker"`
	Topic    string        `yaml:"topic"`
	ClientID string        `yaml:"client_id"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	QoS      byte          `yaml:"qos"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MQTTNotifier publishes alerts to an MQTT topic for home automation hubs.
type MQTTNotifier struct {
	cfg    MQTTConfig
	client mqtt.Client
	log    *zap.Logger

	mu    sync.RWMutex
	token string
}

// mqttMessage is the published JSON document.
type mqttMessage struct {
	Event       string  `json:"event"`
	DeviceToken string  `json:"device_token,omitempty"`
	Payload     Payload `json:"payload"`
	Image       string  `json:"image,omitempty"` // base64 JPEG
}

// NewMQTTNotifier creates an MQTT notifier. The connection is established lazily
// and re-established by the client's auto-reconnect.
func NewMQTTNotifier(cfg MQTTConfig, log *zap.Logger) (*MQTTNotifier, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "guardian/alerts/fall"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "guardian"
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	n := &MQTTNotifier{cfg: cfg, log: log.Named("mqtt")}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		n.log.Warn("mqtt connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		n.log.Info("mqtt connected", zap.String("broker", cfg.Broker))
	})

	n.client = mqtt.NewClient(opts)
	return n, nil
}

func (n *MQTTNotifier) SetToken(token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.token = token
}

func (n *MQTTNotifier) connect() error {
	if n.client.IsConnected() {
		return nil
	}
	tok := n.client.Connect()
	if !tok.WaitTimeout(n.cfg.Timeout) {
		return fmt.Errorf("mqtt connect to %s timed out", n.cfg.Broker)
	}
	return tok.Error()
}

// SendFallAlert publishes the alert and waits for the broker acknowledgement.
func (n *MQTTNotifier) SendFallAlert(ctx context.Context, image []byte, payload Payload) error {
	if err := n.connect(); err != nil {
		return err
	}

	n.mu.RLock()
	token := n.token
	n.mu.RUnlock()

	data, err := buildMQTTMessage(payload, image, token)
	if err != nil {
		return err
	}

	tok := n.client.Publish(n.cfg.Topic, n.cfg.QoS, false, data)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}

	n.log.Info("fall alert published", zap.String("topic", n.cfg.Topic), zap.String("alert_id", payload.AlertID))
	return nil
}

// Close disconnects from the broker.
func (n *MQTTNotifier) Close() {
	if n.client.IsConnected() {
		n.client.Disconnect(250)
	}
}

func buildMQTTMessage(payload Payload, image []byte, token string) ([]byte, error) {
	msg := mqttMessage{
		Event:       "fall",
		DeviceToken: token,
		Payload:     payload,
	}
	if len(image) > 0 {
		msg.Image = base64.StdEncoding.EncodeToString(image)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode mqtt message: %w", err)
	}
	return data, nil
}
