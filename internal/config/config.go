// Package config loads the guardian service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/guardian/internal/alert"
	"github.com/ayusman/guardian/internal/app"
	"github.com/ayusman/guardian/internal/detector"
	"github.com/ayusman/guardian/internal/notify"
	"github.com/ayusman/guardian/internal/snapshot"
)

// Config is the full service configuration.
type Config struct {
	// DataDir holds the database and the default snapshot directory.
	DataDir string `yaml:"data_dir"`

	Server   ServerConfig   `yaml:"server"`
	Camera   CameraConfig   `yaml:"camera"`
	Detector DetectorConfig `yaml:"detector"`
	Alert    AlertConfig    `yaml:"alert"`
	Stream   StreamConfig   `yaml:"stream"`
	Notify   NotifyConfig   `yaml:"notify"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Log      LogConfig      `yaml:"log"`

	// Tray shows the system tray icon.
	Tray bool `yaml:"tray"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// CameraConfig configures device probing.
type CameraConfig struct {
	// Devices are probed in order; the first that opens and reads wins.
	Devices     []string      `yaml:"devices"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	Width       int           `yaml:"width"`
	Height      int           `yaml:"height"`
}

// DetectorConfig configures the pose detector service.
type DetectorConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ClassifyTimeout time.Duration `yaml:"classify_timeout"`
	detector.Config `yaml:",inline"`
}

// AlertConfig configures the latch and alert delivery.
type AlertConfig struct {
	Cooldown               time.Duration `yaml:"cooldown"`
	alert.DispatcherConfig `yaml:",inline"`
}

// StreamConfig configures the frame stream.
type StreamConfig struct {
	PlaceholderPace time.Duration `yaml:"placeholder_pace"`
	// ViewerBuffer is the per-viewer frame queue length.
	ViewerBuffer int `yaml:"viewer_buffer"`
}

// NotifyConfig selects the alert delivery channels. Every configured channel
// receives each alert; with none configured alerts are only logged.
type NotifyConfig struct {
	Push  *notify.PushConfig `yaml:"push"`
	MQTT  *notify.MQTTConfig `yaml:"mqtt"`
	Hooks HooksConfig        `yaml:"hooks"`
}

// HooksConfig configures executable alert hooks.
type HooksConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
}

// SnapshotConfig selects where alert snapshots are archived. MinIO wins when
// both are set.
type SnapshotConfig struct {
	Dir   string                `yaml:"dir"`
	MinIO *snapshot.MinIOConfig `yaml:"minio"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the default configuration.
func Default() Config {
	dataDir := ".guardian"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".guardian")
	}

	return Config{
		DataDir: dataDir,
		Server: ServerConfig{
			Addr: ":8080",
		},
		Camera: CameraConfig{
			Devices:     []string{"0", "1"},
			SettleDelay: time.Second,
		},
		Detector: DetectorConfig{
			Enabled: true,
			Config:  detector.DefaultConfig(),
		},
		Alert: AlertConfig{
			Cooldown:         alert.DefaultCooldown,
			DispatcherConfig: alert.DefaultDispatcherConfig(),
		},
		Stream: StreamConfig{
			PlaceholderPace: app.DefaultProcessorConfig().PlaceholderPace,
			ViewerBuffer:    2,
		},
		Notify: NotifyConfig{
			Hooks: HooksConfig{
				Timeout: 10 * time.Second,
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if len(c.Camera.Devices) == 0 {
		errs = append(errs, errors.New("camera.devices must list at least one device"))
	}
	if c.Camera.SettleDelay < 0 {
		errs = append(errs, errors.New("camera.settle_delay must not be negative"))
	}
	if c.Alert.Cooldown <= 0 {
		errs = append(errs, errors.New("alert.cooldown must be positive"))
	}
	if c.Alert.MaxRetries < 0 {
		errs = append(errs, errors.New("alert.max_retries must not be negative"))
	}
	if c.Notify.Push != nil && c.Notify.Push.Endpoint == "" {
		errs = append(errs, errors.New("notify.push.endpoint is required"))
	}
	if c.Notify.MQTT != nil && c.Notify.MQTT.Broker == "" {
		errs = append(errs, errors.New("notify.mqtt.broker is required"))
	}
	if c.Snapshot.MinIO != nil && (c.Snapshot.MinIO.Endpoint == "" || c.Snapshot.MinIO.Bucket == "") {
		errs = append(errs, errors.New("snapshot.minio needs endpoint and bucket"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// DBPath returns the sqlite database path.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "guardian.db")
}

// HooksDir returns the hook plugin directory.
func (c Config) HooksDir() string {
	if c.Notify.Hooks.Dir != "" {
		return c.Notify.Hooks.Dir
	}
	return filepath.Join(c.DataDir, "plugins")
}

// SnapshotDir returns the local snapshot directory.
func (c Config) SnapshotDir() string {
	if c.Snapshot.Dir != "" {
		return c.Snapshot.Dir
	}
	return filepath.Join(c.DataDir, "snapshots")
}

// Build creates the logger described by c.
func (c LogConfig) Build() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}
