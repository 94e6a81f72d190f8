package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/ayusman/guardian/internal/app"
	"github.com/ayusman/guardian/internal/capture"
	"github.com/ayusman/guardian/internal/config"
	"github.com/ayusman/guardian/internal/detector"
	"github.com/ayusman/guardian/internal/notify"
	"github.com/ayusman/guardian/internal/plugin"
	"github.com/ayusman/guardian/internal/server"
	"github.com/ayusman/guardian/internal/snapshot"
	"github.com/ayusman/guardian/internal/store"
	"github.com/ayusman/guardian/internal/tray"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
		devices    = flag.String("devices", "", "comma-separated camera devices to probe (overrides config)")
		dataDir    = flag.String("data", "", "data directory (overrides config)")
		noDetector = flag.Bool("no-detector", false, "run without the pose detector")
		withTray   = flag.Bool("tray", false, "show the system tray icon")
		debug      = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardian: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *devices != "" {
		cfg.Camera.Devices = strings.Split(*devices, ",")
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *noDetector {
		cfg.Detector.Enabled = false
	}
	if *withTray {
		cfg.Tray = true
	}
	if *debug {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	}

	log, err := cfg.Log.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardian: build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("guardian failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer st.Close()

	notifier, closeNotifiers, err := buildNotifier(cfg, log)
	if err != nil {
		return err
	}
	defer closeNotifiers()

	archive, err := buildArchive(ctx, cfg, log)
	if err != nil {
		return err
	}

	source := capture.NewSource(capture.SourceConfig{
		Devices:     cfg.Camera.Devices,
		SettleDelay: cfg.Camera.SettleDelay,
		Open: func(device string) capture.Camera {
			return capture.NewCameraWithSize(device, cfg.Camera.Width, cfg.Camera.Height)
		},
	}, log)

	a, err := app.New(app.Config{
		Source:   source,
		Detector: detector.NewAdapter(buildDetector(cfg, log), log),
		Notifier: notifier,
		Archive:  archive,
		Store:    st,
		Cooldown: cfg.Alert.Cooldown,
		Processor: app.ProcessorConfig{
			PlaceholderPace: cfg.Stream.PlaceholderPace,
			ClassifyTimeout: cfg.Detector.ClassifyTimeout,
		},
		Dispatch:    cfg.Alert.DispatcherConfig,
		FrameBuffer: cfg.Stream.ViewerBuffer,
		Log:         log,
	})
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop()

	srv := server.New(server.Config{
		StaticDir: cfg.Server.StaticDir,
		Store:     st,
		Monitor:   a,
		Log:       log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx, cfg.Server.Addr)
	}()

	if cfg.Tray {
		// systray needs the main goroutine; returns when Quit is clicked or ctx ends
		runTray(ctx, stop, a, cfg.Server.Addr, log)
	} else {
		<-ctx.Done()
	}
	stop()

	log.Info("shutting down")
	return <-errCh
}

// buildDetector returns the pose detector, or nil to run in unavailable mode.
func buildDetector(cfg config.Config, log *zap.Logger) detector.PoseDetector {
	if !cfg.Detector.Enabled {
		log.Info("pose detector disabled")
		return nil
	}
	d, err := detector.NewSubprocessDetector(cfg.Detector.Config, log)
	if err != nil {
		log.Warn("pose detector unavailable, streaming without detection", zap.Error(err))
		return nil
	}
	return d
}

// buildNotifier combines every configured delivery channel.
func buildNotifier(cfg config.Config, log *zap.Logger) (notify.Notifier, func(), error) {
	var notifiers []notify.Notifier
	var closers []func()

	if cfg.Notify.Push != nil {
		push, err := notify.NewPushNotifier(*cfg.Notify.Push, log)
		if err != nil {
			return nil, nil, fmt.Errorf("push notifier: %w", err)
		}
		notifiers = append(notifiers, push)
	}

	if cfg.Notify.MQTT != nil {
		mq, err := notify.NewMQTTNotifier(*cfg.Notify.MQTT, log)
		if err != nil {
			return nil, nil, fmt.Errorf("mqtt notifier: %w", err)
		}
		notifiers = append(notifiers, mq)
		closers = append(closers, mq.Close)
	}

	if cfg.Notify.Hooks.Enabled {
		manager := plugin.NewManager(cfg.HooksDir(), log)
		if err := manager.Discover(); err != nil {
			log.Warn("failed to discover alert hooks", zap.String("dir", cfg.HooksDir()), zap.Error(err))
		}
		hooks := manager.WithAction(plugin.ActionFallAlert)
		log.Info("alert hooks loaded", zap.Int("count", len(hooks)))
		notifiers = append(notifiers, notify.NewHookNotifier(manager, plugin.NewExecutor(cfg.Notify.Hooks.Timeout), log))
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if len(notifiers) == 0 {
		log.Warn("no alert delivery channel configured, alerts are only logged")
		return notify.NewLogNotifier(log), closeAll, nil
	}
	return notify.NewMulti(notifiers...), closeAll, nil
}

// buildArchive picks the snapshot archive: MinIO when configured, else a local directory.
func buildArchive(ctx context.Context, cfg config.Config, log *zap.Logger) (snapshot.Archive, error) {
	if cfg.Snapshot.MinIO != nil {
		archive, err := snapshot.NewMinIOArchive(ctx, *cfg.Snapshot.MinIO, log)
		if err != nil {
			return nil, fmt.Errorf("snapshot archive: %w", err)
		}
		return archive, nil
	}

	archive, err := snapshot.NewDirArchive(cfg.SnapshotDir())
	if err != nil {
		return nil, fmt.Errorf("snapshot archive: %w", err)
	}
	return archive, nil
}

func runTray(ctx context.Context, stop context.CancelFunc, a *app.App, addr string, log *zap.Logger) {
	t := tray.New()
	t.OnReset(func() { a.ResetAlert() })
	t.OnOpenStream(func() {
		if err := openBrowser(streamURL(addr)); err != nil {
			log.Warn("failed to open browser", zap.Error(err))
		}
	})
	t.OnQuit(stop)

	events, cancel := a.Events().Subscribe()
	defer cancel()
	go t.Watch(ctx, events)
	go func() {
		<-ctx.Done()
		t.Quit()
	}()

	t.Run()
}

func streamURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/video_feed"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
