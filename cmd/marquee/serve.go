package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/marquee-dev/marquee/pkg/admin"
	"github.com/marquee-dev/marquee/pkg/distribute"
	"github.com/marquee-dev/marquee/pkg/layout"
	"github.com/marquee-dev/marquee/pkg/protocol"
	"github.com/marquee-dev/marquee/pkg/registry"
	"github.com/marquee-dev/marquee/pkg/server"
)

// coordinatorConfig is the JSON configuration for the serve command.
type coordinatorConfig struct {
	Addr                 string `json:"addr"`
	CompressionThreshold int    `json:"compression_threshold"`
	StaleTimeoutSeconds  int    `json:"stale_timeout_seconds"`
	SweepIntervalSeconds int    `json:"sweep_interval_seconds"`

	LayoutDir     string `json:"layout_dir"`
	AssetDir      string `json:"asset_dir"`
	ScreenshotDir string `json:"screenshot_dir"`

	// DeviceConfigFile, when set, is watched for changes; each change is
	// broadcast to the fleet as a config update.
	DeviceConfigFile string `json:"device_config_file"`

	LogFile string `json:"log_file"`

	S3 struct {
		Bucket      string `json:"bucket"`
		AssetPrefix string `json:"asset_prefix"`
		SnapshotKey string `json:"snapshot_key"`
	} `json:"s3"`
}

func loadConfig(path string) (*coordinatorConfig, error) {
	cfg := &coordinatorConfig{
		Addr:                 ":8090",
		StaleTimeoutSeconds:  90,
		SweepIntervalSeconds: 30,
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// setupLogging builds the process logger. With a log file configured,
// output goes to both stdout and a size-rotated file.
func setupLogging(logFile string, debug bool) *slog.Logger {
	var out io.Writer = os.Stdout
	if logFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fleet coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			log := setupLogging(cfg.LogFile, debug)
			slog.SetDefault(log)
			printBanner()
			return runCoordinator(cmd.Context(), cfg, log)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to JSON config file")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides config)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

func runCoordinator(ctx context.Context, cfg *coordinatorConfig, log *slog.Logger) error {
	srvCfg := server.DefaultConfig().WithAddr(cfg.Addr)
	if cfg.CompressionThreshold > 0 {
		srvCfg = srvCfg.WithCompressionThreshold(cfg.CompressionThreshold)
	}
	srvCfg.StaleTimeout = time.Duration(cfg.StaleTimeoutSeconds) * time.Second
	srvCfg.SweepInterval = time.Duration(cfg.SweepIntervalSeconds) * time.Second

	// Optional S3: fleet snapshots and media assets.
	var s3Client *s3.Client
	if cfg.S3.Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		s3Client = s3.NewFromConfig(awsCfg)
	}

	reg := registry.New(registry.WithLogger(log))
	if s3Client != nil && cfg.S3.SnapshotKey != "" {
		store := registry.NewS3Store(s3Client, cfg.S3.Bucket, cfg.S3.SnapshotKey)
		mirror := registry.NewMirror(store, reg.List, 10*time.Second, log)
		reg.AttachMirror(mirror)
		mirror.Start()
		defer mirror.Stop()
	}

	var layouts layout.Store = layout.NewMemoryStore()
	if cfg.LayoutDir != "" {
		layouts = layout.NewFileStore(cfg.LayoutDir)
	}
	var media layout.MediaStore
	switch {
	case s3Client != nil && cfg.S3.AssetPrefix != "":
		media = layout.NewS3Media(s3Client, cfg.S3.Bucket, cfg.S3.AssetPrefix)
	case cfg.AssetDir != "":
		media = layout.NewDirMedia(cfg.AssetDir)
	}
	data := layout.NewHTTPDataProvider(10 * time.Second)

	hub := server.NewHub(srvCfg, reg, log)
	dist := distribute.New(layouts, data, media, reg, hub, log)

	// A reconnecting device with a standing assignment gets its layout
	// pushed as soon as it registers.
	hub.OnRegister = func(s *server.Session, _ *protocol.Register) {
		rec, err := reg.Get(s.Identity())
		if err != nil || rec.AssignedLayout == "" {
			return
		}
		go func(deviceID, layoutID string) {
			if _, err := dist.Distribute(context.Background(), deviceID, layoutID); err != nil {
				log.Warn("post-register distribution failed",
					"device_id", deviceID, "layout_id", layoutID, "error", err)
			}
		}(s.Identity(), rec.AssignedLayout)
	}
	hub.OnMessage = func(s *server.Session, msg protocol.Message) {
		handleDeviceMessage(cfg, log, s, msg)
	}

	srv := server.New(srvCfg, hub, log)
	api := admin.New(reg, hub, dist, log)
	srv.Mount("/api", api.Router())

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if srvCfg.SweepInterval > 0 {
		go sweepLoop(ctx, hub, srvCfg)
	}
	if cfg.DeviceConfigFile != "" {
		go watchDeviceConfig(ctx, cfg.DeviceConfigFile, hub, log)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	}
}

// handleDeviceMessage consumes the message kinds the hub does not:
// remote logs, screenshots, and config acks.
func handleDeviceMessage(cfg *coordinatorConfig, log *slog.Logger, s *server.Session, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Log:
		log.Info("device log", "device_id", s.Identity(), "device_level", m.Level, "msg", m.Message)
	case *protocol.ConfigUpdateAck:
		if m.Applied {
			log.Info("device applied config", "device_id", s.Identity())
		} else {
			log.Warn("device rejected config", "device_id", s.Identity(), "error", m.Error)
		}
	case *protocol.ScreenshotData:
		if cfg.ScreenshotDir == "" {
			return
		}
		raw, err := base64.StdEncoding.DecodeString(m.Data)
		if err != nil {
			log.Warn("bad screenshot payload", "device_id", s.Identity(), "error", err)
			return
		}
		name := fmt.Sprintf("%s-%d.%s", s.Identity(), time.Now().Unix(), m.Format)
		path := filepath.Join(cfg.ScreenshotDir, name)
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			log.Warn("failed to save screenshot", "device_id", s.Identity(), "error", err)
			return
		}
		log.Info("screenshot saved", "device_id", s.Identity(), "path", path)
	}
}

// sweepLoop periodically removes devices that have gone silent. The
// sweep runs through the hub so cached negotiation state is dropped
// along with the registry record.
func sweepLoop(ctx context.Context, hub *server.Hub, cfg server.Config) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hub.Sweep(cfg.StaleTimeout, time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// watchDeviceConfig watches the device config file and broadcasts every
// change to the fleet. Editors often replace the file rather than write
// it in place, so the watch is on the directory and filtered by name.
func watchDeviceConfig(ctx context.Context, path string, hub *server.Hub, log *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error("config watcher unavailable", "error", err)
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		log.Error("cannot watch config directory", "dir", dir, "error", err)
		return
	}
	log.Info("watching device config", "path", path)

	var lastPush time.Time
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Editors fire several events per save.
			if time.Since(lastPush) < 500*time.Millisecond {
				continue
			}
			lastPush = time.Now()

			data, err := os.ReadFile(path)
			if err != nil {
				log.Warn("cannot read changed device config", "error", err)
				continue
			}
			var devCfg protocol.DeviceConfig
			if err := json.Unmarshal(data, &devCfg); err != nil {
				log.Warn("invalid device config, not broadcast", "error", err)
				continue
			}
			n := hub.Broadcast(&protocol.ConfigUpdate{Config: devCfg})
			log.Info("device config broadcast", "devices", n)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}
