package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/nexus-edge/edge-dashboard/internal/camera"
	"github.com/nexus-edge/edge-dashboard/internal/dashboard"
	"github.com/nexus-edge/edge-dashboard/internal/feed"
	"github.com/nexus-edge/edge-dashboard/internal/insight"
	"github.com/nexus-edge/edge-dashboard/internal/logger"
	"github.com/nexus-edge/edge-dashboard/internal/metrics"
	"github.com/nexus-edge/edge-dashboard/internal/simulator"
	"github.com/nexus-edge/edge-dashboard/internal/webrtc"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg := dashboard.DefaultConfig()
	if err := dashboard.LoadEnv(&cfg); err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}

	var logLevel string
	var logColor bool
	var enableWebRTC bool

	flag.StringVar(&cfg.Addr, "http", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.CameraURL, "camera", cfg.CameraURL, "MJPEG camera URL (empty uses the synthetic pattern)")
	flag.IntVar(&cfg.CameraWidth, "width", cfg.CameraWidth, "Synthetic camera width")
	flag.IntVar(&cfg.CameraHeight, "height", cfg.CameraHeight, "Synthetic camera height")
	flag.Float64Var(&cfg.RefreshRate, "fps", cfg.RefreshRate, "Overlay refresh rate")
	flag.IntVar(&cfg.JPEGQuality, "quality", cfg.JPEGQuality, "JPEG quality for the composited stream")
	flag.StringVar(&cfg.Accent, "accent", cfg.Accent, "Box and label color")
	flag.Float64Var(&cfg.FontSize, "font-size", cfg.FontSize, "Label font size in points")
	flag.BoolVar(&cfg.Simulate, "simulate", cfg.Simulate, "Publish mock telemetry and detections")
	flag.DurationVar(&cfg.SimInterval, "sim-interval", cfg.SimInterval, "Mock data interval")
	flag.StringVar(&cfg.DropDir, "drop-dir", cfg.DropDir, "Directory watched for detection batch files")
	flag.DurationVar(&cfg.AnalyzeTimeout, "analyze-timeout", cfg.AnalyzeTimeout, "Deep analysis timeout")
	flag.IntVar(&cfg.MaxWebRTCClients, "webrtc-clients", cfg.MaxWebRTCClients, "Maximum WebRTC data channel clients")
	flag.BoolVar(&enableWebRTC, "webrtc", true, "Accept WebRTC data channel offers")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, enableWebRTC); err != nil {
		logger.Error("Main", "Exited with error: %v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(ctx context.Context, cfg dashboard.Config, enableWebRTC bool) (err error) {
	m := metrics.New()
	g, ctx := errgroup.WithContext(ctx)

	var cam camera.Source
	if cfg.CameraURL != "" {
		mj := camera.NewMJPEG(cfg.CameraURL)
		g.Go(func() error { return mj.Run(ctx) })
		cam = mj
		logger.Info("Main", "Camera: %s", cfg.CameraURL)
	} else {
		syn := camera.NewSynthetic(cfg.CameraWidth, cfg.CameraHeight)
		syn.Attach()
		cam = syn
	}

	var model insight.Model
	gemini, err := insight.NewGeminiClient(cfg.GeminiAPIKey,
		insight.WithBaseURL(cfg.GeminiBaseURL),
		insight.WithModel(cfg.GeminiModel),
	)
	switch {
	case errors.Is(err, insight.ErrNoAPIKey):
		logger.Warn("Main", "No Gemini API key set, deep analysis will report the fallback insight")
	case err != nil:
		return err
	default:
		model = gemini
		logger.Info("Main", "Deep analysis model: %s", cfg.GeminiModel)
	}

	acfg := insight.DefaultAnalyzerConfig()
	acfg.Timeout = cfg.AnalyzeTimeout
	acfg.MinInterval = cfg.AnalyzeInterval
	acfg.Quality = cfg.JPEGQuality
	analyzer := insight.NewAnalyzer(model, acfg, m)

	deps := dashboard.Deps{Camera: cam, Analyzer: analyzer, Metrics: m}
	var peers *webrtc.Server
	if enableWebRTC {
		peers = webrtc.NewServer(cfg.STUNServers, cfg.MaxWebRTCClients, m)
		deps.Peers = peers
	}

	server, err := dashboard.NewServer(cfg, deps)
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Handler(),
	}
	defer func() {
		err = multierr.Append(err, server.Close())
		if peers != nil {
			err = multierr.Append(err, peers.Close())
		}
		logger.Info("Main", "Shutdown complete")
	}()

	if cfg.Simulate {
		sim := simulator.New(server, simulator.Config{Interval: cfg.SimInterval})
		g.Go(func() error { return sim.Run(ctx) })
	}
	if cfg.DropDir != "" {
		w, err := feed.NewWatcher(cfg.DropDir, server)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
	}

	g.Go(func() error {
		logger.Info("Main", "Edge dashboard listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Main", "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
