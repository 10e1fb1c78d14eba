package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"kotakwatch/internal/alert"
	"kotakwatch/internal/auth"
	"kotakwatch/internal/config"
	"kotakwatch/internal/database"
	"kotakwatch/internal/detection"
	"kotakwatch/internal/logging"
	"kotakwatch/internal/metrics"
	"kotakwatch/internal/middleware"
	"kotakwatch/internal/pipeline"
	"kotakwatch/internal/presence"
	"kotakwatch/internal/roi"
	"kotakwatch/internal/services"
	"kotakwatch/internal/telegram"
	"kotakwatch/internal/ws"
)

func main() {
	// Define command line flags, add any other flag required to configure the
	// service.
	var (
		hostF     = flag.String("host", "", "HTTP host (overrides HTTP_HOST)")
		httpPortF = flag.String("http-port", "", "HTTP port (overrides HTTP_PORT)")
		dbgF      = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if *hostF != "" {
		cfg.HTTPHost = *hostF
	}
	if *httpPortF != "" {
		port, err := strconv.Atoi(*httpPortF)
		if err != nil {
			logger.Error("invalid -http-port", "value", *httpPortF)
			os.Exit(1)
		}
		cfg.HTTPPort = port
	}

	db, err := database.New(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	db.SetDefaultCooldown(cfg.TelegramCooldown)

	stats := metrics.New()
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry)
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, tokens will not survive a restart")
	}
	authenticator := auth.NewAuthenticator(db, jwtManager)

	opener, err := newOpener(cfg)
	if err != nil {
		// Start reports the backend as unavailable; everything else still runs.
		logger.Error("capture backend unavailable", "backend", cfg.CaptureBackend, "error", err)
	}

	var detector detection.Detector
	if cfg.EnableDetection {
		detector, err = newDetector(cfg)
		if err != nil {
			logger.Error("detector init failed", "detector", cfg.Detector, "error", err)
			detector = nil
		}
	}
	if detector != nil {
		defer detector.Close()
	}

	bot := telegram.NewBot(telegram.Config{BotToken: cfg.TelegramToken, APIBase: cfg.TelegramAPIBase})
	var transport alert.Transport
	if bot.Enabled() {
		transport = bot
	} else {
		logger.Info("TG_TOKEN not set, alerts will not be sent")
	}
	dispatcher := alert.NewDispatcher(db, transport, alert.NewCooldownTracker())

	events := pipeline.NewEventBus()
	events.Subscribe(newAlertRecorder(db))

	deps := pipeline.Deps{
		Detector: detector,
		Filter: detection.Filter{
			ClassIDs:     cfg.TargetClassIDs,
			Labels:       cfg.TargetLabels,
			MinAreaRatio: cfg.MinAreaRatio,
		},
		InferEvery:       cfg.InferEvery,
		DetectorRequired: cfg.EnableDetection && cfg.DetectorRequired && cfg.Detector != "none",
		ROI:              roi.NewStore(cfg.ROIPath),
		Presence: presence.Config{
			Window:         cfg.MissingWindow,
			WarnThreshold:  cfg.WarnThreshold,
			AlertThreshold: cfg.AlertThreshold,
			Grace:          cfg.PresentGrace,
		},
		Opener:          opener,
		Dispatcher:      dispatcher,
		Events:          events,
		Cameras:         db,
		Metrics:         stats,
		CaptureDisabled: !cfg.EnableCapture,
	}
	ctrl := pipeline.NewController(deps)

	hub := ws.NewEventHub()
	streamAuth := &middleware.StreamAuth{EdgeKey: cfg.EdgeAPIKey, StreamToken: cfg.StreamToken, Tokens: authenticator}

	srv := services.New(services.Options{
		Controller:      ctrl,
		ROI:             deps.ROI,
		Store:           db,
		Auth:            authenticator,
		EdgeKey:         cfg.EdgeAPIKey,
		StreamToken:     cfg.StreamToken,
		Events:          ws.NewHandler(hub, streamAuth),
		Metrics:         stats,
		EnableDetection: cfg.EnableDetection,
		CaptureBackend:  cfg.CaptureBackend,
	})

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	// Setup interrupt handler. This optional step configures the process so
	// that SIGINT and SIGTERM signals cause the services to stop gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	wsEvents, unsubscribe := events.SubscribeChannel(64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx, wsEvents)
	}()

	if cfg.TelegramCommands {
		commands := telegram.NewCommandHandler(bot, db, &monitor{ctrl: ctrl})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := commands.StartPolling(ctx); err != nil {
				logger.Warn("telegram commands disabled", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				dispatcher.Cooldowns().Cleanup(24 * time.Hour)
			}
		}
	}()

	addr := net.JoinHostPort(cfg.HTTPHost, strconv.Itoa(cfg.HTTPPort))
	handleHTTPServer(ctx, addr, srv, cfg.CORSOrigins, &wg, errc, logger, *dbgF)

	// Wait for signal.
	logger.Info("exiting", "reason", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()
	ctrl.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := ctrl.Wait(shutdownCtx); err != nil {
		logger.Warn("capture worker did not stop in time", "error", err)
	}

	wg.Wait()
	unsubscribe()
	events.Close()
	hub.Close()
	logger.Info("exited")
}
