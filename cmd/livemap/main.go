package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloudradar/livemap/internal/api"
	"github.com/cloudradar/livemap/internal/config"
	"github.com/cloudradar/livemap/internal/dashboard"
	"github.com/cloudradar/livemap/internal/markers"
	"github.com/cloudradar/livemap/internal/toggle"
	"github.com/cloudradar/livemap/internal/upstream"
	"github.com/cloudradar/livemap/internal/websocket"
	"github.com/cloudradar/livemap/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting live map server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
		logger.String("upstream", cfg.Upstream.BaseURL),
	)

	if err := run(cfg, log); err != nil {
		log.Error("Server stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Server fully stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := upstream.NewClient(upstream.Config{
		BaseURL:           cfg.Upstream.BaseURL,
		FlightsPath:       cfg.Upstream.FlightsPath,
		AdminScalePath:    cfg.Upstream.AdminScalePath,
		Timeout:           cfg.Upstream.Timeout(),
		RequestsPerSecond: cfg.Upstream.RequestsPerSecond,
		Burst:             cfg.Upstream.Burst,
		ReconnectDelay:    time.Duration(cfg.Upstream.ReconnectDelaySecs) * time.Second,
		MaxReconnectDelay: time.Duration(cfg.Upstream.MaxReconnectDelaySecs) * time.Second,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create upstream client: %w", err)
	}

	wsServer := websocket.NewServer(log)

	engine, err := dashboard.NewEngine(client, wsServer, markers.NewResolver(markers.BuildIcon), dashboard.Options{
		Area:            cfg.Area,
		Limit:           cfg.Refresh.Limit,
		RefreshInterval: cfg.Refresh.Interval(),
		FrameInterval:   cfg.Refresh.FrameInterval(),
		StaleAfter:      cfg.Refresh.StaleAfter(),
		SelectionMisses: cfg.Refresh.SelectionMisses,
		DetailCacheSize: cfg.Refresh.DetailCacheSize,
		Zoom:            cfg.Markers.DefaultZoom,
		DebugHitbox:     cfg.Markers.DebugHitbox,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create live map engine: %w", err)
	}

	// The ingester switch is optional; a nil Toggle disables its routes and messages
	var (
		controller *toggle.Controller
		tgl        dashboard.Toggle
		creds      toggle.CredentialStore
	)
	toggleTimeout := time.Duration(cfg.Toggle.TimeoutSecs) * time.Second
	if cfg.Toggle.Enabled {
		memory := &toggle.MemoryCredentials{}
		if cfg.Toggle.Username != "" {
			memory.Set(toggle.Credentials{Username: cfg.Toggle.Username, Password: cfg.Toggle.Password})
		}
		creds = memory

		opts := toggle.DefaultOptions()
		opts.PollInterval = time.Duration(cfg.Toggle.PollIntervalSecs) * time.Second
		opts.Timeout = toggleTimeout
		opts.ResyncInterval = time.Duration(cfg.Toggle.ResyncIntervalSecs) * time.Second

		controller = toggle.NewController(client, creds, nil, opts, log)
		controller.OnChange(func(state toggle.State) {
			wsServer.Broadcast(dashboard.ToggleMessage(state))
		})
		tgl = controller
		// Leave room for the scale request ahead of the polling deadline
		toggleTimeout += 10 * time.Second
	} else {
		log.Info("Ingester toggle disabled in configuration")
	}

	wsHandler := dashboard.NewWebSocketHandler(engine, tgl, creds, log)
	wsServer.SetMessageHandler(wsHandler)
	wsServer.SetConnectHandler(wsHandler.HandleConnect)

	router := api.NewRouter(
		api.NewHandler(engine, tgl, creds, toggleTimeout, log),
		wsServer.HandleConnection,
		cfg.Server.CORSAllowedOrigins,
		log,
	)

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return wsServer.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	if controller != nil {
		g.Go(func() error { return controller.Run(gctx) })
	}

	g.Go(func() error {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server on %s: %w", server.Addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", logger.Error(err))
		}
		engine.Close()
		return nil
	})

	return g.Wait()
}
