package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/internal/core/services"
	httphandlers "callmesh/internal/handlers/http"
	"callmesh/internal/infrastructure/dispatch"
	"callmesh/internal/infrastructure/display"
	"callmesh/internal/infrastructure/distributed"
	"callmesh/internal/infrastructure/media"
	"callmesh/internal/infrastructure/middleware"
	"callmesh/internal/infrastructure/monitoring"
	signalsrv "callmesh/internal/infrastructure/signal"
	"callmesh/pkg/config"
	"callmesh/pkg/logger"
	"callmesh/pkg/tracing"
	"callmesh/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/callmesh/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	if cfg.Tracing.Enabled {
		tracerProvider, err := tracing.Init(tracing.Config{
			ServiceName: cfg.Tracing.ServiceName,
			JaegerURL:   cfg.Tracing.JaegerURL,
			Environment: cfg.Tracing.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
			Enabled:     true,
		})
		if err != nil {
			log.Fatalw("failed to initialize tracing", "error", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(ctx); err != nil {
				log.Errorw("error shutting down tracer provider", "error", err)
			}
		}()
		log.Info("Tracing enabled")
	}

	// Optional redis mirror for applied registry events
	var eventMirror *distributed.EventMirror
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalw("failed to connect to redis", "address", cfg.Redis.Address, "error", err)
		}
		cancel()
		defer redisClient.Close()

		instanceID := utils.GenerateInstanceID()
		eventMirror = distributed.NewEventMirror(
			redisClient,
			instanceID,
			cfg.Redis.Channel,
			logger.WithComponent(zapLogger, "event_mirror"),
		)
		defer eventMirror.Close()
		log.Infow("Redis event mirror enabled", "channel", cfg.Redis.Channel, "instance_id", instanceID)
	}

	// Monitoring
	var collector *monitoring.RegistryCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewRegistryCollector()
	}

	// Display provider for stream previews
	displayProvider := display.NewHTTPDisplayProvider(
		cfg.Display.BaseURL,
		cfg.Display.MaxHandles,
		logger.WithComponent(zapLogger, "display"),
	)
	defer displayProvider.Close()

	// Core reducer and the dispatch loop that serializes events onto it
	reducer := services.NewStreamRegistryReducer(
		displayProvider,
		logger.WithComponent(zapLogger, "reducer"),
	)

	var sink ports.EventSink
	if eventMirror != nil {
		sink = eventMirror
	}

	dispatcher := dispatch.NewDispatcher(
		reducer,
		sink,
		collector,
		logger.WithComponent(zapLogger, "dispatch"),
		cfg.Dispatch.QueueSize,
	)

	if collector != nil {
		dispatcher.Subscribe(func(state *domain.Registry) {
			collector.SetActivePreviews(displayProvider.ActiveHandles())
		})
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	dispatcher.Start(runCtx)
	defer dispatcher.Close()

	if eventMirror != nil {
		go func() {
			err := eventMirror.Subscribe(runCtx, func(ev *distributed.WireEvent) error {
				log.Debugw("sibling registry event",
					"kind", ev.Kind,
					"participant_id", ev.ParticipantID,
					"instance_id", ev.InstanceID,
				)
				return nil
			})
			if err != nil && runCtx.Err() == nil {
				log.Warnw("event mirror subscription ended", "error", err)
			}
		}()
	}

	// Auth and media session management
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	sessionManager, err := media.NewSessionManager(
		cfg,
		dispatcher,
		logger.WithComponent(zapLogger, "media"),
	)
	if err != nil {
		log.Fatalw("failed to create session manager", "error", err)
	}
	defer sessionManager.CloseAll()

	// Signaling server on its own listener
	wsServer := signalsrv.NewWebSocketServer(
		cfg,
		authService,
		sessionManager,
		dispatcher,
		logger.WithComponent(zapLogger, "signal"),
	)

	signalMux := http.NewServeMux()
	signalMux.HandleFunc("/ws", wsServer.HandleWebSocket)
	signalMux.HandleFunc("/health", wsServer.HealthCheck)

	signalServer := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: signalMux,
	}

	// HTTP API
	authHandler := httphandlers.NewAuthHandler(authService, cfg.Auth.TokenTTL)
	registryHandler := httphandlers.NewRegistryHandler(dispatcher, displayProvider)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(logger.WithComponent(zapLogger, "http")))
	router.Use(middleware.ErrorHandlerMiddleware(logger.WithComponent(zapLogger, "http")))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	authHandler.SetupRoutes(router)
	registryHandler.SetupRoutes(router, middleware.AuthMiddleware(authService))

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Infof("Starting CallMesh API server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	go func() {
		log.Infof("Starting CallMesh signaling server on %s", cfg.Signal.Address)
		if err := signalServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down CallMesh...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := signalServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during signaling server shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during API server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	// Tear down any remaining call state so tracks and previews are released.
	if err := dispatcher.Dispatch(context.Background(), domain.Event{Kind: domain.EventCallEnded}); err != nil {
		log.Warnw("failed to dispatch final call end", "error", err)
	}
	dispatcher.Close()

	log.Infow("CallMesh stopped", "uptime", time.Since(startTime).String())
}
