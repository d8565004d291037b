package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/auth"
	"parking-service/internal/config"
	"parking-service/internal/db"
	"parking-service/internal/gate"
	httphandler "parking-service/internal/http"
	"parking-service/internal/http/middleware"
	"parking-service/internal/logger"
	"parking-service/internal/notify"
	"parking-service/internal/recognizer"
	"parking-service/internal/repository"
	"parking-service/internal/service"
	"parking-service/internal/slots"
	"parking-service/internal/storage"
	"parking-service/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment, cfg.LogLevel)

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}

	strategy, err := slots.ParseStrategy(cfg.Parking.SlotStrategy)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("invalid slot strategy")
	}

	// Шлагбаум: без платы на последовательном порту сервис продолжает работать
	controller, closeGate := openGate(cfg.Gate, appLogger)
	cycler := gate.NewCycler(controller, cfg.Gate.HoldDuration, appLogger)

	hub := notify.NewHub()
	parkingRepo := repository.NewParkingRepository(database)
	parkingService := service.NewParkingService(
		parkingRepo,
		tracker.New(cfg.Parking.DebounceWindow),
		strategy,
		cycler,
		hub,
		service.Options{
			DefaultCameraID:    cfg.Camera.ID,
			EnforcePlateFormat: cfg.Parking.EnforcePlateFormat,
		},
		appLogger,
	)

	// Initialize R2 client (optional, won't fail if not configured)
	r2Client, err := storage.NewR2ClientFromEnv()
	if err != nil && !errors.Is(err, storage.ErrNotConfigured) {
		appLogger.Fatal().Err(err).Msg("failed to initialize R2 client")
	}
	if err != nil {
		appLogger.Warn().Msg("R2 storage not configured, snapshot uploads will be disabled")
	}

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)

	handler := httphandler.NewHandler(parkingService, hub, cfg, appLogger, r2Client)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment, database, appLogger)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	runWorker := func(fn func(ctx context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			fn(workerCtx)
		}()
	}

	runWorker(cycler.Run)
	runWorker(func(ctx context.Context) {
		parkingService.RunMaintenance(ctx, cfg.Parking.JanitorInterval, cfg.Parking.EventRetentionDays)
	})

	runner := recognizer.NewRunner(parkingService, appLogger, recognizerSources(cfg, appLogger)...)
	if runner.Sources() > 0 {
		runWorker(runner.Run)
	} else {
		appLogger.Info().Msg("no recognizer configured, accepting plate reads over HTTP only")
	}

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	appLogger.Info().
		Str("addr", addr).
		Int("slots", cfg.Parking.SlotCount).
		Str("strategy", strategy.Name()).
		Msg("starting parking service")

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown ждёт активные запросы, поэтому SSE-потоки панели закрываются через hub
	srv.RegisterOnShutdown(hub.Close)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error().Err(err).Msg("failed to start server")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error().Err(err).Msg("server forced to shutdown")
	}
	stopWorkers()
	workers.Wait()

	closeGate()
	if err := db.Close(database); err != nil {
		appLogger.Error().Err(err).Msg("failed to close database")
	}

	appLogger.Info().Msg("server exited")
}

func openGate(cfg config.GateConfig, log zerolog.Logger) (gate.Controller, func()) {
	if cfg.SerialPort == "" {
		log.Warn().Msg("GATE_SERIAL_PORT not set, gate commands will only be logged")
		return gate.NewNoopController(log), func() {}
	}

	serialGate, err := gate.OpenSerial(cfg.SerialPort, cfg.BaudRate, log)
	if err != nil {
		log.Error().Err(err).Str("port", cfg.SerialPort).Msg("failed to open gate port, gate commands will only be logged")
		return gate.NewNoopController(log), func() {}
	}

	return serialGate, func() {
		if err := serialGate.Shutdown(); err != nil {
			log.Error().Err(err).Msg("failed to close gate port")
		}
	}
}

func recognizerSources(cfg *config.Config, log zerolog.Logger) []recognizer.Source {
	var sources []recognizer.Source
	if cfg.ALPR.Command != "" && cfg.ALPR.Stream != "" {
		sources = append(sources, recognizer.NewALPRSource(recognizer.ALPRConfig{
			Command:       cfg.ALPR.Command,
			Stream:        cfg.ALPR.Stream,
			Country:       cfg.ALPR.Country,
			MinConfidence: cfg.ALPR.MinConfidence,
			CameraID:      cfg.Camera.ID,
		}, log))
	}
	if cfg.ONVIF.URL != "" {
		sources = append(sources, recognizer.NewONVIFSource(recognizer.ONVIFConfig{
			URL:      cfg.ONVIF.URL,
			Username: cfg.ONVIF.Username,
			Password: cfg.ONVIF.Password,
			CameraID: cfg.Camera.ID,
		}, nil, log))
	}
	return sources
}
