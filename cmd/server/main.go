package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/config"
	"github.com/stanstork/herald/internal/handlers"
	"github.com/stanstork/herald/internal/identity"
	"github.com/stanstork/herald/internal/middleware"
	"github.com/stanstork/herald/internal/migration"
	"github.com/stanstork/herald/internal/notification"
	"github.com/stanstork/herald/internal/realtime"
	"github.com/stanstork/herald/internal/repository"
	"github.com/stanstork/herald/internal/routes"
	"github.com/stanstork/herald/internal/scheduler"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config        *config.Config
	db            *sql.DB
	logger        zerolog.Logger
	registry      *realtime.Registry
	notifications notification.Service
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		logger.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, using info")
	}

	app := &application{config: cfg, logger: logger}

	repo := app.openStore()
	if app.db != nil {
		defer app.db.Close()
	}

	verifier := identity.NewVerifier(cfg, logger)
	app.registry = realtime.NewRegistry(verifier, cfg.Realtime.SendBuffer, logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	app.notifications = notification.NewService(
		repo,
		nil,
		app.registry,
		logger,
		notification.Options{
			MaxRetries:     cfg.Delivery.MaxRetries,
			ChannelTimeout: cfg.Delivery.ChannelTimeout,
			BatchSize:      cfg.Scheduler.BatchSize,
		},
		app.initSenders(ctx)...,
	)

	// Periodic dispatch, retry and expiry sweeps.
	sched := scheduler.New(app.notifications, cfg.Scheduler, logger)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("Scheduler exited with error")
		}
	}()

	// Initialize the HTTP router and middleware.
	router := app.initRouter(logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, logger)

	stop()
	<-schedDone
	logger.Info().Msg("Application terminated.")
}

// openStore connects to Postgres and migrates it. Without a database URL the
// in-memory store is used and nothing survives a restart.
func (app *application) openStore() repository.NotificationRepository {
	if app.config.DatabaseURL == "" {
		app.logger.Warn().Msg("No database_url configured, using in-memory notification store")
		return repository.NewMemoryRepository()
	}

	db, err := sql.Open("postgres", app.config.DatabaseURL)
	if err != nil {
		app.logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	if err := db.Ping(); err != nil {
		app.logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	if err := migration.RunMigrations(db, app.logger); err != nil {
		app.logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	app.db = db
	return repository.NewNotificationRepository(db)
}

// initSenders builds one sender per configured channel. Channels left out
// report themselves as not configured.
func (app *application) initSenders(ctx context.Context) []notification.Sender {
	cfg := app.config
	logger := app.logger
	directory := notification.NewStaticDirectory(cfg.Contacts)

	senders := []notification.Sender{notification.NewInAppSender(app.registry, logger)}

	transport, err := notification.NewMailTransport(cfg)
	switch {
	case err != nil:
		logger.Error().Err(err).Msg("Email channel disabled")
	case transport != nil:
		senders = append(senders, notification.NewEmailSender(transport, directory, logger))
	}

	if cfg.SMSEnabled() {
		gateway, err := notification.NewTwilioGateway(cfg.SMS)
		if err != nil {
			logger.Error().Err(err).Msg("SMS channel disabled")
		} else {
			senders = append(senders, notification.NewSMSSender(gateway, directory, logger))
		}
	}

	if cfg.PushEnabled() {
		gateway, err := notification.NewFirebaseGateway(ctx, cfg.Push)
		if err != nil {
			logger.Error().Err(err).Msg("Push channel disabled")
		} else {
			senders = append(senders, notification.NewPushSender(gateway, cfg.Push.BroadcastTopic, logger))
		}
	}

	for _, s := range senders {
		logger.Info().Str("channel", string(s.Channel())).Msg("Channel enabled")
	}
	return senders
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	rt := app.config.Realtime
	ws := realtime.NewServer(app.registry, realtime.ServerOptions{
		AllowedOrigins:    app.config.AllowedOrigins,
		PingInterval:      rt.PingInterval,
		MessagesPerSecond: rt.MessagesPerSecond,
		Burst:             rt.Burst,
	}, logger)

	return routes.NewRouter(routes.Handlers{
		Notifications: handlers.NewNotificationHandler(app.notifications, app.registry, logger),
		Events:        handlers.NewEventHandler(app.notifications, app.registry, logger),
		Health:        handlers.NewHealthHandler(app.notifications, app.registry, logger),
		Realtime:      ws,
	})
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:              ":" + app.config.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server. Hijacked websocket connections
	// are not tracked by Shutdown, so they are closed explicitly.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	closed := app.registry.CloseAll()
	logger.Info().Int("connections", closed).Msg("Realtime connections closed.")
}
