package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/callbridge/callbridge/internal/api"
	"github.com/callbridge/callbridge/internal/api/handler"
	"github.com/callbridge/callbridge/internal/api/middleware"
	"github.com/callbridge/callbridge/internal/auth"
	"github.com/callbridge/callbridge/internal/backend"
	"github.com/callbridge/callbridge/internal/callhistory"
	"github.com/callbridge/callbridge/internal/callsession"
	"github.com/callbridge/callbridge/internal/config"
	"github.com/callbridge/callbridge/internal/database"
	"github.com/callbridge/callbridge/internal/hostbridge"
	"github.com/callbridge/callbridge/internal/pushdelivery"
	"github.com/callbridge/callbridge/internal/pushtoken"
	"github.com/callbridge/callbridge/internal/resilience"
	"github.com/callbridge/callbridge/internal/status"
	"github.com/callbridge/callbridge/internal/telemetry"
)

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.App.Env).
		Msg("starting callbridge daemon")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	cfg.Telemetry.ServiceVersion = Version
	tp, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()
	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics(tp.Meter)
	if err != nil {
		return fmt.Errorf("initialize http metrics: %w", err)
	}
	callMetrics, err := callsession.NewMetrics(tp.Meter)
	if err != nil {
		return fmt.Errorf("initialize call metrics: %w", err)
	}

	// Bridge tokens
	if cfg.Auth.UsingDevKey {
		log.Warn().Msg("using default bridge signing key - not secure for production")
	}
	tokens, err := auth.NewTokenService(auth.DefaultTokenConfig(cfg.Auth.SigningKey))
	if err != nil {
		return fmt.Errorf("initialize bridge tokens: %w", err)
	}

	checks := map[string]handler.CheckFunc{}

	// Push token store
	tokenRepo, err := pushtoken.OpenSQLiteRepository(ctx, cfg.Token.DBPath)
	if err != nil {
		return fmt.Errorf("open push token store: %w", err)
	}
	defer func() {
		if err := tokenRepo.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close push token store")
		}
	}()
	checks["token_store"] = tokenStoreCheck(tokenRepo)
	log.Info().Str("path", cfg.Token.DBPath).Msg("push token store opened")

	// Call history
	history, pool, err := openHistory(ctx, cfg, log)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		checks["database"] = database.Check(pool)
	}

	// Command executors
	commands := resilience.NewRegistry()
	newExecutor := func(ec resilience.ExecutorConfig) *resilience.Executor {
		ec.Registry = commands
		return resilience.NewExecutor(ec)
	}

	// Status signals
	publisher := status.NewPublisher(log.With().Str("component", "status").Logger(), 0)

	// Host bridge: native call UI and calling backend SDK
	bridge := hostbridge.New(hostbridge.Config{
		Logger:       log.With().Str("component", "hostbridge").Logger(),
		TokenTimeout: cfg.Backend.CommandTimeout,
		CallExecutor: newExecutor(resilience.SingleAttemptConfig("backend.call")),
	})

	tracker := pushtoken.NewTracker(pushtoken.TrackerConfig{
		Repository: tokenRepo,
		Registrar:  backend.NewRegistrar(bridge, newExecutor(resilience.SingleAttemptConfig("backend.token"))),
		Logger:     log.With().Str("component", "pushtoken").Logger(),
	})

	manager := backend.NewManager(backend.ManagerConfig{
		Client:         bridge,
		Tracker:        tracker,
		Status:         publisher,
		Credentials:    backend.Credentials{Token: cfg.Backend.JWT},
		Executor:       newExecutor(resilience.DefaultExecutorConfig("backend.session")),
		CommandTimeout: cfg.Backend.CommandTimeout,
		Logger:         log.With().Str("component", "backend").Logger(),
	})

	if cfg.Backend.JWT == "" {
		log.Warn().Msg("BACKEND_JWT not set - backend login will be rejected")
	}

	parser := callsession.DefaultPayloadParser()
	parser.CallerPath = cfg.Call.CallerNamePath

	coord, err := callsession.New(callsession.Config{
		Native:                 bridge,
		Forwarder:              manager,
		Status:                 publisher,
		Recorder:               history,
		Metrics:                callMetrics,
		Parser:                 parser,
		Logger:                 log.With().Str("component", "callsession").Logger(),
		RequireAudioActivation: cfg.Call.RequireAudioActivation,
		EndTimeout:             cfg.Call.EndTimeout,
		CommandTimeout:         cfg.Call.ReportTimeout,
		TombstoneTTL:           cfg.Call.TombstoneTTL,
	})
	if err != nil {
		return fmt.Errorf("create call coordinator: %w", err)
	}

	manager.Attach(coord)
	bridge.Attach(coord, manager)

	statusCh, unsubscribe := publisher.Subscribe()
	defer unsubscribe()
	go bridge.ForwardStatus(ctx, statusCh)

	// Optional Pub/Sub push delivery
	if cfg.Push.Enabled() {
		subscriber, err := pushdelivery.NewSubscriber(ctx, pushdelivery.Config{
			ProjectID:        cfg.Push.ProjectID,
			SubscriptionName: cfg.Push.Subscription,
			Sink:             coord,
			MaxAge:           cfg.Push.MaxAge,
			Logger:           log.With().Str("component", "pushdelivery").Logger(),
		})
		if err != nil {
			return fmt.Errorf("create push subscriber: %w", err)
		}
		defer func() {
			if err := subscriber.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close push subscriber")
			}
		}()
		go func() {
			if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("push subscriber stopped")
			}
		}()
	} else {
		log.Info().Msg("push delivery not configured, expecting pushes over the bridge")
	}

	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: config.ServiceName,
		Metrics:     httpMetrics,
		RequireTLS:  cfg.App.RequireTLS,
		Tokens:      tokens,
		Sessions:    coord,
		Connection:  manager,
		Bridge:      bridge,
		PushTokens:  manager,
		TokenStore:  tracker,
		History:     history,
		Checks:      checks,
		Commands:    commands,
	})

	// No WriteTimeout: the bridge websocket is long lived and manages its
	// own deadlines.
	server := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	case err := <-serverErr:
		log.Error().Err(err).Msg("server error")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	bridge.Close()
	coord.Close()
	manager.Wait()

	log.Info().Msg("server stopped")
	return nil
}

// openHistory returns the call history service and, for the postgres store,
// the pool backing it.
func openHistory(ctx context.Context, cfg config.Config, log zerolog.Logger) (*callhistory.Service, *pgxpool.Pool, error) {
	historyLog := log.With().Str("component", "callhistory").Logger()

	if cfg.History.Store != config.HistoryStorePostgres {
		log.Info().Msg("call history kept in memory")
		return callhistory.NewService(callhistory.NewInMemoryRepository(), historyLog), nil, nil
	}

	pool, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	repo := callhistory.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure call history schema: %w", err)
	}
	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("database", cfg.Database.Database).
		Msg("database connected")

	return callhistory.NewService(repo, historyLog), pool, nil
}

func tokenStoreCheck(repo pushtoken.Repository) handler.CheckFunc {
	return func(ctx context.Context) error {
		if _, err := repo.Load(ctx); err != nil && !errors.Is(err, pushtoken.ErrNoRecord) {
			return fmt.Errorf("token store: %w", err)
		}
		return nil
	}
}
