package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/utafrali/identity/internal/auth"
	"github.com/utafrali/identity/internal/config"
	"github.com/utafrali/identity/internal/event"
	identityhttp "github.com/utafrali/identity/internal/handler/http"
	"github.com/utafrali/identity/internal/repository/postgres"
	"github.com/utafrali/identity/internal/service"
	"github.com/utafrali/identity/internal/social"
	"github.com/utafrali/identity/migrations"
	"github.com/utafrali/identity/pkg/clock"
	"github.com/utafrali/identity/pkg/database"
	"github.com/utafrali/identity/pkg/health"
	"github.com/utafrali/identity/pkg/httpclient"
	"github.com/utafrali/identity/pkg/kafka"
	"github.com/utafrali/identity/pkg/tracing"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 120 * time.Second
	shutdownTimeout   = 15 * time.Second

	profileFetchTimeout = 10 * time.Second
)

// App owns the wired service graph and its lifecycle.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	pool     *pgxpool.Pool
	producer *kafka.Producer
	svc      *service.IdentityService
	server   *http.Server

	shutdownTracing func(context.Context) error
}

// New wires the application: database, messaging, tracing, the identity
// service, and the HTTP server.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	shutdownTracing, err := tracing.InitTracer(ctx, cfg.Tracing(version))
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	var producer *kafka.Producer
	if cfg.KafkaEnabled {
		producer = kafka.NewProducer(kafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	}

	clk := clock.System()
	connections := postgres.NewConnectionRepository(pool)
	svc := service.New(
		postgres.NewTxManager(pool),
		connections,
		auth.NewHasher(),
		auth.NewSessionManager(clk),
		clk,
		event.NewPublisher(producer, logger),
		logger,
	)

	providers := map[string]*social.ProfileClient{
		"facebook": social.NewProfileClient(
			httpclient.New(httpclient.DefaultCircuitBreakerConfig("facebook-userinfo"), profileFetchTimeout, logger),
			cfg.FacebookUserInfoURL,
		),
		"google": social.NewProfileClient(
			httpclient.New(httpclient.DefaultCircuitBreakerConfig("google-userinfo"), profileFetchTimeout, logger),
			cfg.GoogleUserInfoURL,
		),
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if producer != nil {
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
	}

	handler := identityhttp.NewHandler(svc, connections, providers, cfg.SessionStaleness(), logger)
	router := identityhttp.NewRouter(handler, healthHandler, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	return &App{
		cfg:             cfg,
		logger:          logger,
		pool:            pool,
		producer:        producer,
		svc:             svc,
		server:          server,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Run serves HTTP and runs the session sweeper until ctx is cancelled, then
// shuts everything down in order.
func (a *App) Run(ctx context.Context) error {
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		a.runSweeper(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	<-sweeperDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka close failed", slog.String("error", err.Error()))
		}
	}
	a.pool.Close()
	if err := a.shutdownTracing(shutdownCtx); err != nil {
		a.logger.Error("tracing shutdown failed", slog.String("error", err.Error()))
	}

	return nil
}

// runSweeper removes expired sessions on a fixed interval. A failed sweep is
// logged and retried on the next tick.
func (a *App) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			affected, err := a.svc.SweepExpiredSessions(ctx, a.cfg.SessionStaleness())
			if err != nil {
				a.logger.Error("session sweep failed", slog.String("error", err.Error()))
				continue
			}
			if affected > 0 {
				a.logger.Info("session sweep completed", slog.Int("users_affected", affected))
			}
		}
	}
}
