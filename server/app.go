package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/devilmonastery/gatehouse/internal/auth"
	"github.com/devilmonastery/gatehouse/internal/auth/oidc"
	"github.com/devilmonastery/gatehouse/internal/config"
	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
	"github.com/devilmonastery/gatehouse/internal/domain/services"
	"github.com/devilmonastery/gatehouse/internal/email"
	memcache "github.com/devilmonastery/gatehouse/internal/infrastructure/cache/memory"
	rediscache "github.com/devilmonastery/gatehouse/internal/infrastructure/cache/redis"
	"github.com/devilmonastery/gatehouse/internal/infrastructure/database/memory"
	"github.com/devilmonastery/gatehouse/internal/infrastructure/database/postgres"
	"github.com/devilmonastery/gatehouse/internal/pkg/idgen"
	"github.com/devilmonastery/gatehouse/migrations"
	"github.com/devilmonastery/gatehouse/server/internal/http/handlers"
)

const productName = "Gatehouse"

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// app holds the wired dependencies shared by serve and the admin commands
type app struct {
	cfg       *config.Config
	repos     *repositories.Repositories
	ephemeral repositories.EphemeralStore
	svc       *services.AuthService
	mailer    *services.Mailer
	readiness []handlers.ReadinessCheck
	closers   []func() error
}

// loadConfig reads configuration and initializes the ID generator
func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := idgen.Initialize(cfg.NodeID); err != nil {
		return nil, fmt.Errorf("failed to initialize ID generator: %w", err)
	}
	return cfg, nil
}

// newApp connects storage and builds the auth service. withEphemeral selects
// the configured ephemeral store; admin commands never touch OAuth state or
// rate counters and run with an in-process one.
func newApp(ctx context.Context, cfg *config.Config, withEphemeral bool) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.openDatabase(ctx); err != nil {
		return nil, err
	}
	if withEphemeral {
		if err := a.openEphemeral(ctx); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		a.ephemeral = memcache.NewStore()
	}
	if err := a.buildService(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openDatabase(ctx context.Context) error {
	log := slog.Default().With(slog.String("component", "server"))

	if a.cfg.Database.Driver == "memory" {
		log.Warn("Using in-memory database; all data is lost on exit")
		db := memory.New()
		a.repos = db.Repositories()
		a.readiness = append(a.readiness, handlers.ReadinessCheck{Name: "database", Check: db.HealthCheck})
		return nil
	}

	log.Info("Initializing PostgreSQL database",
		"user", a.cfg.Database.Postgres.User,
		"host", a.cfg.Database.Postgres.Host,
		"database", a.cfg.Database.Postgres.Database)

	pgConn, err := connectPostgres(ctx, a.cfg, log)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, pgConn.Close)

	if err := pgConn.RunMigrations(migrations.FS); err != nil {
		return fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
	}

	a.repos = pgConn.Repositories()
	a.readiness = append(a.readiness, handlers.ReadinessCheck{Name: "database", Check: pgConn.HealthCheck})
	return nil
}

// connectPostgres connects with exponential backoff, since the database may
// start after us
func connectPostgres(ctx context.Context, cfg *config.Config, log *slog.Logger) (*postgres.Connection, error) {
	connString := cfg.Database.Postgres.ConnectionString()
	maxRetries := 10
	retryDelay := 2 * time.Second

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		pgConn, err := postgres.NewConnection(ctx, connString)
		if err == nil {
			log.Info("Successfully connected to PostgreSQL")
			return pgConn, nil
		}
		lastErr = err

		if i == maxRetries-1 {
			break
		}
		log.Warn("Failed to connect to PostgreSQL",
			"attempt", i+1,
			"max_retries", maxRetries,
			"error", err,
			"retry_delay", retryDelay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
		retryDelay = min(retryDelay*2, 30*time.Second)
	}
	return nil, fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", maxRetries, lastErr)
}

func (a *app) openEphemeral(ctx context.Context) error {
	log := slog.Default().With(slog.String("component", "server"))

	var store interface {
		repositories.EphemeralStore
		healthChecker
	}
	switch a.cfg.Ephemeral.Driver {
	case "memory":
		log.Warn("Using in-process ephemeral store; rate limits and OAuth state are not shared between instances")
		store = memcache.NewStore()
	default:
		client, err := rediscache.Connect(ctx, a.cfg.Ephemeral.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info("Connected to Redis")
		a.closers = append(a.closers, client.Close)
		store = rediscache.NewStore(client, a.cfg.Ephemeral.Redis.KeyPrefix)
	}

	a.ephemeral = store
	a.readiness = append(a.readiness, handlers.ReadinessCheck{Name: "ephemeral", Check: store.HealthCheck})
	return nil
}

func (a *app) buildService() error {
	cfg := a.cfg

	hasher, err := services.NewPasswordHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to initialize password hasher: %w", err)
	}
	renderer, err := email.NewRenderer(productName)
	if err != nil {
		return fmt.Errorf("failed to load email templates: %w", err)
	}
	sender, err := email.NewSender(cfg.Email)
	if err != nil {
		return fmt.Errorf("failed to initialize email sender: %w", err)
	}
	providers, err := oidc.NewRegistryFromConfig(cfg.Auth.Providers, cfg.HTTP.PublicBaseURL, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return fmt.Errorf("failed to initialize identity providers: %w", err)
	}
	slog.Info("Identity providers configured", "providers", providers.List())

	a.mailer = services.NewMailer(sender, renderer)
	a.svc = services.NewAuthService(services.Dependencies{
		Repositories: a.repos,
		Ephemeral:    a.ephemeral,
		JWT:          auth.NewJWTManager(cfg.Auth.JWT.SigningKey, cfg.Auth.JWT.Lifetime, cfg.Auth.JWT.Issuer),
		Hasher:       hasher,
		Mailer:       a.mailer,
		Providers:    providers,
	}, services.ConfigFrom(cfg))
	return nil
}

// Close waits for queued email and releases connections
func (a *app) Close() {
	if a.mailer != nil {
		a.mailer.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("failed to close resource", "error", err)
		}
	}
}
