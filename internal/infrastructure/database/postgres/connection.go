package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
)

// Connection manages PostgreSQL database connection
type Connection struct {
	DB *sqlx.DB
}

// NewConnection creates a new PostgreSQL database connection
// connectionString format: "host=localhost port=5432 user=postgres dbname=gatehouse sslmode=disable"
func NewConnection(ctx context.Context, connectionString string) (*Connection, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	return &Connection{DB: db}, nil
}

// Close closes the database connection
func (c *Connection) Close() error {
	return c.DB.Close()
}

// HealthCheck pings the database
func (c *Connection) HealthCheck(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Repositories wires every PostgreSQL repository onto this connection
func (c *Connection) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Users:              NewUserRepository(c.DB),
		Credentials:        NewCredentialRepository(c.DB),
		ExternalLogins:     NewExternalLoginRepository(c.DB),
		RefreshTokens:      NewRefreshTokenRepository(c.DB),
		VerificationTokens: NewVerificationTokenRepository(c.DB),
		PasswordResets:     NewPasswordResetTokenRepository(c.DB),
		UnsubscribeTokens:  NewUnsubscribeTokenRepository(c.DB),
	}
}

// newMigrate builds a migrate instance over the postgres sub-directory of migrationFS
func (c *Connection) newMigrate(migrationFS embed.FS) (*migrate.Migrate, error) {
	postgresMigrations, err := fs.Sub(migrationFS, "postgres")
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres migrations sub-filesystem: %w", err)
	}

	source, err := iofs.New(postgresMigrations, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(c.DB.DB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations runs the database migrations using golang-migrate
func (c *Connection) RunMigrations(migrationFS embed.FS) error {
	m, err := c.newMigrate(migrationFS)
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		slog.Warn("database migration is dirty", slog.Uint64("version", uint64(version)))
		if c.isDatabaseEmpty() {
			if err := m.Force(0); err != nil {
				return fmt.Errorf("failed to force reset dirty migration: %w", err)
			}
		} else {
			if err := m.Force(int(version)); err != nil {
				return fmt.Errorf("failed to force clean dirty migration: %w", err)
			}
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// isDatabaseEmpty checks if the database has no user tables
func (c *Connection) isDatabaseEmpty() bool {
	var count int
	query := `SELECT COUNT(*) FROM information_schema.tables
              WHERE table_schema = 'public'
              AND table_name NOT IN ('schema_migrations', 'schema_migration')`
	err := c.DB.Get(&count, query)
	return err == nil && count == 0
}

// ForceMigrationVersion forces the migration version to a specific number
// This should only be used to recover from dirty migration states
func (c *Connection) ForceMigrationVersion(migrationFS embed.FS, version int) error {
	m, err := c.newMigrate(migrationFS)
	if err != nil {
		return err
	}
	if err := m.Force(version); err != nil {
		return fmt.Errorf("failed to force migration version %d: %w", version, err)
	}
	return nil
}
