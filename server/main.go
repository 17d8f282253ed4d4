package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devilmonastery/gatehouse/internal/pkg/logger"
	"github.com/devilmonastery/gatehouse/internal/ratelimit"
	"github.com/devilmonastery/gatehouse/migrations"
	"github.com/devilmonastery/gatehouse/server/internal/http/handlers"
	"github.com/devilmonastery/gatehouse/server/internal/http/session"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		forceVersion  int
		configPath    string
		logLevel      string
		logFile       string
		logToStderr   bool
		alsoLogStderr bool
		logFormat     string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Gatehouse authentication server",
		Long:  "The HTTP server for Gatehouse accounts, sessions and sign-in",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupServerLogging(logLevel, logFile, logToStderr, alsoLogStderr, logFormat)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configPath, forceVersion)
		},
	}

	cmd.Flags().IntVar(&forceVersion, "force-migration", -1, "Force migration version (use to fix dirty migration state)")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (optional)")

	// Add logging flags
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log file path (if specified, logs to file instead of stderr)")
	cmd.PersistentFlags().BoolVar(&logToStderr, "logtostderr", false, "Log to stderr (default behavior unless --log-file specified)")
	cmd.PersistentFlags().BoolVar(&alsoLogStderr, "alsologtostderr", false, "Log to both file and stderr")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format (text, json)")

	// Add subcommands
	cmd.AddCommand(newUserCommand(&configPath))
	cmd.AddCommand(newTokenCommand(&configPath))

	return cmd
}

// setupServerLogging configures the global logger for the server
func setupServerLogging(logLevel, logFile string, logToStderr, alsoLogStderr bool, logFormat string) error {
	// Default to stderr logging unless file is specified
	if logFile == "" {
		logToStderr = true
	}

	cfg := logger.Config{
		Level:         logger.ParseLevel(logLevel),
		LogFile:       logFile,
		LogToStderr:   logToStderr,
		AlsoLogStderr: alsoLogStderr,
		Format:        logFormat,
	}

	globalLogger, err := logger.SetupLogger(cfg)
	if err != nil {
		return err
	}

	// Set as default logger
	slog.SetDefault(globalLogger)

	return nil
}

func runServer(ctx context.Context, configPath string, forceVersion int) error {
	log := slog.Default().With("component", "server")
	log.Info("Starting server initialization")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Handle force migration if requested
	if forceVersion >= 0 {
		if cfg.Database.Driver == "memory" {
			return errors.New("--force-migration requires the postgres database driver")
		}
		pgConn, err := connectPostgres(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer pgConn.Close()

		log.Info("Force setting migration version", "version", forceVersion)
		if err := pgConn.ForceMigrationVersion(migrations.FS, forceVersion); err != nil {
			return fmt.Errorf("failed to force migration version: %w", err)
		}
		log.Info("Migration version forced, exiting", "version", forceVersion)
		return nil
	}

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var sessions *session.Manager
	if cfg.Auth.RefreshCookie.Enabled {
		sessions = session.NewManager([]byte(cfg.Auth.RefreshCookie.Secret), cfg.Auth.RefreshTokenTTL, cfg.Auth.RefreshCookie.Secure)
		log.Info("Refresh cookie enabled", "secure", cfg.Auth.RefreshCookie.Secure)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Handler:           handlers.New(a.svc, sessions),
		Verifier:          a.svc,
		Limiter:           ratelimit.New(a.ephemeral),
		RateLimits:        cfg.RateLimits,
		TrustForwardedFor: cfg.HTTP.TrustForwardedFor,
		Readiness:         a.readiness,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting",
			"address", srv.Addr,
			"environment", cfg.Environment,
			"database", cfg.Database.Driver,
			"ephemeral", cfg.Ephemeral.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve HTTP: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server", "timeout", cfg.HTTP.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	log.Info("HTTP server stopped")
	return nil
}
