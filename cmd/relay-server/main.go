package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/AgendaPerfeita/docpilot-health-nexus-sub003/internal/config"
	"github.com/AgendaPerfeita/docpilot-health-nexus-sub003/internal/platform/audit"
	"github.com/AgendaPerfeita/docpilot-health-nexus-sub003/internal/platform/db"
	"github.com/AgendaPerfeita/docpilot-health-nexus-sub003/internal/platform/ice"
	"github.com/AgendaPerfeita/docpilot-health-nexus-sub003/internal/platform/metrics"
	"github.com/AgendaPerfeita/docpilot-health-nexus-sub003/internal/platform/middleware"
	"github.com/AgendaPerfeita/docpilot-health-nexus-sub003/internal/platform/signaling"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "relay-server",
		Short: "SmartDoc telemedicine WebRTC signaling relay",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the signaling relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the session audit schema",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			migrator, closePool, err := openMigrator(ctx, dir)
			if err != nil {
				return err
			}
			defer closePool()

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Path to a migrations directory (defaults to the built-in migrations)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			migrator, closePool, err := openMigrator(ctx, dir)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-45s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-45s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Path to a migrations directory (defaults to the built-in migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func openMigrator(ctx context.Context, dir string) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.HasDatabase() {
		return nil, nil, fmt.Errorf("DATABASE_URL is required for migrations")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}

	var files fs.FS = db.Migrations()
	if dir != "" {
		files = os.DirFS(dir)
	}
	return db.NewMigrator(pool, files), pool.Close, nil
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	iceServers, err := ice.Servers(ice.Config{
		STUNServers:    cfg.STUNServers,
		TURNURLs:       cfg.TURNURLs,
		TURNUsername:   cfg.TURNUsername,
		TURNCredential: cfg.TURNCredential,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid ICE server configuration")
	}

	m := metrics.New()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	// The sink outlives the relay so that shutdown leave events are written.
	auditCtx, stopAudit := context.WithCancel(context.Background())
	defer stopAudit()

	// Attendance audit
	var (
		pool     *pgxpool.Pool
		recorder audit.Recorder = audit.Nop{}
		sinkDone = make(chan struct{})
	)
	if cfg.HasDatabase() {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		sink := audit.NewSink(audit.NewPGStore(pool), cfg.AuditQueueSize, logger, m)
		recorder = sink
		go func() {
			sink.Run(auditCtx)
			close(sinkDone)
		}()
	} else {
		logger.Warn().Msg("DATABASE_URL not set, session audit disabled")
		close(sinkDone)
	}

	// Relay
	relay := signaling.NewRelay(logger, m, recorder)
	relayDone := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(relayDone)
	}()

	opts := signaling.Options{
		Path:            cfg.RelayPath,
		SendBuffer:      cfg.RelaySendBuffer,
		MaxMessageBytes: cfg.RelayMaxMessageBytes,
		WriteWait:       cfg.RelayWriteWait,
		PongWait:        cfg.RelayPongWait,
	}
	e := newServer(cfg, logger, relay, opts, m, pool, iceServers)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("path", opts.Path).Bool("tls", cfg.TLSEnabled).Msg("starting signaling relay")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	// Hijacked signaling sockets are not tracked by the HTTP server; stopping
	// the relay closes them.
	stop()
	<-relayDone
	stopAudit()
	<-sinkDone

	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires middleware and routes. pool may be nil when the audit
// trail is disabled.
func newServer(cfg *config.Config, logger zerolog.Logger, relay *signaling.Relay, opts signaling.Options,
	m *metrics.Metrics, pool *pgxpool.Pool, iceServers []webrtc.ICEServer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"version":     version,
			"connections": m.Gauge(metrics.OpenConnections),
			"rooms":       m.Gauge(metrics.ActiveRooms),
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", m.PrometheusHandler())
	e.Match([]string{http.MethodGet, http.MethodOptions}, "/ice-servers", ice.Handler(iceServers), signaling.CORS())

	signaling.NewHandler(relay, opts, logger).RegisterRoutes(e.Group(""))

	return e
}
