package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rcm/rcm/internal/config"
	"github.com/rcm/rcm/internal/domain/claim"
	"github.com/rcm/rcm/internal/domain/remittance"
	"github.com/rcm/rcm/internal/domain/workflow"
	"github.com/rcm/rcm/internal/platform/codes"
	"github.com/rcm/rcm/internal/platform/db"
	"github.com/rcm/rcm/internal/platform/gateway"
	"github.com/rcm/rcm/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rcm-server",
		Short: "Revenue cycle workflow API server",
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
		Short: "Start the workflow API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required to run migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required to inspect migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence. Without a DATABASE_URL everything runs in memory, which
	// is what local development and the test suite use.
	var (
		pool      *pgxpool.Pool
		store     workflow.Store
		claimRepo claim.Repository
		remitRepo remittance.Repository
	)
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		store = workflow.NewStorePG(pool)
		claimRepo = claim.NewRepoPG(pool)
		remitRepo = remittance.NewRepoPG(pool)
	} else {
		logger.Warn().Msg("no DATABASE_URL configured, using in-memory stores")
		store = workflow.NewMemStore()
		claimRepo = claim.NewMemRepo()
		remitRepo = remittance.NewMemRepo()
	}

	// Payer gateway
	var gw gateway.Client
	if cfg.GatewayBaseURL != "" {
		gw = gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayToken)
	} else {
		logger.Warn().Msg("no GATEWAY_BASE_URL configured, using stub gateway")
		gw = gateway.NewStubClient()
	}
	gw = gateway.NewRateLimitedClient(gw, cfg.GatewayRateRPS, cfg.GatewayRateBurst)

	// Code lookup
	var lookup codes.Lookup
	if cfg.CodeLookupURL != "" {
		lookup = codes.NewHTTPLookup(cfg.CodeLookupURL)
	} else {
		lookup = codes.NewStaticLookup()
	}

	// Domain wiring
	remitSvc := remittance.NewService(remitRepo, claimRepo, cfg.PaymentVarianceThreshold, logger)

	handlers := workflow.NewHandlers(gw, lookup, claimRepo, claim.NewScrubber())
	orch := workflow.NewOrchestrator(store, handlers, remitSvc, workflow.Options{
		WorkerPoolSize:     cfg.WorkerPoolSize,
		MaxAttempts:        cfg.StepMaxAttempts,
		BackoffBase:        cfg.BackoffBase,
		BackoffCap:         cfg.BackoffCap,
		StatusPollInterval: cfg.StatusPollInterval,
		MaxStatusPolls:     cfg.MaxStatusPolls,
	}, logger)
	orch.StartSweeper(ctx, cfg.SweepInterval, cfg.SweepStaleAfter)

	workflowSvc := workflow.NewService(store, orch, claimRepo)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

	workflow.NewAPIHandler(workflowSvc).RegisterRoutes(apiV1)
	remittance.NewHandler(remitSvc).RegisterRoutes(apiV1)

	// Serve
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	return nil
}
