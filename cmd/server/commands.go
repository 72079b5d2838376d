package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/securyflex/payment-engine/api"
	"github.com/securyflex/payment-engine/config"
	"github.com/securyflex/payment-engine/partner"
	"github.com/securyflex/payment-engine/payment"
	"github.com/securyflex/payment-engine/scenarios"
)

const shutdownTimeout = 30 * time.Second

type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "server",
		Short:         "SecuryFlex payment orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a TOML config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	return cmd
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQuietly(logger, "store", st)

	client := partner.NewClient(cfg.PartnerBaseURL, cfg.PartnerAPIKey,
		partner.WithTimeout(cfg.PartnerTimeout.Duration))

	engine := payment.NewEngine(st, client, payment.Options{
		PartnerTimeout: cfg.PartnerTimeout.Duration,
		MaxBatchSize:   cfg.MaxBatchSize,
		Logger:         logger,
	})

	handler := api.NewHandler(engine, logger)
	handler.Store = st

	if cfg.RateLimitEnabled() {
		limiter, rdb := newLimiter(ctx, cfg, logger)
		defer closeQuietly(logger, "redis", rdb)
		handler.Limiter = limiter
	}

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.CORSOrigins}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "store", cfg.StoreDriver,
			"rate_limit", cfg.RateLimitEnabled())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// =============================================================================
// MIGRATE
// =============================================================================

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if err := cfg.ValidateStore(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger := newLogger(cfg.LogLevel)

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeQuietly(logger, "store", st)

			logger.Info("schema up to date", "store", cfg.StoreDriver)
			return nil
		},
	}
}

// =============================================================================
// STATUS
// =============================================================================

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a job's payment status as JSON",
		Long: `Print every transaction for a job with counts per status and totals.

Reads committed state straight from the store. Use it before re-running a
batch to see which records are already billed or paid.

Example:
  server status --job job-42
  SQLITE_PATH=/var/lib/payments.db server status --job job-42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if err := cfg.ValidateStore(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger := newLogger(cfg.LogLevel)

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeQuietly(logger, "store", st)

			status, err := payment.NewStatusReader(st).GetJobPaymentStatus(cmd.Context(), payment.JobID(jobID))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(api.ToPaymentStatusDTO(status))
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id (required)")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

// =============================================================================
// SEED
// =============================================================================

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var (
		scenarioID string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo jobs, workers and approved work hours",
		Long: `Load a demo scenario into the configured store. Loading is an upsert:
existing transactions are kept, so run it against a scratch database.

Example:
  server seed --scenario single-shift
  server seed --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var selected []scenarios.Scenario
			switch {
			case all:
				selected = scenarios.List()
			case scenarioID != "":
				s, ok := scenarios.Get(scenarioID)
				if !ok {
					return fmt.Errorf("unknown scenario %q", scenarioID)
				}
				selected = []scenarios.Scenario{s}
			default:
				return errors.New("pass --scenario <id> or --all")
			}

			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if err := cfg.ValidateStore(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger := newLogger(cfg.LogLevel)

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeQuietly(logger, "store", st)

			for _, s := range selected {
				if err := scenarios.Load(cmd.Context(), st, s); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "loaded %-20s jobs=%v owner=%s\n", s.ID, s.JobIDs(), s.OwnerID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scenarioID, "scenario", "", "scenario id")
	cmd.Flags().BoolVar(&all, "all", false, "load every scenario")
	return cmd
}
