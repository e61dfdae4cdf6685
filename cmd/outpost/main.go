// Package main is the entrypoint for the Groomwise Outpost daemon CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/groomwise/outpost/internal/api"
	"github.com/groomwise/outpost/internal/auth"
	"github.com/groomwise/outpost/internal/config"
	"github.com/groomwise/outpost/internal/connectivity"
	"github.com/groomwise/outpost/internal/httpclient"
	"github.com/groomwise/outpost/internal/hub"
	"github.com/groomwise/outpost/internal/jobs"
	"github.com/groomwise/outpost/internal/license"
	"github.com/groomwise/outpost/internal/metrics"
	"github.com/groomwise/outpost/internal/store"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "outpost",
		Short: "Groomwise Outpost - local license and offline-login daemon",
		Long: `Outpost runs next to a Groomwise installation and keeps its license
state in sync with the Groomwise Hub. It caches the verdict locally so the
shop keeps working through internet outages, within a bounded offline window,
and lets cached users sign in while the Hub is unreachable.

Run 'outpost activate' once to register this device, then 'outpost serve'.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newActivateCmd(),
		newStatusCmd(),
		newServeCmd(),
	)

	return rootCmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != "production" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Groomwise Outpost %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newActivateCmd() *cobra.Command {
	var (
		hubURL   string
		tenantID string
		planID   string
	)

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Register this device with the Groomwise Hub",
		Long: `Register this device for a tenant with the Groomwise Hub. Activation
requires connectivity; it generates this device's identity, obtains the
initial license verdict, and stores both locally.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.LoadDefault()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if hubURL != "" {
				cfg.HubURL = hubURL
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.DeviceID == "" {
				cfg.DeviceID = uuid.New().String()
			}

			db, err := store.New(cfg.DataDir, logger)
			if err != nil {
				return fmt.Errorf("open local store: %w", err)
			}
			defer db.Close()

			httpClient, err := httpclient.NewWithConfig(cfg, cfg.HubTimeout())
			if err != nil {
				return fmt.Errorf("build http client: %w", err)
			}

			hubClient := hub.NewClient(cfg.HubURL, cfg.DeviceID, httpClient, logger)
			reconciler := license.NewReconciler(db, db, cfg.OfflineMaxDays, logger)
			svc := license.NewService(hubClient, reconciler, logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			verdict, err := svc.Activate(ctx, tenantID, planID)
			if err != nil {
				switch {
				case errors.Is(err, license.ErrUnreachable):
					return fmt.Errorf("hub unreachable, activation requires connectivity: %w", err)
				case errors.Is(err, license.ErrActivationRejected):
					return fmt.Errorf("hub rejected activation for tenant %s: %w", tenantID, err)
				default:
					return err
				}
			}

			cfg.TenantID = tenantID
			if err := cfg.SaveDefault(); err != nil {
				return fmt.Errorf("persist device identity: %w", err)
			}

			fmt.Printf("Device activated for tenant %s\n", tenantID)
			fmt.Printf("  Device ID: %s\n", cfg.DeviceID)
			fmt.Printf("  Plan:      %s\n", verdict.Plan)
			fmt.Printf("  Status:    %s\n", verdict.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&hubURL, "hub-url", "", "Groomwise Hub base URL")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID to activate for")
	cmd.Flags().StringVar(&planID, "plan", "starter", "Plan to request")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cached license verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zerolog.Nop()

			cfg, err := config.LoadDefault()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.IsActivated() {
				fmt.Println("Device not activated. Run 'outpost activate' first.")
				return nil
			}

			db, err := store.New(cfg.DataDir, logger)
			if err != nil {
				return fmt.Errorf("open local store: %w", err)
			}
			defer db.Close()

			reconciler := license.NewReconciler(db, db, cfg.OfflineMaxDays, logger)
			verdict, err := reconciler.CurrentVerdict(cmd.Context(), cfg.TenantID)
			if err != nil {
				return fmt.Errorf("derive verdict: %w", err)
			}

			out, err := json.MarshalIndent(verdict, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Outpost daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	return cmd
}

func serve() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := newLogger()

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("starting outpost daemon")

	cfg, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !cfg.IsActivated() {
		logger.Warn().Msg("device not activated, only activation endpoints will succeed")
	}

	db, err := store.New(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer db.Close()

	httpClient, err := httpclient.NewWithConfig(cfg, cfg.HubTimeout())
	if err != nil {
		return fmt.Errorf("build http client: %w", err)
	}

	hubClient := hub.NewClient(cfg.HubURL, cfg.DeviceID, httpClient, logger)
	reconciler := license.NewReconciler(db, db, cfg.OfflineMaxDays, logger)
	licenseSvc := license.NewService(hubClient, reconciler, logger)

	secret, err := auth.LoadOrCreateSecret(ctx, db)
	if err != nil {
		return fmt.Errorf("init session secret: %w", err)
	}
	sessions, err := auth.NewSessions(secret, cfg.SessionTTL())
	if err != nil {
		return fmt.Errorf("init sessions: %w", err)
	}

	gate := auth.NewGate(hubClient, db, reconciler, sessions, logger)
	m := metrics.New()

	scheduler := jobs.NewScheduler(db, db, licenseSvc, jobs.Config{
		CredentialMaxAge: cfg.CredentialMaxAge(),
	}, logger)

	monitor := connectivity.NewMonitor(hubClient, connectivity.Config{
		InitialDelay: cfg.PollInitialDelay(),
		PollInterval: cfg.PollInterval(),
		ProbeTimeout: cfg.HubTimeout(),
	}, logger)
	monitor.OnProbe(m.ObserveProbe)
	monitor.OnTransition(func(online bool) {
		if online {
			// The Hub just came back. Sync every tenant now rather than
			// waiting for the next scheduled pass.
			go scheduler.SyncAll(ctx)
		}
	})

	router := api.NewRouter(api.Config{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}, gate, sessions, licenseSvc, monitor, m, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("start connectivity monitor: %w", err)
	}
	defer monitor.Stop()

	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("failed to start maintenance scheduler")
	}
	defer scheduler.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
		return err
	}

	logger.Info().Msg("outpost stopped gracefully")
	return nil
}
