// Package jobs runs the daemon's scheduled background work: periodic forced
// license syncs and the nightly credential-cache prune.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/groomwise/outpost/internal/license"
)

// TenantLister enumerates the tenants with a local license record.
type TenantLister interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
}

// CredentialPruner removes stale cached credentials.
type CredentialPruner interface {
	PruneCredentials(ctx context.Context, olderThan time.Duration) (int, error)
}

// Syncer forces a validation round-trip for one tenant.
type Syncer interface {
	Sync(ctx context.Context, tenantID string) (*license.Verdict, error)
}

// Config holds the maintenance scheduler's parameters.
type Config struct {
	// SyncCron is the schedule for forced license syncs (default: hourly).
	SyncCron string
	// PruneCron is the schedule for credential pruning (default: 03:00 daily).
	PruneCron string
	// CredentialMaxAge is how long a cached credential survives without a
	// fresh online authentication.
	CredentialMaxAge time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SyncCron:         "15 * * * *",
		PruneCron:        "0 3 * * *",
		CredentialMaxAge: 90 * 24 * time.Hour,
	}
}

// Scheduler owns the cron runner for maintenance jobs.
type Scheduler struct {
	tenants TenantLister
	pruner  CredentialPruner
	syncer  Syncer
	config  Config
	cron    *cron.Cron
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a maintenance scheduler.
func NewScheduler(tenants TenantLister, pruner CredentialPruner, syncer Syncer, config Config, logger zerolog.Logger) *Scheduler {
	if config.SyncCron == "" {
		config.SyncCron = DefaultConfig().SyncCron
	}
	if config.PruneCron == "" {
		config.PruneCron = DefaultConfig().PruneCron
	}
	if config.CredentialMaxAge <= 0 {
		config.CredentialMaxAge = DefaultConfig().CredentialMaxAge
	}

	return &Scheduler{
		tenants: tenants,
		pruner:  pruner,
		syncer:  syncer,
		config:  config,
		cron:    cron.New(),
		logger:  logger.With().Str("component", "maintenance").Logger(),
	}
}

// Start registers the jobs and begins the schedule.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("maintenance scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.config.SyncCron, s.runSync); err != nil {
		return fmt.Errorf("schedule license sync: %w", err)
	}
	if _, err := s.cron.AddFunc(s.config.PruneCron, s.runPrune); err != nil {
		return fmt.Errorf("schedule credential prune: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("sync_cron", s.config.SyncCron).
		Str("prune_cron", s.config.PruneCron).
		Msg("maintenance scheduler started")

	return nil
}

// Stop stops the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("maintenance scheduler stopped")
}

// SyncAll forces a validation round-trip for every locally known tenant. Also
// invoked by the connectivity monitor when the Hub comes back.
func (s *Scheduler) SyncAll(ctx context.Context) {
	tenantIDs, err := s.tenants.ListTenantIDs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list tenants for sync")
		return
	}

	for _, tenantID := range tenantIDs {
		verdict, err := s.syncer.Sync(ctx, tenantID)
		if err != nil {
			s.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("scheduled sync failed")
			continue
		}
		s.logger.Debug().
			Str("tenant_id", tenantID).
			Bool("valid", verdict.Valid).
			Bool("online", verdict.Online).
			Msg("scheduled sync completed")
	}
}

func (s *Scheduler) runSync() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	s.SyncAll(ctx)
}

func (s *Scheduler) runPrune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pruned, err := s.pruner.PruneCredentials(ctx, s.config.CredentialMaxAge)
	if err != nil {
		s.logger.Error().Err(err).Msg("credential prune failed")
		return
	}
	if pruned > 0 {
		s.logger.Info().Int("pruned", pruned).Msg("stale cached credentials removed")
	}
}
