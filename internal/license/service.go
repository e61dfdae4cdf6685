package license

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// HubAPI defines the Hub operations the service needs. Implementations must
// wrap transport failures and timeouts in ErrUnreachable, never return them
// as negative verdicts.
type HubAPI interface {
	Activate(ctx context.Context, tenantID, planID string) (*Activation, error)
	Validate(ctx context.Context, tenantID string) (*RemoteState, error)
}

// Service ties the Reconciler to the Hub client: it is the entry point for
// forced syncs, activation, and verdict queries from the API layer, the CLI,
// and the connectivity monitor.
type Service struct {
	hub    HubAPI
	rec    *Reconciler
	logger zerolog.Logger
}

// NewService creates a license service.
func NewService(hub HubAPI, rec *Reconciler, logger zerolog.Logger) *Service {
	return &Service{
		hub:    hub,
		rec:    rec,
		logger: logger.With().Str("component", "license_service").Logger(),
	}
}

// Reconciler exposes the underlying decision engine.
func (s *Service) Reconciler() *Reconciler {
	return s.rec
}

// Sync validates the tenant against the Hub and reconciles the result. An
// unreachable Hub is not an error: the cached record is left untouched and
// the derived verdict reflects the remaining offline window.
func (s *Service) Sync(ctx context.Context, tenantID string) (*Verdict, error) {
	remote, err := s.hub.Validate(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrUnreachable) {
			s.logger.Debug().Str("tenant_id", tenantID).Msg("hub unreachable, deriving offline verdict")
			return s.rec.Reconcile(ctx, tenantID, nil)
		}
		return nil, fmt.Errorf("validate with hub: %w", err)
	}
	return s.rec.Reconcile(ctx, tenantID, remote)
}

// Activate registers this device for a tenant with the Hub and creates the
// local license record on success. Called once per device.
func (s *Service) Activate(ctx context.Context, tenantID, planID string) (*Verdict, error) {
	act, err := s.hub.Activate(ctx, tenantID, planID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("plan", act.Plan).
		Msg("device activated with hub")

	return s.rec.RecordActivation(ctx, tenantID, act)
}

// Verdict returns the current cached verdict without contacting the Hub.
func (s *Service) Verdict(ctx context.Context, tenantID string) (*Verdict, error) {
	return s.rec.CurrentVerdict(ctx, tenantID)
}
