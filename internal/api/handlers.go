package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/groomwise/outpost/internal/auth"
	"github.com/groomwise/outpost/internal/connectivity"
	"github.com/groomwise/outpost/internal/hub"
	"github.com/groomwise/outpost/internal/license"
	"github.com/groomwise/outpost/internal/metrics"
)

// AuthHandler serves login endpoints for the local ERP UI.
type AuthHandler struct {
	gate    *auth.Gate
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(gate *auth.Gate, m *metrics.Metrics, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		gate:    gate,
		metrics: m,
		logger:  logger.With().Str("component", "auth_handler").Logger(),
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type pinLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	PIN      string `json:"pin" binding:"required"`
	TenantID string `json:"tenant_id"`
}

type setPinRequest struct {
	PIN string `json:"pin" binding:"required"`
}

// Login authenticates with email and password, online when the Hub is
// reachable and against the local cache otherwise.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	result, err := h.gate.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.loginError(c, "password", err)
		return
	}

	mode := "online"
	if result.Offline {
		mode = "offline"
	}
	h.metrics.ObserveLogin(mode, "success")
	c.JSON(http.StatusOK, result)
}

// LoginWithPin authenticates with the device-local quick-unlock PIN.
// POST /api/v1/auth/login/pin
func (h *AuthHandler) LoginWithPin(c *gin.Context) {
	var req pinLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and pin are required"})
		return
	}

	result, err := h.gate.LoginWithPin(c.Request.Context(), req.Email, req.PIN, req.TenantID)
	if err != nil {
		h.loginError(c, "pin", err)
		return
	}

	h.metrics.ObserveLogin("pin", "success")
	c.JSON(http.StatusOK, result)
}

// SetPin sets the quick-unlock PIN for the authenticated user. Only sessions
// granted online may change it.
// POST /api/v1/auth/pin
func (h *AuthHandler) SetPin(c *gin.Context) {
	claims, ok := SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	if claims.Offline {
		c.JSON(http.StatusForbidden, gin.H{"error": "pin changes require an online session"})
		return
	}

	var req setPinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pin is required"})
		return
	}

	if err := h.gate.SetPIN(c.Request.Context(), claims.Email, req.PIN); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidPIN):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrUserNotCached):
			c.JSON(http.StatusNotFound, gin.H{"error": "no cached credential for user"})
		default:
			h.logger.Error().Err(err).Msg("set pin failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set pin"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// loginError maps the gate's error taxonomy onto distinct HTTP responses. The
// UI needs to tell a wrong password apart from an exhausted offline window.
func (h *AuthHandler) loginError(c *gin.Context, mode string, err error) {
	switch {
	case errors.Is(err, hub.ErrAuthDenied):
		h.metrics.ObserveLogin(mode, "denied")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials", "reason": "denied"})
	case errors.Is(err, auth.ErrBadCredential):
		h.metrics.ObserveLogin(mode, "denied")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials", "reason": "denied"})
	case errors.Is(err, auth.ErrUserNotCached):
		h.metrics.ObserveLogin(mode, "not_cached")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user has never signed in online from this device", "reason": "not_cached"})
	case errors.Is(err, auth.ErrOfflineWindowExpired):
		h.metrics.ObserveLogin(mode, "window_expired")
		c.JSON(http.StatusForbidden, gin.H{"error": "offline validity window expired, reconnect to continue", "reason": "offline_window_expired"})
	default:
		h.metrics.ObserveLogin(mode, "error")
		h.logger.Error().Err(err).Msg("login failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
	}
}

// LicenseHandler serves license verdict, sync, and activation endpoints.
type LicenseHandler struct {
	svc     *license.Service
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewLicenseHandler creates a LicenseHandler.
func NewLicenseHandler(svc *license.Service, m *metrics.Metrics, logger zerolog.Logger) *LicenseHandler {
	return &LicenseHandler{
		svc:     svc,
		metrics: m,
		logger:  logger.With().Str("component", "license_handler").Logger(),
	}
}

type activateRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
	PlanID   string `json:"plan_id" binding:"required"`
}

// Verdict returns the current cached verdict without contacting the Hub.
// GET /api/v1/license/verdict
func (h *LicenseHandler) Verdict(c *gin.Context) {
	claims, ok := SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	verdict, err := h.svc.Verdict(c.Request.Context(), claims.TenantID)
	if err != nil {
		h.logger.Error().Err(err).Msg("verdict lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to derive verdict"})
		return
	}

	h.metrics.SetOfflineDaysLeft(claims.TenantID, verdict.OfflineDaysLeft)
	c.JSON(http.StatusOK, verdict)
}

// Sync forces a validation round-trip with the Hub. An unreachable Hub still
// returns 200 with the cached verdict; the Online flag tells the caller which
// case it got.
// POST /api/v1/license/sync
func (h *LicenseHandler) Sync(c *gin.Context) {
	claims, ok := SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	verdict, err := h.svc.Sync(c.Request.Context(), claims.TenantID)
	if err != nil {
		h.metrics.ObserveReconciliation("error")
		h.logger.Error().Err(err).Msg("sync failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
		return
	}

	if verdict.Online {
		h.metrics.ObserveReconciliation("online")
	} else {
		h.metrics.ObserveReconciliation("offline")
	}
	h.metrics.SetOfflineDaysLeft(claims.TenantID, verdict.OfflineDaysLeft)
	c.JSON(http.StatusOK, verdict)
}

// Activate registers this device with the Hub for a tenant and plan. The
// endpoint is unauthenticated: it runs before any user can log in.
// POST /api/v1/license/activate
func (h *LicenseHandler) Activate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id and plan_id are required"})
		return
	}

	verdict, err := h.svc.Activate(c.Request.Context(), req.TenantID, req.PlanID)
	if err != nil {
		switch {
		case errors.Is(err, license.ErrActivationRejected):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "hub rejected activation", "reason": "rejected"})
		case errors.Is(err, license.ErrUnreachable):
			c.JSON(http.StatusBadGateway, gin.H{"error": "hub unreachable, activation requires connectivity", "reason": "unreachable"})
		default:
			h.logger.Error().Err(err).Msg("activation failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "activation failed"})
		}
		return
	}

	c.JSON(http.StatusOK, verdict)
}

// StatusHandler serves connectivity and liveness endpoints.
type StatusHandler struct {
	monitor *connectivity.Monitor
	logger  zerolog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(monitor *connectivity.Monitor, logger zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		monitor: monitor,
		logger:  logger.With().Str("component", "status_handler").Logger(),
	}
}

// connectivityResponse reports the monitor's last observed state.
type connectivityResponse struct {
	Online       bool       `json:"online"`
	LastProbeAt  *time.Time `json:"last_probe_at,omitempty"`
	LastOnlineAt *time.Time `json:"last_online_at,omitempty"`
}

// Connectivity returns the last observed Hub reachability.
// GET /api/v1/connectivity
func (h *StatusHandler) Connectivity(c *gin.Context) {
	resp := connectivityResponse{
		Online:       h.monitor.Online(),
		LastOnlineAt: h.monitor.LastOnlineAt(),
	}
	if t := h.monitor.LastProbeAt(); !t.IsZero() {
		resp.LastProbeAt = &t
	}
	c.JSON(http.StatusOK, resp)
}

// Healthz reports daemon liveness. Always 200 while the process serves.
// GET /healthz
func (h *StatusHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
