// Package hub provides the HTTP client for Outpost-to-Hub communication:
// device activation, license validation, online authentication, and the
// reachability probe.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/groomwise/outpost/internal/license"
)

// ErrAuthDenied indicates the Hub explicitly rejected the credentials.
// Callers must never fall through to the offline path on this error.
var ErrAuthDenied = errors.New("authentication denied by hub")

// ActivateRequest is sent once per device to register it with the Hub.
type ActivateRequest struct {
	TenantID string `json:"tenant_id"`
	DeviceID string `json:"device_id"`
	Plan     string `json:"plan"`
}

// LoginRequest carries credentials for online authentication.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"device_id,omitempty"`
}

// LoginResponse is returned by the Hub on successful authentication. The Hub
// piggybacks its current license verdict so a login doubles as a validation.
type LoginResponse struct {
	UserID   string               `json:"user_id"`
	Email    string               `json:"email"`
	TenantID string               `json:"tenant_id"`
	Name     string               `json:"name,omitempty"`
	License  *license.RemoteState `json:"license,omitempty"`
}

// Client is an HTTP client for communicating with the Hub. Every call carries
// the bounded timeout of the underlying http.Client; a timed-out call is
// reported as unreachable, never as a negative verdict.
type Client struct {
	baseURL    string
	deviceID   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new Hub API client. A nil http.Client gets a 15s
// default timeout.
func NewClient(baseURL, deviceID string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		deviceID:   deviceID,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "hub_client").Logger(),
	}
}

// Activate registers this device for a tenant and obtains a license token.
func (c *Client) Activate(ctx context.Context, tenantID, planID string) (*license.Activation, error) {
	req := ActivateRequest{TenantID: tenantID, DeviceID: c.deviceID, Plan: planID}

	var resp license.Activation
	status, err := c.post(ctx, "/api/v1/licenses/activate", req, &resp)
	if err != nil {
		return nil, fmt.Errorf("activate: %w", errors.Join(license.ErrUnreachable, err))
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		return &resp, nil
	case status >= 400 && status < 500:
		return nil, fmt.Errorf("activate tenant %s: %w", tenantID, license.ErrActivationRejected)
	default:
		return nil, fmt.Errorf("activate: hub returned %d: %w", status, license.ErrUnreachable)
	}
}

// Validate fetches the Hub's current verdict for a tenant+device pair. It is
// idempotent and safe to call repeatedly. A business-logic rejection (4xx) is
// returned as an unlicensed state, not an error; only transport and
// server-side failures yield ErrUnreachable.
func (c *Client) Validate(ctx context.Context, tenantID string) (*license.RemoteState, error) {
	path := "/api/v1/licenses/validate?" + url.Values{
		"tenant_id": {tenantID},
		"device_id": {c.deviceID},
	}.Encode()

	var resp license.RemoteState
	status, err := c.get(ctx, path, &resp)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", errors.Join(license.ErrUnreachable, err))
	}

	switch {
	case status == http.StatusOK:
		return &resp, nil
	case status >= 400 && status < 500:
		// The Hub was reached and said no. Distinct from unreachable: this
		// is an authoritative negative verdict.
		c.logger.Warn().Str("tenant_id", tenantID).Int("status", status).Msg("hub rejected validation")
		st := resp.Status
		if !st.IsValid() {
			st = license.StatusNotRegistered
		}
		return &license.RemoteState{Licensed: false, Status: st}, nil
	default:
		return nil, fmt.Errorf("validate: hub returned %d: %w", status, license.ErrUnreachable)
	}
}

// Login authenticates a user's credentials against the Hub. A 401/403 yields
// ErrAuthDenied; transport failure yields ErrUnreachable so the caller can
// fall back to the offline path.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	req := LoginRequest{Email: email, Password: password, DeviceID: c.deviceID}

	var resp LoginResponse
	status, err := c.post(ctx, "/api/v1/auth/login", req, &resp)
	if err != nil {
		return nil, fmt.Errorf("login: %w", errors.Join(license.ErrUnreachable, err))
	}

	switch {
	case status == http.StatusOK:
		return &resp, nil
	case status >= 400 && status < 500:
		return nil, ErrAuthDenied
	default:
		return nil, fmt.Errorf("login: hub returned %d: %w", status, license.ErrUnreachable)
	}
}

// Health checks if the Hub is reachable. Liveness only, no side effects.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

func (c *Client) get(ctx context.Context, path string, result any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Device-ID", c.deviceID)

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, payload, result any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", c.deviceID)

	return c.do(req, result)
}

// do executes the request and decodes the body into result when present.
// Decode failures on non-2xx responses are ignored: the status code already
// carries the signal.
func (c *Client) do(req *http.Request, result any) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request to %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp.StatusCode, fmt.Errorf("decode response: %w", err)
			}
		}
	}

	return resp.StatusCode, nil
}
