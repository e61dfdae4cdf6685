// Package connectivity runs the single, de-duplicated polling loop that
// probes the Hub's reachability and notifies the license layer when a forced
// sync is worthwhile.
package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrAlreadyStarted indicates Start was called twice on the same monitor.
var ErrAlreadyStarted = errors.New("connectivity monitor already started")

// HealthProber checks whether the Hub is reachable. Liveness only.
type HealthProber interface {
	Health(ctx context.Context) bool
}

// Config holds the monitor's timing parameters.
type Config struct {
	// InitialDelay is how long to wait before the first probe. No probe
	// fires at boot, so a fleet restart doesn't stampede the Hub.
	InitialDelay time.Duration
	// PollInterval is the fixed interval between probes.
	PollInterval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 10 * time.Second,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 15 * time.Second,
	}
}

// Monitor periodically probes the Hub. It records reachability and
// timestamps; it never mutates license records itself. Overlapping probes
// collapse into the one already running via an atomic in-flight guard.
type Monitor struct {
	prober HealthProber
	config Config
	logger zerolog.Logger

	started  atomic.Bool
	inflight atomic.Bool

	mu           sync.RWMutex
	online       bool
	everProbed   bool
	lastProbeAt  time.Time
	lastOnlineAt *time.Time

	// onTransition fires on offline->online and online->offline edges.
	onTransition func(online bool)
	// onProbe fires after every completed probe.
	onProbe func(online bool)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a connectivity monitor.
func NewMonitor(prober HealthProber, config Config, logger zerolog.Logger) *Monitor {
	return &Monitor{
		prober: prober,
		config: config,
		logger: logger.With().Str("component", "connectivity_monitor").Logger(),
		stopCh: make(chan struct{}),
	}
}

// OnTransition registers a callback invoked whenever reachability flips.
// Must be called before Start.
func (m *Monitor) OnTransition(fn func(online bool)) {
	m.onTransition = fn
}

// OnProbe registers a callback invoked after every completed probe. Must be
// called before Start.
func (m *Monitor) OnProbe(fn func(online bool)) {
	m.onProbe = fn
}

// Start begins the polling loop. Guarded against duplicate starts: the
// process owns exactly one monitor loop.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	m.wg.Add(1)
	go m.run(ctx)

	m.logger.Info().
		Dur("initial_delay", m.config.InitialDelay).
		Dur("poll_interval", m.config.PollInterval).
		Msg("connectivity monitor started")

	return nil
}

// Stop gracefully stops the polling loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info().Msg("connectivity monitor stopped")
}

// Online reports the last observed reachability. Before the first probe
// completes the Hub is assumed unreachable.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// LastOnlineAt returns when the Hub was last observed reachable, or nil.
func (m *Monitor) LastOnlineAt() *time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastOnlineAt
}

// LastProbeAt returns when the last probe completed, or the zero time.
func (m *Monitor) LastProbeAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastProbeAt
}

// Probe runs a single reachability check immediately. If a probe is already
// in flight the call collapses into it and returns the last known state.
func (m *Monitor) Probe(ctx context.Context) bool {
	m.probe(ctx)
	return m.Online()
}

// run is the polling loop.
func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-m.stopCh:
		return
	case <-time.After(m.config.InitialDelay):
	}

	m.probe(ctx)

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

// probe executes one health check. The in-flight guard collapses overlapping
// probes: a probe still running when the next tick fires wins, the tick is
// dropped.
func (m *Monitor) probe(ctx context.Context) {
	if !m.inflight.CompareAndSwap(false, true) {
		return
	}
	defer m.inflight.Store(false)

	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	online := m.prober.Health(probeCtx)
	cancel()

	now := time.Now()

	m.mu.Lock()
	wasOnline := m.online
	first := !m.everProbed
	m.online = online
	m.everProbed = true
	m.lastProbeAt = now
	if online {
		t := now
		m.lastOnlineAt = &t
	}
	m.mu.Unlock()

	if m.onProbe != nil {
		m.onProbe(online)
	}

	if online != wasOnline || (first && online) {
		m.logger.Info().Bool("online", online).Msg("hub reachability changed")
		if m.onTransition != nil {
			m.onTransition(online)
		}
	}
}
