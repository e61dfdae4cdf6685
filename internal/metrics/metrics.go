// Package metrics exposes Prometheus instrumentation for the Outpost daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's Prometheus collectors on a private registry so
// the default registry's process collectors don't leak into the scrape.
type Metrics struct {
	registry *prometheus.Registry

	HubProbes       *prometheus.CounterVec
	Reconciliations *prometheus.CounterVec
	Logins          *prometheus.CounterVec
	HubOnline       prometheus.Gauge
	OfflineDaysLeft *prometheus.GaugeVec
}

// New creates and registers the daemon's collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		HubProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outpost",
			Name:      "hub_probes_total",
			Help:      "Connectivity probes against the Hub, by result.",
		}, []string{"result"}),
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outpost",
			Name:      "license_reconciliations_total",
			Help:      "License reconciliation attempts, by outcome.",
		}, []string{"outcome"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outpost",
			Name:      "logins_total",
			Help:      "Login attempts, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		HubOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "outpost",
			Name:      "hub_online",
			Help:      "Whether the Hub was reachable at the last probe (1) or not (0).",
		}),
		OfflineDaysLeft: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "outpost",
			Name:      "offline_days_left",
			Help:      "Remaining offline-validity days per tenant.",
		}, []string{"tenant_id"}),
	}

	registry.MustRegister(
		m.HubProbes,
		m.Reconciliations,
		m.Logins,
		m.HubOnline,
		m.OfflineDaysLeft,
	)

	return m
}

// ObserveProbe records a connectivity probe result.
func (m *Metrics) ObserveProbe(online bool) {
	if online {
		m.HubProbes.WithLabelValues("online").Inc()
		m.HubOnline.Set(1)
	} else {
		m.HubProbes.WithLabelValues("offline").Inc()
		m.HubOnline.Set(0)
	}
}

// ObserveReconciliation records a reconciliation outcome.
func (m *Metrics) ObserveReconciliation(outcome string) {
	m.Reconciliations.WithLabelValues(outcome).Inc()
}

// ObserveLogin records a login attempt. Mode is "online", "offline" or "pin".
func (m *Metrics) ObserveLogin(mode, outcome string) {
	m.Logins.WithLabelValues(mode, outcome).Inc()
}

// SetOfflineDaysLeft records the remaining offline window for a tenant.
func (m *Metrics) SetOfflineDaysLeft(tenantID string, days int) {
	m.OfflineDaysLeft.WithLabelValues(tenantID).Set(float64(days))
}

// Handler returns the HTTP handler serving the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
