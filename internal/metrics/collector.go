// Package vcsmetrics exposes the daemon's Prometheus metrics: MDB engine
// events, provider round trips, and the report worker's outbox.
package vcsmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agimpel/vcs-automat-core/internal/mdb"
)

const (
	namespace = "vcsautomat"
)

// Label names.
const (
	labelFromState = "from_state"
	labelToState   = "to_state"
	labelProvider  = "provider"
)

// Collector holds every Prometheus metric the daemon exports.
//
// Metrics are grouped by the three moving parts of the system:
//   - the MDB engine's session lifecycle and serial health,
//   - each configured identity provider's round-trip behaviour,
//   - the asynchronous report worker's outbox.
type Collector struct {
	// ActiveSessions is 1 while a vend session is open, 0 otherwise.
	ActiveSessions prometheus.Gauge

	// Polls counts every POLL frame the engine has answered.
	Polls prometheus.Counter

	// StateTransitions counts MDB FSM state transitions, labeled by the old
	// and new state, for alerting on stuck sessions.
	StateTransitions *prometheus.CounterVec

	// VendsApproved counts VEND REQUEST commands the engine approved.
	VendsApproved prometheus.Counter

	// VendsDenied counts VEND REQUEST commands the engine denied for
	// insufficient credit.
	VendsDenied prometheus.Counter

	// SerialErrors counts serial I/O errors observed by the engine (read
	// timeouts aside, which are expected idle-line behaviour).
	SerialErrors prometheus.Counter

	// ProviderAuthDuration observes Provider.Auth latency per provider tag.
	ProviderAuthDuration *prometheus.HistogramVec

	// ProviderAuthFailures counts Provider.Auth calls that returned an error.
	ProviderAuthFailures *prometheus.CounterVec

	// ReportsSucceeded counts report-worker deliveries accepted by a provider.
	ReportsSucceeded *prometheus.CounterVec

	// ReportsFailed counts report-worker deliveries that failed. Each report
	// is attempted once; failures are not retried.
	ReportsFailed *prometheus.CounterVec

	// DisplayFramesSent counts DISPLAY REQUEST frames written to the bus.
	DisplayFramesSent prometheus.Counter
}

// NewCollector creates a Collector with every metric registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ActiveSessions,
		c.Polls,
		c.StateTransitions,
		c.VendsApproved,
		c.VendsDenied,
		c.SerialErrors,
		c.ProviderAuthDuration,
		c.ProviderAuthFailures,
		c.ReportsSucceeded,
		c.ReportsFailed,
		c.DisplayFramesSent,
	)

	return c
}

func newMetrics() *Collector {
	transitionLabels := []string{labelFromState, labelToState}
	providerLabels := []string{labelProvider}

	return &Collector{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mdb",
			Name:      "active_sessions",
			Help:      "1 while a vend session is open, 0 otherwise.",
		}),

		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mdb",
			Name:      "polls_total",
			Help:      "Total POLL frames answered by the engine.",
		}),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mdb",
			Name:      "state_transitions_total",
			Help:      "Total MDB session FSM state transitions.",
		}, transitionLabels),

		VendsApproved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mdb",
			Name:      "vends_approved_total",
			Help:      "Total VEND REQUEST commands approved.",
		}),

		VendsDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mdb",
			Name:      "vends_denied_total",
			Help:      "Total VEND REQUEST commands denied for insufficient credit.",
		}),

		SerialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mdb",
			Name:      "serial_errors_total",
			Help:      "Total serial I/O errors observed by the engine.",
		}),

		ProviderAuthDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "auth_duration_seconds",
			Help:      "Provider.Auth round-trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, providerLabels),

		ProviderAuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "auth_failures_total",
			Help:      "Total Provider.Auth calls that returned an error.",
		}, providerLabels),

		ReportsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "succeeded_total",
			Help:      "Total vend reports accepted by a provider.",
		}, providerLabels),

		ReportsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "failed_total",
			Help:      "Total vend reports that failed (attempted once, not retried).",
		}, providerLabels),

		DisplayFramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mdb",
			Name:      "display_frames_sent_total",
			Help:      "Total DISPLAY REQUEST frames written to the bus.",
		}),
	}
}

// -------------------------------------------------------------------------
// mdb.MetricsReporter implementation
// -------------------------------------------------------------------------

// ObservePoll implements mdb.MetricsReporter.
func (c *Collector) ObservePoll() {
	c.Polls.Inc()
}

// ObserveStateChange implements mdb.MetricsReporter. It also tracks the
// active-session gauge: any state in InSession() counts as active.
func (c *Collector) ObserveStateChange(from, to mdb.State) {
	c.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	if to.InSession() && !from.InSession() {
		c.ActiveSessions.Set(1)
	} else if !to.InSession() && from.InSession() {
		c.ActiveSessions.Set(0)
	}
}

// ObserveVendApproved implements mdb.MetricsReporter.
func (c *Collector) ObserveVendApproved() {
	c.VendsApproved.Inc()
}

// ObserveVendDenied implements mdb.MetricsReporter.
func (c *Collector) ObserveVendDenied() {
	c.VendsDenied.Inc()
}

// ObserveSerialError implements mdb.MetricsReporter.
func (c *Collector) ObserveSerialError() {
	c.SerialErrors.Inc()
}

// -------------------------------------------------------------------------
// Provider and report-worker instrumentation
// -------------------------------------------------------------------------

// ObserveProviderAuth records the latency of one Provider.Auth call and, on
// failure, increments the provider's auth failure counter.
func (c *Collector) ObserveProviderAuth(tag string, duration time.Duration, err error) {
	c.ProviderAuthDuration.WithLabelValues(tag).Observe(duration.Seconds())
	if err != nil {
		c.ProviderAuthFailures.WithLabelValues(tag).Inc()
	}
}

// ObserveReport records the outcome of one report-worker delivery attempt.
func (c *Collector) ObserveReport(tag string, ok bool) {
	if ok {
		c.ReportsSucceeded.WithLabelValues(tag).Inc()
	} else {
		c.ReportsFailed.WithLabelValues(tag).Inc()
	}
}

// IncDisplayFramesSent increments the DISPLAY REQUEST frame counter.
func (c *Collector) IncDisplayFramesSent() {
	c.DisplayFramesSent.Inc()
}
