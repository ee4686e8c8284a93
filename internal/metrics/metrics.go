// Package metrics holds the Prometheus collectors for lwm. Collectors are
// registered lazily on first use so packages that never record anything do
// not pollute the default registry.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups every lwm metric.
type Collectors struct {
	attempts     *prometheus.CounterVec
	failovers    prometheus.Counter
	exhausted    prometheus.Counter
	probeUp      *prometheus.GaugeVec
	probeHeight  *prometheus.GaugeVec
	tickDuration prometheus.Histogram
	refreshErrs  *prometheus.CounterVec
	adminCmds    *prometheus.CounterVec
}

var (
	once     sync.Once
	registry *Collectors
)

// Get returns the lazily-initialised collectors.
func Get() *Collectors {
	once.Do(func() {
		registry = &Collectors{
			attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lwm",
				Subsystem: "dispatch",
				Name:      "attempts_total",
				Help:      "Dispatcher attempts segmented by node and outcome.",
			}, []string{"node", "outcome"}),
			failovers: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lwm",
				Subsystem: "dispatch",
				Name:      "failovers_total",
				Help:      "Number of times the preferred node was advanced.",
			}),
			exhausted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lwm",
				Subsystem: "dispatch",
				Name:      "exhausted_total",
				Help:      "Logical requests that failed on every node.",
			}),
			probeUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lwm",
				Subsystem: "probe",
				Name:      "up",
				Help:      "1 when the last health probe of the node succeeded.",
			}, []string{"node"}),
			probeHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lwm",
				Subsystem: "probe",
				Name:      "height",
				Help:      "Block count reported by the node's health endpoint.",
			}, []string{"node"}),
			tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "lwm",
				Subsystem: "tick",
				Name:      "duration_seconds",
				Help:      "Wall time of one refresh tick.",
				Buckets:   prometheus.DefBuckets,
			}),
			refreshErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lwm",
				Subsystem: "refresh",
				Name:      "errors_total",
				Help:      "Failed refresh steps segmented by step.",
			}, []string{"step"}),
			adminCmds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lwm",
				Subsystem: "admin",
				Name:      "commands_total",
				Help:      "Admin commands segmented by command and outcome.",
			}, []string{"command", "outcome"}),
		}
		prometheus.MustRegister(
			registry.attempts,
			registry.failovers,
			registry.exhausted,
			registry.probeUp,
			registry.probeHeight,
			registry.tickDuration,
			registry.refreshErrs,
			registry.adminCmds,
		)
	})
	return registry
}

// Attempt records one dispatcher attempt.
func (c *Collectors) Attempt(node, outcome string) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(node, outcome).Inc()
}

// Failover records an advance of the preferred node.
func (c *Collectors) Failover() {
	if c == nil {
		return
	}
	c.failovers.Inc()
}

// Exhausted records a logical request that failed on every node.
func (c *Collectors) Exhausted() {
	if c == nil {
		return
	}
	c.exhausted.Inc()
}

// Probe records the outcome of one health probe. height is ignored when the
// node is down.
func (c *Collectors) Probe(node string, up bool, height int) {
	if c == nil {
		return
	}
	if !up {
		c.probeUp.WithLabelValues(node).Set(0)
		return
	}
	c.probeUp.WithLabelValues(node).Set(1)
	c.probeHeight.WithLabelValues(node).Set(float64(height))
}

// Tick records the duration of one refresh tick.
func (c *Collectors) Tick(d time.Duration) {
	if c == nil {
		return
	}
	c.tickDuration.Observe(d.Seconds())
}

// RefreshError records a failed refresh step.
func (c *Collectors) RefreshError(step string) {
	if c == nil {
		return
	}
	c.refreshErrs.WithLabelValues(step).Inc()
}

// Admin records the outcome of an admin command.
func (c *Collectors) Admin(command string, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.adminCmds.WithLabelValues(command, outcome).Inc()
}
