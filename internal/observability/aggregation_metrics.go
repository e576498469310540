package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// AggregationCollector exposes engine-level Prometheus metrics: cluster
// size and radius, particle launches and outcomes, contact decisions, step
// counts, and dropped sink writes.
type AggregationCollector struct {
	gatherer prometheus.Gatherer

	ClusterSize      prometheus.Gauge
	ClusterRadius    prometheus.Gauge
	LaunchesTotal    prometheus.Counter
	OutcomesTotal    *prometheus.CounterVec
	ContactsTotal    *prometheus.CounterVec
	StepsPerParticle prometheus.Histogram
	QueueDropsTotal  *prometheus.CounterVec
}

// NewAggregationCollector registers aggregation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewAggregationCollector(reg prometheus.Registerer) (*AggregationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	size, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "platesim_cluster_size",
		Help: "Current number of plated particles in the cluster.",
	}), "platesim_cluster_size")
	if err != nil {
		return nil, err
	}
	radius, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "platesim_cluster_radius",
		Help: "Distance from the origin to the furthest plated particle.",
	}), "platesim_cluster_radius")
	if err != nil {
		return nil, err
	}

	launches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "platesim_launches_total",
		Help: "Cumulative number of diffusing particles released.",
	})
	launches, err = registerCounter(reg, launches, "platesim_launches_total")
	if err != nil {
		return nil, err
	}

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platesim_particle_outcomes_total",
		Help: "Terminal particle states, labeled by outcome (stuck, escaped, stalled).",
	}, []string{"outcome"})
	outcomes, err = registerCounterVec(reg, outcomes, "platesim_particle_outcomes_total")
	if err != nil {
		return nil, err
	}

	contacts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platesim_contacts_total",
		Help: "Resolved contacts, labeled by decision (stick, bounce, rejected).",
	}, []string{"decision"})
	contacts, err = registerCounterVec(reg, contacts, "platesim_contacts_total")
	if err != nil {
		return nil, err
	}

	steps := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "platesim_steps_per_particle",
		Help:    "Number of walk steps taken by each particle before it terminated.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 11),
	})
	steps, err = registerHistogram(reg, steps, "platesim_steps_per_particle")
	if err != nil {
		return nil, err
	}

	drops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "platesim_queue_drops_total",
		Help: "Frames or checkpoints dropped because the sink queue was full.",
	}, []string{"queue"})
	drops, err = registerCounterVec(reg, drops, "platesim_queue_drops_total")
	if err != nil {
		return nil, err
	}

	return &AggregationCollector{
		gatherer:         gatherer,
		ClusterSize:      size,
		ClusterRadius:    radius,
		LaunchesTotal:    launches,
		OutcomesTotal:    outcomes,
		ContactsTotal:    contacts,
		StepsPerParticle: steps,
		QueueDropsTotal:  drops,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *AggregationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *AggregationCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

// SetClusterStats satisfies the ClusterMetricsRecorder interface so the
// aggregate state can drive gauge values directly from commits.
func (c *AggregationCollector) SetClusterStats(size int, radius float64) {
	if c == nil {
		return
	}
	if c.ClusterSize != nil {
		c.ClusterSize.Set(float64(size))
	}
	if c.ClusterRadius != nil {
		c.ClusterRadius.Set(radius)
	}
}

// ObserveLaunch counts one released particle.
func (c *AggregationCollector) ObserveLaunch() {
	if c == nil || c.LaunchesTotal == nil {
		return
	}
	c.LaunchesTotal.Inc()
}

// ObserveOutcome records a particle's terminal state and step count.
func (c *AggregationCollector) ObserveOutcome(outcome string, steps int) {
	if c == nil {
		return
	}
	if c.OutcomesTotal != nil {
		c.OutcomesTotal.WithLabelValues(outcome).Inc()
	}
	if c.StepsPerParticle != nil {
		c.StepsPerParticle.Observe(float64(steps))
	}
}

// ObserveContacts adds n contacts resolved with decision.
func (c *AggregationCollector) ObserveContacts(decision string, n int) {
	if c == nil || c.ContactsTotal == nil || n <= 0 {
		return
	}
	c.ContactsTotal.WithLabelValues(decision).Add(float64(n))
}

// ObserveDrop counts one item dropped by a full sink queue.
func (c *AggregationCollector) ObserveDrop(queue string) {
	if c == nil || c.QueueDropsTotal == nil {
		return
	}
	c.QueueDropsTotal.WithLabelValues(queue).Inc()
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
