// Package metrics exposes engine counters and gauges in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the engine reports. Uses a private registry
// so tests can create collectors freely without duplicate registration.
type Collector struct {
	registry *prometheus.Registry

	eventsAppended prometheus.Counter
	eventsPruned   prometheus.Counter
	busDelivered   prometheus.Counter
	busOverflows   prometheus.Counter

	jobsCreated    prometheus.Counter
	jobTransitions *prometheus.CounterVec
	jobDuration    prometheus.Histogram

	streamSubscribers prometheus.Gauge
	jobsPending       prometheus.Gauge
	jobsRunning       prometheus.Gauge
}

// NewCollector creates and registers all engine metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		eventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_events_appended_total",
			Help: "Total number of events committed to the log",
		}),
		eventsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_events_pruned_total",
			Help: "Total number of events removed by retention",
		}),
		busDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_bus_deliveries_total",
			Help: "Total number of event deliveries to live subscribers",
		}),
		busOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_bus_overflows_total",
			Help: "Total number of subscribers dropped for falling behind",
		}),
		jobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scribe_jobs_created_total",
			Help: "Total number of jobs created",
		}),
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_job_transitions_total",
			Help: "Total number of job state transitions by target state",
		}, []string{"state"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_job_duration_seconds",
			Help:    "Wall time from job start to terminal state",
			Buckets: prometheus.DefBuckets,
		}),
		streamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_stream_subscribers",
			Help: "Current number of live stream subscribers",
		}),
		jobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_jobs_pending",
			Help: "Current number of queued jobs",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_jobs_running",
			Help: "Current number of running jobs",
		}),
	}

	c.registry.MustRegister(
		c.eventsAppended, c.eventsPruned,
		c.busDelivered, c.busOverflows,
		c.jobsCreated, c.jobTransitions, c.jobDuration,
		c.streamSubscribers, c.jobsPending, c.jobsRunning,
	)

	return c
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordEventAppended counts one committed event.
func (c *Collector) RecordEventAppended() { c.eventsAppended.Inc() }

// RecordEventsPruned counts events removed by retention.
func (c *Collector) RecordEventsPruned(n int64) { c.eventsPruned.Add(float64(n)) }

// RecordBusDelivery counts deliveries to live subscribers.
func (c *Collector) RecordBusDelivery(subscribers int) { c.busDelivered.Add(float64(subscribers)) }

// RecordBusOverflow counts a subscriber dropped for falling behind.
func (c *Collector) RecordBusOverflow() { c.busOverflows.Inc() }

// RecordJobCreated counts one created job.
func (c *Collector) RecordJobCreated() { c.jobsCreated.Inc() }

// RecordJobTransition counts a transition into the given state.
func (c *Collector) RecordJobTransition(state string) {
	c.jobTransitions.WithLabelValues(state).Inc()
}

// RecordJobDuration observes a finished job's wall time.
func (c *Collector) RecordJobDuration(seconds float64) { c.jobDuration.Observe(seconds) }

// SetStreamSubscribers sets the live subscriber gauge.
func (c *Collector) SetStreamSubscribers(n int) { c.streamSubscribers.Set(float64(n)) }

// SetJobCounts sets the queue depth gauges.
func (c *Collector) SetJobCounts(pending, running int64) {
	c.jobsPending.Set(float64(pending))
	c.jobsRunning.Set(float64(running))
}
