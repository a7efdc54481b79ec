package gateway

import "github.com/prometheus/client_golang/prometheus"

// Result labels shared by the gateway counters.
const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultError    = "error"
)

var (
	uplinkCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomlink",
			Subsystem: "gateway",
			Name:      "uplink_cycles_total",
			Help:      "Uplink push cycles by result",
		},
		[]string{"result"},
	)

	uplinkDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "roomlink",
			Subsystem: "gateway",
			Name:      "uplink_duration_seconds",
			Help:      "Duration of uplink POSTs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	eventsForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomlink",
			Subsystem: "gateway",
			Name:      "events_forwarded_total",
			Help:      "Events forwarded to the hub by result",
		},
		[]string{"result"},
	)

	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roomlink",
			Subsystem: "gateway",
			Name:      "events_dropped_total",
			Help:      "Events dropped because the forward queue was full",
		},
	)

	forwardQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "roomlink",
			Subsystem: "gateway",
			Name:      "forward_queue_depth",
			Help:      "Events waiting to be forwarded",
		},
	)

	registryObjects = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "roomlink",
			Subsystem: "registry",
			Name:      "objects",
			Help:      "Entries in the object registry, promises included",
		},
	)
)

func init() {
	prometheus.MustRegister(
		uplinkCycles,
		uplinkDuration,
		eventsForwarded,
		eventsDropped,
		forwardQueueDepth,
		registryObjects,
	)
}

// resultLabel maps a request error onto a counter label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return resultOK
	case isRejected(err):
		return resultRejected
	default:
		return resultError
	}
}
