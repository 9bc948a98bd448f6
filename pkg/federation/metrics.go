package federation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks gossip, dispatch and liveness activity.
type Metrics struct {
	// Ingress
	EnvelopesReceived *prometheus.CounterVec
	RoutingDecisions  *prometheus.CounterVec
	Duplicates        prometheus.Counter
	ProcessingErrors  *prometheus.CounterVec

	// Dispatch
	ForwardsAttempted prometheus.Counter
	ForwardsSucceeded prometheus.Counter
	ForwardsFailed    prometheus.Counter
	ForwardsDropped   prometheus.Counter
	RetryAttempts     prometheus.Counter
	DispatchLatency   prometheus.Histogram

	// Liveness
	PeersExpired prometheus.Counter
	SeenExpired  prometheus.Counter

	// State
	PeersConnected prometheus.Gauge
	PeersTotal     prometheus.Gauge
	CdmsActive     prometheus.Gauge
	ObjectsTracked prometheus.Gauge
	SeenSetSize    prometheus.Gauge
}

// NewMetrics creates and registers the metrics on registry, falling back
// to the default registerer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		EnvelopesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spacecomms_envelopes_received_total",
			Help: "Envelopes received from peers, by message type",
		}, []string{"message_type"}),
		RoutingDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spacecomms_routing_decisions_total",
			Help: "Routing decisions, by outcome",
		}, []string{"outcome"}),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacecomms_duplicates_total",
			Help: "Envelopes dropped by the dedup gate",
		}),
		ProcessingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spacecomms_processing_errors_total",
			Help: "Envelopes that failed payload processing, by error kind",
		}, []string{"kind"}),

		ForwardsAttempted: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacecomms_forwards_attempted_total",
			Help: "Dispatch jobs started",
		}),
		ForwardsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacecomms_forwards_succeeded_total",
			Help: "Dispatch jobs delivered",
		}),
		ForwardsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacecomms_forwards_failed_total",
			Help: "Dispatch jobs abandoned after retries or a permanent error",
		}),
		ForwardsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacecomms_forwards_dropped_total",
			Help: "Dispatch jobs dropped because the queue was full",
		}),
		RetryAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacecomms_dispatch_retries_total",
			Help: "Delivery retries",
		}),
		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "spacecomms_dispatch_latency_seconds",
			Help:    "Time to deliver one envelope to one peer, including retries",
			Buckets: prometheus.DefBuckets,
		}),

		PeersExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacecomms_peers_expired_total",
			Help: "Peers marked disconnected after missing heartbeats",
		}),
		SeenExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacecomms_seen_messages_expired_total",
			Help: "Message ids evicted from the dedup window",
		}),

		PeersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spacecomms_peers_connected",
			Help: "Peers currently connected",
		}),
		PeersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spacecomms_peers_total",
			Help: "Peers configured",
		}),
		CdmsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spacecomms_cdms_active",
			Help: "CDMs currently stored",
		}),
		ObjectsTracked: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spacecomms_objects_tracked",
			Help: "Objects currently tracked",
		}),
		SeenSetSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spacecomms_seen_messages",
			Help: "Message ids held in the dedup window",
		}),
	}
}

// noopMetrics registers on a throwaway registry so components built without
// metrics never nil-check.
func noopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
