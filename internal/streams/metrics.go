package streams

import "github.com/prometheus/client_golang/prometheus"

var (
	// liveStreams gauges chats with a generation currently streaming.
	liveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "generation_streams_live",
			Help: "Number of chats with a live generation stream.",
		},
	)

	// reattachTotal counts resumption lookups by outcome
	// (active, recovered, no_stream).
	reattachTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_stream_reattach_total",
			Help: "Total stream reattachment lookups by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(liveStreams, reattachTotal)
}

// MarkReattach records the outcome of a resumption lookup.
func MarkReattach(outcome string) { reattachTotal.WithLabelValues(outcome).Inc() }
