package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveMeetings tracks rooms currently held in the live directory.
	ActiveMeetings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meeting_relay_active_meetings",
		Help: "Number of meetings with at least one live connection.",
	})

	// ActiveParticipants tracks live websocket sessions across all rooms.
	ActiveParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meeting_relay_active_participants",
		Help: "Number of connected participants across all meetings.",
	})

	// RoutedFrames counts inbound frames by dispatch class.
	RoutedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_relay_routed_frames_total",
		Help: "Inbound frames processed by the message router.",
	}, []string{"type"})

	// EvictedPeers counts participants dropped after a failed delivery.
	EvictedPeers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meeting_relay_evicted_peers_total",
		Help: "Participants removed because a send to them failed.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
