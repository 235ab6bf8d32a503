package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the screen-share relay.
//
// Naming convention: namespace_subsystem_name
// - namespace: screenshare (application-level grouping)
// - subsystem: websocket, room, relay, security (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (sessions, rooms, viewers)
// - Counter: Cumulative events (frames relayed, drops, rejections)
// - Histogram: Latency distributions (command processing time)

var (
	// ActiveSessions tracks the current number of live WebSocket sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "screenshare",
		Subsystem: "websocket",
		Name:      "sessions_active",
		Help:      "Current number of active WebSocket sessions",
	})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "screenshare",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomViewers tracks the number of admitted viewers per room.
	RoomViewers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "screenshare",
		Subsystem: "room",
		Name:      "viewers_count",
		Help:      "Number of admitted viewers in each room",
	}, []string{"room_id"})

	// FramesRelayed counts binary frames accepted from presenters.
	FramesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenshare",
		Subsystem: "relay",
		Name:      "frames_relayed_total",
		Help:      "Total binary frames accepted from presenters",
	})

	// BytesRelayed counts payload bytes accepted from presenters.
	BytesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenshare",
		Subsystem: "relay",
		Name:      "bytes_relayed_total",
		Help:      "Total binary payload bytes accepted from presenters",
	})

	// FramesDropped counts frames dropped for individual slow viewers.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenshare",
		Subsystem: "relay",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped because a viewer outbound queue was full",
	}, []string{"room_id"})

	// InitSegmentsCached counts init-segment cache replacements.
	InitSegmentsCached = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenshare",
		Subsystem: "relay",
		Name:      "init_segments_cached_total",
		Help:      "Total init segment cache replacements",
	})

	// CommandEvents counts processed control commands by type and status.
	CommandEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenshare",
		Subsystem: "websocket",
		Name:      "commands_total",
		Help:      "Total control commands processed",
	}, []string{"command", "status"})

	// CommandProcessingDuration tracks time spent handling control commands.
	CommandProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "screenshare",
		Subsystem: "websocket",
		Name:      "command_processing_seconds",
		Help:      "Time spent processing control commands",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"command"})

	// RateLimitExceeded counts rate-limit rejections by scope.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenshare",
		Subsystem: "security",
		Name:      "rate_limit_exceeded_total",
		Help:      "Total rate limit rejections",
	}, []string{"scope"})

	// BlockedIPs tracks the number of currently blocked IPs in the cache.
	BlockedIPs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "screenshare",
		Subsystem: "security",
		Name:      "blocked_ips_active",
		Help:      "Number of IPs currently blocked",
	})

	// AuthFailures counts failed token validations.
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenshare",
		Subsystem: "security",
		Name:      "auth_failures_total",
		Help:      "Total failed token validations",
	})

	// CircuitBreakerState reports breaker state per backend (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "screenshare",
		Subsystem: "security",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"backend"})

	// CircuitBreakerFailures counts calls rejected by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenshare",
		Subsystem: "security",
		Name:      "circuit_breaker_failures_total",
		Help:      "Calls rejected because a circuit breaker was open",
	}, []string{"backend"})
)

func IncSession() {
	ActiveSessions.Inc()
}

func DecSession() {
	ActiveSessions.Dec()
}
