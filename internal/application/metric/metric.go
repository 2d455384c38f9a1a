package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request handling time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	wsActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Number of live websocket connections",
		},
	)

	lobbyUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_lobby_users",
			Help: "Connections not inside any private room",
		},
	)

	queueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_matchmaking_queue_length",
			Help: "Connections waiting for a random match",
		},
	)

	activeRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_rooms",
			Help: "Private rooms with at least one member",
		},
	)

	matchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_matches_total",
			Help: "Completed random pairings",
		},
	)

	messagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Chat messages routed to recipients",
		},
	)

	sessionsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_sessions_recorded_total",
			Help: "Session records handed to the durable store",
		},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rate_limited_total",
			Help: "Events dropped by the rate limiter",
		},
		[]string{"kind"},
	)
)

// RecordHTTPMetrics records one finished HTTP request.
func RecordHTTPMetrics(method, endpoint string, status int, duration time.Duration) {
	strStatus := strconv.Itoa(status)

	httpRequestsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, strStatus).Observe(duration.Seconds())
}

func IncrementWSActiveConnections() { wsActiveConnections.Inc() }

func DecrementWSActiveConnections() { wsActiveConnections.Dec() }

func SetLobbyUsers(n int) { lobbyUsers.Set(float64(n)) }

func SetQueueLength(n int) { queueLength.Set(float64(n)) }

func SetActiveRooms(n int) { activeRooms.Set(float64(n)) }

func IncrementMatches() { matchesTotal.Inc() }

func IncrementMessages() { messagesTotal.Inc() }

func IncrementSessionsRecorded() { sessionsRecorded.Inc() }

func IncrementRateLimited(kind string) { rateLimited.WithLabelValues(kind).Inc() }
