package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// RequestsTotal counts HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_gateway_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensor_gateway_request_duration_seconds",
			Help:    "Request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// RateLimitDecisionsTotal counts limiter outcomes: allow, burst, reject.
	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_gateway_ratelimit_decisions_total",
			Help: "Rate limiter decisions",
		},
		[]string{"outcome"},
	)

	// RateLimitTrackedClients reports the number of clients in the current window.
	RateLimitTrackedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensor_gateway_ratelimit_tracked_clients",
			Help: "Clients tracked by the rate limiter",
		},
	)

	// RateLimitEmergencySweepsTotal counts table clears triggered by size.
	RateLimitEmergencySweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sensor_gateway_ratelimit_emergency_sweeps_total",
			Help: "Emergency rate limit table sweeps",
		},
	)

	// AuthFailuresTotal counts authentication failures by reason code.
	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_gateway_auth_failures_total",
			Help: "Authentication failures",
		},
		[]string{"reason"},
	)

	// LockoutRejectionsTotal counts requests refused while a client was locked out.
	LockoutRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sensor_gateway_lockout_rejections_total",
			Help: "Requests rejected by lockout",
		},
	)

	// AuthorizationDeniedTotal counts 403 responses by matched rule prefix.
	AuthorizationDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_gateway_authorization_denied_total",
			Help: "Authorization denials",
		},
		[]string{"prefix"},
	)

	// TokensRevokedTotal counts successful logouts.
	TokensRevokedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sensor_gateway_tokens_revoked_total",
			Help: "Tokens revoked",
		},
	)

	// AuditEventsDroppedTotal counts security events dropped because the buffer was full.
	AuditEventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sensor_gateway_audit_events_dropped_total",
			Help: "Audit events dropped",
		},
	)

	// AuditQueueDepth reports security events waiting for a writer.
	AuditQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensor_gateway_audit_queue_depth",
			Help: "Audit events queued",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		RateLimitDecisionsTotal,
		RateLimitTrackedClients,
		RateLimitEmergencySweepsTotal,
		AuthFailuresTotal,
		LockoutRejectionsTotal,
		AuthorizationDeniedTotal,
		TokensRevokedTotal,
		AuditEventsDroppedTotal,
		AuditQueueDepth,
	)
}
