// Package observability provides structured logging and Prometheus metrics
// for the sensor gateway.
//
// Logging is zap-based. Every request-scoped line carries the request's
// correlation id under the "request_id" field.
//
// Metrics are registered with the default Prometheus registry at init and
// exposed at /metrics by the routes package. Collectors cover the security
// pipeline (throttling, lockout, authentication and authorization outcomes)
// and overall HTTP traffic.
package observability
