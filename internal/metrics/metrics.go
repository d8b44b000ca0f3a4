package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metric collectors for the classgate service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Auth metrics.
	AuthSuccessesTotal *prometheus.CounterVec
	AuthFailuresTotal  *prometheus.CounterVec

	// Invite ledger metrics.
	InvitesIssuedTotal   prometheus.Counter
	InvitesRedeemedTotal *prometheus.CounterVec
	InvitesRevokedTotal  prometheus.Counter

	// Rate limiting.
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classgate_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "classgate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classgate_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"flow"}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classgate_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"flow"}),

		InvitesIssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classgate_invites_issued_total",
			Help: "Total number of invite codes issued.",
		}),

		InvitesRedeemedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classgate_invites_redeemed_total",
			Help: "Total number of invite redemption attempts by outcome.",
		}, []string{"outcome"}),

		InvitesRevokedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classgate_invites_revoked_total",
			Help: "Total number of invite codes revoked.",
		}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classgate_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}, []string{"endpoint"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "classgate_server_start_time_seconds",
			Help: "Unix timestamp of server start.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthSuccessesTotal,
		m.AuthFailuresTotal,
		m.InvitesIssuedTotal,
		m.InvitesRedeemedTotal,
		m.InvitesRevokedTotal,
		m.RateLimitRejectionsTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.SetToCurrentTime()
	return m
}

// RegisterDBCollector adds the DB pool collector to the registry.
func (m *Metrics) RegisterDBCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// IncAuthSuccess increments the auth success counter for a flow
// ("login", "register", "upgrade").
func (m *Metrics) IncAuthSuccess(flow string) {
	m.AuthSuccessesTotal.WithLabelValues(flow).Inc()
}

// IncAuthFailure increments the auth failure counter for a flow.
func (m *Metrics) IncAuthFailure(flow string) {
	m.AuthFailuresTotal.WithLabelValues(flow).Inc()
}

// IncRedeemed increments the redemption counter for an outcome
// ("success", "not_found", "expired", "exhausted", "already_used").
func (m *Metrics) IncRedeemed(outcome string) {
	m.InvitesRedeemedTotal.WithLabelValues(outcome).Inc()
}

// IncRateLimitRejection increments the rejection counter for an endpoint.
func (m *Metrics) IncRateLimitRejection(endpoint string) {
	m.RateLimitRejectionsTotal.WithLabelValues(endpoint).Inc()
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
