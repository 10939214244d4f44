// Package metrics exposes Prometheus instrumentation for the HTTP layer and
// the core chat operations.
//
// Collectors live on a Registry owned by the server instead of the global
// default registry, so tests can build as many servers as they like without
// "duplicate metrics collector registration" panics.
//
// Every method is safe to call on a nil *Metrics, which lets services and
// tests run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	messagesPosted prometheus.Counter
	chatsCreated   prometheus.Counter
	chatJoins      *prometheus.CounterVec
	signIns        *prometheus.CounterVec
	tokenRotations *prometheus.CounterVec
}

// New builds the collectors and registers them, together with the Go runtime
// and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		messagesPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messenger_messages_posted_total",
			Help: "Total number of chat messages posted, including system invitations",
		}),
		chatsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messenger_chats_created_total",
			Help: "Total number of chats created, including system chats",
		}),
		chatJoins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_chat_joins_total",
			Help: "Chat join attempts by outcome",
		}, []string{"result"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_signins_total",
			Help: "Sign-in attempts by outcome",
		}, []string{"result"}),
		tokenRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_token_rotations_total",
			Help: "Refresh token rotations by outcome",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.messagesPosted,
		m.chatsCreated,
		m.chatJoins,
		m.signIns,
		m.tokenRotations,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Middleware records a request count and latency per route.
//
// The route label is chi's route pattern ("/v1/chats/{id}/messages"), not the
// raw path; raw paths would create one time series per chat ID. The pattern
// is only complete after routing, so it is read once the handler returns.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		m.httpRequests.With(labels).Inc()
		m.httpDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) MessagePosted() {
	if m != nil {
		m.messagesPosted.Inc()
	}
}

func (m *Metrics) ChatCreated() {
	if m != nil {
		m.chatsCreated.Inc()
	}
}

func (m *Metrics) ChatJoin(result string) {
	if m != nil {
		m.chatJoins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SignIn(result string) {
	if m != nil {
		m.signIns.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) TokenRotation(result string) {
	if m != nil {
		m.tokenRotations.WithLabelValues(result).Inc()
	}
}
