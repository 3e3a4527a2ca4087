package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/requestnet/pkg/webhook"
)

// Delivery outcomes.
const (
	OutcomeAccepted       = "accepted"
	OutcomeBadSignature   = "bad_signature"
	OutcomeInvalidPayload = "invalid_payload"
	OutcomeTooLarge       = "too_large"
	OutcomeFailed         = "failed"
)

// Metrics holds the receiver's Prometheus collectors.
type Metrics struct {
	DeliveriesTotal        *prometheus.CounterVec
	SignatureFailuresTotal *prometheus.CounterVec
	DispatchDuration       *prometheus.HistogramVec
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them, plus the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requestnet_webhook_deliveries_total",
				Help: "Webhook deliveries by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		SignatureFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requestnet_webhook_signature_failures_total",
				Help: "Rejected webhook signatures by reason",
			},
			[]string{"reason"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "requestnet_webhook_dispatch_duration_seconds",
				Help:    "Time spent running handlers for one delivery",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requestnet_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "requestnet_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.DeliveriesTotal,
		m.SignatureFailuresTotal,
		m.DispatchDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAccepted counts a delivery that passed every gate.
func (m *Metrics) ObserveAccepted(event string) {
	m.DeliveriesTotal.WithLabelValues(event, OutcomeAccepted).Inc()
}

// ObserveFailure counts a delivery rejected by the middleware. event may
// be empty when the failure happened before the event name was known.
func (m *Metrics) ObserveFailure(event string, err error) {
	if event == "" {
		event = "unknown"
	}
	var sigErr *webhook.SignatureError
	if errors.As(err, &sigErr) {
		m.SignatureFailuresTotal.WithLabelValues(string(sigErr.Reason)).Inc()
	}
	m.DeliveriesTotal.WithLabelValues(event, OutcomeFor(err)).Inc()
}

// OutcomeFor maps a middleware error to its outcome label.
func OutcomeFor(err error) string {
	switch webhook.StatusFor(err) {
	case http.StatusUnauthorized:
		return OutcomeBadSignature
	case http.StatusBadRequest:
		return OutcomeInvalidPayload
	case http.StatusRequestEntityTooLarge:
		return OutcomeTooLarge
	default:
		return OutcomeFailed
	}
}

// InstrumentDispatcher times every Dispatch call on d.
func (m *Metrics) InstrumentDispatcher(d webhook.Dispatcher) webhook.Dispatcher {
	return timedDispatcher{next: d, m: m}
}

type timedDispatcher struct {
	next webhook.Dispatcher
	m    *Metrics
}

func (t timedDispatcher) Dispatch(ctx context.Context, ev *webhook.ParsedEvent) error {
	start := time.Now()
	err := t.next.Dispatch(ctx, ev)
	t.m.DispatchDuration.WithLabelValues(ev.Event()).Observe(time.Since(start).Seconds())
	return err
}

// HTTPMiddleware records request counts and latency per chi route pattern.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
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
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
