package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mattjoyce/requestnet/pkg/webhook"
)

func TestObserveAccepted(t *testing.T) {
	m := New()
	m.ObserveAccepted("payment.confirmed")
	m.ObserveAccepted("payment.confirmed")

	got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("payment.confirmed", OutcomeAccepted))
	if got != 2 {
		t.Errorf("accepted deliveries = %v, want 2", got)
	}
}

func TestObserveFailure(t *testing.T) {
	m := New()
	m.ObserveFailure("", &webhook.SignatureError{Reason: webhook.ReasonInvalidSignature})
	m.ObserveFailure("", &webhook.SignatureError{Reason: webhook.ReasonMissingSignature})
	m.ObserveFailure("payment.failed", &webhook.ValidationError{Kind: webhook.KindSchema})
	m.ObserveFailure("", webhook.ErrBodyTooLarge)
	m.ObserveFailure("payment.confirmed", errors.New("handler failed"))

	cases := []struct {
		event, outcome string
		want           float64
	}{
		{"unknown", OutcomeBadSignature, 2},
		{"payment.failed", OutcomeInvalidPayload, 1},
		{"unknown", OutcomeTooLarge, 1},
		{"payment.confirmed", OutcomeFailed, 1},
	}
	for _, c := range cases {
		if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues(c.event, c.outcome)); got != c.want {
			t.Errorf("deliveries{%s,%s} = %v, want %v", c.event, c.outcome, got, c.want)
		}
	}

	if got := testutil.ToFloat64(m.SignatureFailuresTotal.WithLabelValues("invalid_signature")); got != 1 {
		t.Errorf("signature failures{invalid_signature} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.SignatureFailuresTotal); got != 2 {
		t.Errorf("signature failure series = %d, want 2", got)
	}
}

type stubDispatcher struct{ err error }

func (s stubDispatcher) Dispatch(context.Context, *webhook.ParsedEvent) error { return s.err }

func TestInstrumentDispatcher(t *testing.T) {
	m := New()
	ev, err := webhook.Parse(webhook.ParseOptions{
		RawBody:          `{"event":"payment.partial","requestId":"r"}`,
		SkipVerification: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	d := m.InstrumentDispatcher(stubDispatcher{err: boom})
	if got := d.Dispatch(context.Background(), ev); got != boom {
		t.Fatalf("Dispatch() = %v, want the handler error unchanged", got)
	}

	if got := testutil.CollectAndCount(m.DispatchDuration, "requestnet_webhook_dispatch_duration_seconds"); got != 1 {
		t.Errorf("dispatch duration series = %d, want 1", got)
	}
}

func TestHTTPMiddlewareAndHandler(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.HTTPMiddleware)
	r.Get("/deliveries/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/deliveries/abc", nil))

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/deliveries/{id}", "404")); got != 1 {
		t.Errorf("http requests{/deliveries/{id},404} = %v, want 1", got)
	}

	m.ObserveAccepted("payment.confirmed")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	for _, want := range []string{
		`requestnet_webhook_deliveries_total{event="payment.confirmed",outcome="accepted"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestOutcomeFor(t *testing.T) {
	if got := OutcomeFor(webhook.ErrInvalidFormat); got != OutcomeBadSignature {
		t.Errorf("OutcomeFor(signature) = %q", got)
	}
	if got := OutcomeFor(webhook.ErrRawBodyUnavailable); got != OutcomeFailed {
		t.Errorf("OutcomeFor(raw body) = %q", got)
	}
}
