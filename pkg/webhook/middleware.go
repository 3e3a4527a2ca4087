package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/requestnet/pkg/schema"
)

// EnvDisableVerification, when "true", forces every middleware built
// afterwards to skip signature checks. It is read once at construction and
// applies to the whole instance, so it must never be set in production or in
// multi-tenant processes.
const EnvDisableVerification = "REQUEST_WEBHOOK_DISABLE_VERIFICATION"

// DefaultMaxBodySize caps how much of a request body the middleware reads.
const DefaultMaxBodySize = 1048576 // 1 MB

// Dispatcher receives every successfully parsed event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *ParsedEvent) error
}

// SignatureErrorResponse is the 401 body for rejected signatures.
type SignatureErrorResponse struct {
	Error  string `json:"error"`
	Reason Reason `json:"reason"`
}

// ErrorResponse is the body written by DefaultErrorHandler.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// MiddlewareOptions configures NewMiddleware.
type MiddlewareOptions struct {
	// Secrets are tried in order; list old and new secrets together while rotating.
	Secrets []string

	Dispatcher Dispatcher

	// OnEvent runs after dispatch. With DisableAutoNext it owns the response.
	OnEvent func(w http.ResponseWriter, r *http.Request, ev *ParsedEvent) error

	// OnError observes failures other than signature rejections.
	OnError func(r *http.Request, err error)

	// ErrorHandler is where failures are handed off, like an error-aware next.
	// Defaults to DefaultErrorHandler.
	ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

	Logger *slog.Logger

	// RawBody extracts the unparsed request bytes. The default prefers bytes
	// stored with WithRawBody and falls back to reading r.Body.
	RawBody func(r *http.Request) ([]byte, error)

	SkipVerification bool
	// SkipVerificationFunc decides per request and takes priority over SkipVerification.
	SkipVerificationFunc func(r *http.Request) bool

	// DisableAutoNext stops the middleware from calling the next handler or
	// the ErrorHandler; the caller controls the response entirely.
	DisableAutoNext bool

	// ContextKey stores the parsed event on the request context. Defaults to
	// the key read by EventFromContext.
	ContextKey any

	Registry        *schema.Registry
	SignatureHeader string
	TimestampHeader string
	Tolerance       time.Duration
	TimestampUnit   TimestampUnit
	MaxBodySize     int64
	Now             func() time.Time
}

type contextKey struct{ name string }

var (
	eventContextKey   = &contextKey{"webhook-event"}
	rawBodyContextKey = &contextKey{"webhook-raw-body"}
)

// WithRawBody stores the raw request bytes for the middleware to verify.
// Use it when an earlier layer has already consumed r.Body.
func WithRawBody(ctx context.Context, body []byte) context.Context {
	return context.WithValue(ctx, rawBodyContextKey, body)
}

// RawBodyFromContext returns bytes stored by WithRawBody.
func RawBodyFromContext(ctx context.Context) ([]byte, bool) {
	b, ok := ctx.Value(rawBodyContextKey).([]byte)
	return b, ok
}

// EventFromContext returns the event attached by a middleware using the default ContextKey.
func EventFromContext(ctx context.Context) (*ParsedEvent, bool) {
	ev, ok := ctx.Value(eventContextKey).(*ParsedEvent)
	return ev, ok
}

type middleware struct {
	opts         MiddlewareOptions
	parser       *Parser
	logger       *slog.Logger
	contextKey   any
	errorHandler func(w http.ResponseWriter, r *http.Request, err error)
	rawBody      func(r *http.Request) ([]byte, error)
	envBypass    bool
}

// NewMiddleware builds an http middleware that verifies, parses and
// dispatches webhook deliveries before handing the request to next.
func NewMiddleware(opts MiddlewareOptions) (func(http.Handler) http.Handler, error) {
	m := &middleware{
		opts:         opts,
		parser:       NewParser(opts.Registry),
		logger:       opts.Logger,
		contextKey:   opts.ContextKey,
		errorHandler: opts.ErrorHandler,
		rawBody:      opts.RawBody,
		envBypass:    verificationDisabledByEnv(),
	}
	if m.logger == nil {
		m.logger = slog.Default().With(slog.String("component", "webhook"))
	}
	if m.contextKey == nil {
		m.contextKey = eventContextKey
	}
	if m.errorHandler == nil {
		m.errorHandler = DefaultErrorHandler
	}
	if m.rawBody == nil {
		m.rawBody = m.readRawBody
	}
	if m.opts.MaxBodySize <= 0 {
		m.opts.MaxBodySize = DefaultMaxBodySize
	}

	bypass := opts.SkipVerification || m.envBypass
	if !bypass && len(usableSecrets(opts.Secrets)) == 0 {
		return nil, ErrNoSecrets
	}
	if m.envBypass {
		m.logger.Warn("webhook signature verification disabled by environment", "env", EnvDisableVerification)
	}

	return m.wrap, nil
}

func verificationDisabledByEnv() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(EnvDisableVerification)), "true")
}

func (m *middleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww, ok := w.(chimw.WrapResponseWriter)
		if !ok {
			ww = chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		}

		body, err := m.rawBody(r)
		if err == nil && body == nil {
			err = ErrRawBodyUnavailable
		}
		if err != nil {
			m.fail(ww, r, err)
			return
		}

		ev, err := m.parser.Parse(ParseOptions{
			RawBody:          body,
			Headers:          r.Header,
			Secrets:          m.opts.Secrets,
			SkipVerification: m.skipVerification(r),
			SignatureHeader:  m.opts.SignatureHeader,
			TimestampHeader:  m.opts.TimestampHeader,
			Tolerance:        m.opts.Tolerance,
			TimestampUnit:    m.opts.TimestampUnit,
			Now:              m.opts.Now,
		})
		if err != nil {
			m.fail(ww, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), m.contextKey, ev)
		r = r.WithContext(ctx)

		if m.opts.Dispatcher != nil {
			if err := m.opts.Dispatcher.Dispatch(ctx, ev); err != nil {
				m.fail(ww, r, err)
				return
			}
		}
		if m.opts.OnEvent != nil {
			if err := m.opts.OnEvent(ww, r, ev); err != nil {
				m.fail(ww, r, err)
				return
			}
		}

		if !m.opts.DisableAutoNext {
			next.ServeHTTP(ww, r)
		}
	})
}

func (m *middleware) skipVerification(r *http.Request) bool {
	if m.opts.SkipVerificationFunc != nil {
		return m.opts.SkipVerificationFunc(r)
	}
	return m.opts.SkipVerification || m.envBypass
}

func (m *middleware) readRawBody(r *http.Request) ([]byte, error) {
	if b, ok := RawBodyFromContext(r.Context()); ok {
		return b, nil
	}
	if r.Body == nil {
		return nil, ErrRawBodyUnavailable
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, m.opts.MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read webhook body: %w", err)
	}
	if int64(len(data)) > m.opts.MaxBodySize {
		return nil, ErrBodyTooLarge
	}
	// Downstream handlers can still read the body.
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func (m *middleware) fail(w chimw.WrapResponseWriter, r *http.Request, err error) {
	var sigErr *SignatureError
	if errors.As(err, &sigErr) {
		if w.Status() == 0 {
			writeJSON(w, http.StatusUnauthorized, SignatureErrorResponse{
				Error:  "invalid_webhook_signature",
				Reason: sigErr.Reason,
			})
		}
		attrs := []any{
			"reason", sigErr.Reason,
			"header", sigErr.Header,
			"path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
		}
		if sigErr.Timestamp != nil {
			attrs = append(attrs, "timestamp_ms", *sigErr.Timestamp)
		}
		m.logger.Warn("webhook signature rejected", attrs...)
		if !m.opts.DisableAutoNext {
			m.errorHandler(w, r, err)
		}
		return
	}

	m.logger.Error("webhook processing failed",
		"path", r.URL.Path,
		"request_id", chimw.GetReqID(r.Context()),
		"error", err,
	)
	if m.opts.OnError != nil {
		m.opts.OnError(r, err)
	}
	if !m.opts.DisableAutoNext {
		m.errorHandler(w, r, err)
	}
}

// StatusFor maps a middleware failure to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case IsSignatureError(err):
		return http.StatusUnauthorized
	case IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// DefaultErrorHandler writes a JSON error unless a response was already sent.
// Details are only exposed for payload validation failures.
func DefaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if ww, ok := w.(chimw.WrapResponseWriter); ok && ww.Status() != 0 {
		return
	}

	status := StatusFor(err)
	resp := ErrorResponse{Error: "webhook_processing_failed"}
	switch status {
	case http.StatusUnauthorized:
		resp.Error = "invalid_webhook_signature"
	case http.StatusBadRequest:
		resp.Error = "invalid_webhook_payload"
		resp.Message = err.Error()
	case http.StatusRequestEntityTooLarge:
		resp.Error = "payload_too_large"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
