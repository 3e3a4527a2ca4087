// Package webhook verifies and decodes Request Network webhook deliveries.
//
// Every delivery carries an HMAC-SHA256 of the raw request body in the
// x-request-network-signature header, either as plain hex or as
// "sha256=<hex>". Verification happens on the exact bytes received, so the
// body must reach this package before any JSON middleware re-serializes it.
//
// # Security Model
//
//   - Signatures compared with hmac.Equal (constant time)
//   - Wrong-length signatures rejected before any comparison
//   - Several secrets accepted at once for zero-downtime rotation
//   - Optional timestamp header with a freshness window
//   - 401 responses expose only the failure reason, never expected digests
//
// # Pipeline
//
//  1. Raw body copied once into a private buffer
//  2. Signature verified against every configured secret
//  3. Body decoded as JSON; the "event" field names the event
//  4. Unknown events rejected before schema validation
//  5. Payload validated against the event's JSON Schema
//  6. Typed payload decoded into an immutable ParsedEvent
//
// # Errors
//
//   - *SignatureError: missing_signature, invalid_format, invalid_signature, tolerance_exceeded
//   - *ValidationError: invalid JSON, missing event, unknown event, schema mismatch
//   - ErrRawBodyUnavailable: the host consumed the body (setup defect)
//
// # Example Usage
//
//	d := dispatch.New()
//	dispatch.Handle(d, func(ctx context.Context, p schema.PaymentConfirmed, ev *webhook.ParsedEvent) error {
//		return invoices.MarkPaid(ctx, p.RequestID)
//	})
//
//	mw, err := webhook.NewMiddleware(webhook.MiddlewareOptions{
//		Secrets:    []string{os.Getenv("REQUEST_WEBHOOK_SECRET"), os.Getenv("REQUEST_WEBHOOK_SECRET_PREVIOUS")},
//		Dispatcher: d,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	r := chi.NewRouter()
//	r.With(mw).Post("/webhooks/request", func(w http.ResponseWriter, r *http.Request) {
//		w.WriteHeader(http.StatusOK)
//	})
//
// Setting REQUEST_WEBHOOK_DISABLE_VERIFICATION=true skips signature checks for
// every middleware built in the process. It exists for local development only.
package webhook
