// Package schema holds the closed set of Request Network webhook events.
//
// Each event name maps to a JSON Schema (embedded from schemas/*.json and
// compiled with santhosh-tekuri/jsonschema) and to a typed payload struct.
// The payload structs form a sum type over the "event" discriminant: every
// variant implements Payload and reports its own event name, so callers can
// switch on the concrete type instead of probing for fields.
//
//	switch p := ev.Payload().(type) {
//	case schema.PaymentConfirmed:
//		markPaid(p.RequestID)
//	case schema.PaymentFailed:
//		if p.SubStatus == schema.FailedSubStatusInsufficientFunds {
//			notifyPayer(p.RequestID)
//		}
//	}
//
// Default returns the registry used by the webhook parser. Custom registries
// can be built with NewRegistry and Register for tests or private events.
package schema
