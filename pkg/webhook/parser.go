package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mattjoyce/requestnet/pkg/schema"
)

// ParseOptions describes one inbound delivery.
type ParseOptions struct {
	// RawBody is the request body exactly as received: []byte, string,
	// json.RawMessage, *bytes.Buffer or io.Reader.
	RawBody any
	Headers any
	Secrets []string

	// SkipVerification bypasses the signature check. Development only.
	SkipVerification bool

	Signature       string
	SignatureHeader string
	TimestampHeader string
	Tolerance       time.Duration
	TimestampUnit   TimestampUnit
	Now             func() time.Time
}

// Parser verifies and decodes deliveries against a schema registry.
type Parser struct {
	registry *schema.Registry
}

// NewParser returns a parser bound to reg, or to schema.Default() when reg is nil.
func NewParser(reg *schema.Registry) *Parser {
	if reg == nil {
		reg = schema.Default()
	}
	return &Parser{registry: reg}
}

// Parse verifies, decodes and validates a delivery using the default registry.
func Parse(opts ParseOptions) (*ParsedEvent, error) {
	return NewParser(nil).Parse(opts)
}

// Parse runs every gate in order and returns no partial result on failure:
// canonical bytes, signature, JSON, event name, known event, schema, typed decode.
func (p *Parser) Parse(opts ParseOptions) (*ParsedEvent, error) {
	body, err := ToCanonicalBytes(opts.RawBody)
	if err != nil {
		return nil, err
	}

	var v *Verification
	if !opts.SkipVerification {
		v, err = Verify(VerifyOptions{
			RawBody:         body,
			Secrets:         opts.Secrets,
			Headers:         opts.Headers,
			Signature:       opts.Signature,
			SignatureHeader: opts.SignatureHeader,
			TimestampHeader: opts.TimestampHeader,
			Tolerance:       opts.Tolerance,
			TimestampUnit:   opts.TimestampUnit,
			Now:             opts.Now,
		})
		if err != nil {
			return nil, err
		}
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &ValidationError{Kind: KindInvalidJSON, Message: "Invalid webhook JSON payload", Err: err}
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, &ValidationError{Kind: KindInvalidShape, Message: "Webhook payload must be a JSON object"}
	}
	name, ok := obj["event"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return nil, &ValidationError{Kind: KindInvalidShape, Message: "Webhook payload is missing the event field"}
	}

	if !p.registry.Known(name) {
		return nil, &ValidationError{
			Kind:    KindUnknownEvent,
			Message: "Unknown webhook event: " + name,
			Event:   name,
			Err:     schema.ErrUnknownEvent,
		}
	}

	if err := p.registry.Validate(name, doc); err != nil {
		return nil, &ValidationError{
			Kind:    KindSchema,
			Message: "Webhook payload does not match the " + name + " schema",
			Event:   name,
			Err:     err,
		}
	}

	payload, err := p.registry.Decode(name, body)
	if err != nil {
		return nil, &ValidationError{Kind: KindSchema, Message: "Webhook payload could not be decoded", Event: name, Err: err}
	}

	ev := &ParsedEvent{
		event:    name,
		payload:  payload,
		rawBody:  body,
		headers:  NormalizeHeaders(opts.Headers),
		verified: v != nil,
	}
	if v != nil {
		ev.signature = v.Signature
		ev.matchedSecret = v.MatchedSecret
		ev.matchedIndex = v.MatchedIndex
		ev.timestamp = v.Timestamp
	}
	return ev, nil
}
