package webhook

import (
	"bytes"
	"encoding/hex"
	"maps"
	"strings"

	"github.com/mattjoyce/requestnet/pkg/schema"
	"github.com/zeebo/blake3"
)

// ParsedEvent is a verified, schema-valid webhook delivery. It is immutable:
// accessors hand out copies, and the raw body is the exact buffer that was
// hashed during verification.
type ParsedEvent struct {
	event         string
	payload       schema.Payload
	signature     string
	matchedSecret string
	matchedIndex  int
	timestamp     *int64
	rawBody       []byte
	headers       map[string]string
	verified      bool
}

// Event returns the event name.
func (e *ParsedEvent) Event() string { return e.event }

// Payload returns the typed payload; switch on its concrete type.
func (e *ParsedEvent) Payload() schema.Payload { return e.payload }

// Signature returns the normalized hex signature, false when verification was skipped.
func (e *ParsedEvent) Signature() (string, bool) { return e.signature, e.verified }

// MatchedSecret returns the secret that validated the signature.
func (e *ParsedEvent) MatchedSecret() (string, bool) { return e.matchedSecret, e.verified }

// MatchedSecretIndex is the position of the matching secret in the
// configured list, or -1 when verification was skipped.
func (e *ParsedEvent) MatchedSecretIndex() int {
	if !e.verified {
		return -1
	}
	return e.matchedIndex
}

// Timestamp returns the delivery time in ms since epoch, if one was resolved.
func (e *ParsedEvent) Timestamp() (int64, bool) {
	if e.timestamp == nil {
		return 0, false
	}
	return *e.timestamp, true
}

// Verified reports whether the signature was checked.
func (e *ParsedEvent) Verified() bool { return e.verified }

// RawBody returns a copy of the verified bytes.
func (e *ParsedEvent) RawBody() []byte { return bytes.Clone(e.rawBody) }

// Headers returns a copy of the lower-cased header map.
func (e *ParsedEvent) Headers() map[string]string { return maps.Clone(e.headers) }

// Header returns a single header value, case-insensitively.
func (e *ParsedEvent) Header(name string) string { return e.headers[strings.ToLower(name)] }

// Fingerprint is the BLAKE3-256 hex digest of the raw body. Identical
// redeliveries share a fingerprint, which makes it usable as idempotency-key
// material by whoever owns business state.
func (e *ParsedEvent) Fingerprint() string {
	sum := blake3.Sum256(e.rawBody)
	return hex.EncodeToString(sum[:])
}
