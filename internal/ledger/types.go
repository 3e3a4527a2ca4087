package ledger

import (
	"encoding/json"
	"errors"
	"time"
)

// Delivery is one accepted webhook delivery as recorded in the ledger.
type Delivery struct {
	ID          string `json:"id"`
	Event       string `json:"event"`
	RequestID   string `json:"request_id,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Verified    bool   `json:"verified"`
	// SecretIndex is the position of the matching secret, -1 when unverified.
	SecretIndex   int             `json:"secret_index"`
	Signature     string          `json:"signature,omitempty"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
	HTTPRequestID string          `json:"http_request_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// RecordRequest carries what is stored for a new delivery.
type RecordRequest struct {
	Event         string
	RequestID     string
	Fingerprint   string
	Verified      bool
	SecretIndex   int
	Signature     string
	DeliveredAt   *time.Time
	HTTPRequestID string
	Payload       json.RawMessage
}

// Filter narrows Recent.
type Filter struct {
	Event string
	// Limit caps the rows returned; zero means DefaultLimit.
	Limit int
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var ErrDeliveryNotFound = errors.New("delivery not found")
