package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultSignatureHeader carries the HMAC of the raw request body.
	DefaultSignatureHeader = "x-request-network-signature"

	// Algorithm is the only accepted signature prefix.
	Algorithm = "sha256"
)

// TimestampUnit fixes how integer timestamp headers are interpreted.
type TimestampUnit string

const (
	TimestampAuto         TimestampUnit = "auto"
	TimestampSeconds      TimestampUnit = "seconds"
	TimestampMilliseconds TimestampUnit = "milliseconds"
)

// Integer timestamps below this are read as seconds in TimestampAuto mode.
// Present-day epoch seconds are above it, so senders with second
// resolution need TimestampSeconds.
const secondsThreshold = 1_000_000_000

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
}

// VerifyOptions configures a single verification.
type VerifyOptions struct {
	RawBody []byte
	Secrets []string
	Headers any

	// Signature overrides the header lookup when set.
	Signature       string
	SignatureHeader string

	// TimestampHeader enables timestamp resolution; Tolerance > 0 then
	// rejects deliveries further than Tolerance from Now.
	TimestampHeader string
	Tolerance       time.Duration
	TimestampUnit   TimestampUnit
	Now             func() time.Time
}

// Verification is the metadata of a successful verification.
type Verification struct {
	// Signature is the lowercase hex form of the supplied signature.
	Signature     string
	MatchedSecret string
	MatchedIndex  int
	// Timestamp is in ms since epoch, nil when no timestamp was resolved.
	Timestamp *int64
	Headers   map[string]string
}

// Verify checks the HMAC-SHA256 signature of opts.RawBody against each
// candidate secret in order. Comparisons are constant-time and a signature of
// the wrong length is rejected before any comparison happens.
func Verify(opts VerifyOptions) (*Verification, error) {
	header := opts.SignatureHeader
	if header == "" {
		header = DefaultSignatureHeader
	}

	raw := strings.TrimSpace(opts.Signature)
	if raw == "" {
		v, _ := PickHeader(opts.Headers, header)
		raw = strings.TrimSpace(v)
	}
	if raw == "" {
		return nil, &SignatureError{Reason: ReasonMissingSignature, Header: header}
	}

	sig, err := parseSignature(raw)
	if err != nil {
		return nil, &SignatureError{Reason: ReasonInvalidFormat, Header: header, Signature: raw, Detail: err.Error()}
	}

	var ts *int64
	if opts.TimestampHeader != "" {
		if v, ok := PickHeader(opts.Headers, opts.TimestampHeader); ok {
			ms, err := parseTimestamp(v, opts.TimestampUnit)
			if err != nil {
				return nil, &SignatureError{Reason: ReasonInvalidFormat, Header: header, Signature: raw, Detail: err.Error()}
			}
			ts = &ms
		}
	}

	if opts.Tolerance > 0 && ts != nil {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		skew := now().UnixMilli() - *ts
		if skew < 0 {
			skew = -skew
		}
		if skew > opts.Tolerance.Milliseconds() {
			return nil, &SignatureError{
				Reason:    ReasonToleranceExceeded,
				Header:    header,
				Signature: raw,
				Timestamp: ts,
				Detail:    fmt.Sprintf("delivery is %s outside a %s window", time.Duration(skew)*time.Millisecond, opts.Tolerance),
			}
		}
	}

	secrets := usableSecrets(opts.Secrets)
	if len(secrets) == 0 {
		return nil, ErrNoSecrets
	}
	digests := make([][]byte, len(secrets))
	for i, secret := range secrets {
		digests[i] = computeMAC(opts.RawBody, secret.value)
	}

	if len(sig) != sha256.Size {
		return nil, &SignatureError{
			Reason:    ReasonInvalidFormat,
			Header:    header,
			Signature: raw,
			Timestamp: ts,
			Detail:    fmt.Sprintf("signature is %d bytes, want %d", len(sig), sha256.Size),
		}
	}

	for i, digest := range digests {
		if hmac.Equal(sig, digest) {
			return &Verification{
				Signature:     hex.EncodeToString(sig),
				MatchedSecret: secrets[i].value,
				MatchedIndex:  secrets[i].index,
				Timestamp:     ts,
				Headers:       NormalizeHeaders(opts.Headers),
			}, nil
		}
	}

	return nil, &SignatureError{Reason: ReasonInvalidSignature, Header: header, Signature: raw, Timestamp: ts}
}

type candidate struct {
	value string
	index int
}

// usableSecrets drops empty secrets but keeps each secret's configured position.
func usableSecrets(secrets []string) []candidate {
	out := make([]candidate, 0, len(secrets))
	for i, s := range secrets {
		if s != "" {
			out = append(out, candidate{value: s, index: i})
		}
	}
	return out
}

// parseSignature decodes "<hex>" or "<algo>=<hex>".
func parseSignature(value string) ([]byte, error) {
	hexSig := value
	if algo, rest, found := strings.Cut(value, "="); found {
		if !strings.EqualFold(strings.TrimSpace(algo), Algorithm) {
			return nil, fmt.Errorf("unsupported signature algorithm %q", algo)
		}
		hexSig = strings.TrimSpace(rest)
	}
	if hexSig == "" {
		return nil, fmt.Errorf("signature is empty")
	}
	if len(hexSig)%2 != 0 {
		return nil, fmt.Errorf("signature has odd hex length")
	}
	decoded, err := hex.DecodeString(hexSig)
	if err != nil {
		return nil, fmt.Errorf("signature is not hex")
	}
	return decoded, nil
}

// parseTimestamp returns ms since epoch from an integer or a date string.
func parseTimestamp(value string, unit TimestampUnit) (int64, error) {
	v := strings.TrimSpace(value)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		switch unit {
		case TimestampSeconds:
			return n * 1000, nil
		case TimestampMilliseconds:
			return n, nil
		default:
			if n < secondsThreshold {
				return n * 1000, nil
			}
			return n, nil
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unrecognised timestamp %q", value)
}

func computeMAC(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign returns the lowercase hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	return hex.EncodeToString(computeMAC(body, secret))
}

// FormatSignature prefixes a hex signature with the algorithm name.
func FormatSignature(hexSig string) string {
	return Algorithm + "=" + hexSig
}
