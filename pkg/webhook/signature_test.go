package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headerWith(sig string) http.Header {
	h := http.Header{}
	h.Set(DefaultSignatureHeader, sig)
	return h
}

func requireReason(t *testing.T, err error, want Reason) *SignatureError {
	t.Helper()
	var se *SignatureError
	require.True(t, errors.As(err, &se), "expected *SignatureError, got %T (%v)", err, err)
	assert.Equal(t, want, se.Reason)
	return se
}

func TestVerify(t *testing.T) {
	secret := "test-secret-key"
	body := []byte(`{"event":"payment.confirmed","requestId":"req-1"}`)
	expectedSig := Sign(body, secret)

	tests := []struct {
		name       string
		body       []byte
		signature  string
		secrets    []string
		wantReason Reason
	}{
		{
			name:      "valid signature - plain hex",
			body:      body,
			signature: expectedSig,
			secrets:   []string{secret},
		},
		{
			name:      "valid signature - prefixed",
			body:      body,
			signature: FormatSignature(expectedSig),
			secrets:   []string{secret},
		},
		{
			name:      "valid signature - upper-case prefix and hex",
			body:      body,
			signature: "SHA256=" + strings.ToUpper(expectedSig),
			secrets:   []string{secret},
		},
		{
			name:       "invalid signature - wrong signature",
			body:       body,
			signature:  strings.Repeat("0", 64),
			secrets:    []string{secret},
			wantReason: ReasonInvalidSignature,
		},
		{
			name:       "invalid signature - tampered body",
			body:       []byte(`{"event":"payment.confirmed","requestId":"req-2"}`),
			signature:  expectedSig,
			secrets:    []string{secret},
			wantReason: ReasonInvalidSignature,
		},
		{
			name:       "invalid signature - wrong secret",
			body:       body,
			signature:  expectedSig,
			secrets:    []string{"wrong-secret"},
			wantReason: ReasonInvalidSignature,
		},
		{
			name:       "missing signature",
			body:       body,
			signature:  "",
			secrets:    []string{secret},
			wantReason: ReasonMissingSignature,
		},
		{
			name:       "malformed hex",
			body:       body,
			signature:  "not-valid-hex",
			secrets:    []string{secret},
			wantReason: ReasonInvalidFormat,
		},
		{
			name:       "odd length hex",
			body:       body,
			signature:  expectedSig[:63],
			secrets:    []string{secret},
			wantReason: ReasonInvalidFormat,
		},
		{
			name:       "unsupported algorithm prefix",
			body:       body,
			signature:  "sha1=" + expectedSig,
			secrets:    []string{secret},
			wantReason: ReasonInvalidFormat,
		},
		{
			name:       "empty after prefix",
			body:       body,
			signature:  "sha256=",
			secrets:    []string{secret},
			wantReason: ReasonInvalidFormat,
		},
		{
			name:       "wrong length signature",
			body:       body,
			signature:  expectedSig[:32],
			secrets:    []string{secret},
			wantReason: ReasonInvalidFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.signature != "" {
				h.Set(DefaultSignatureHeader, tt.signature)
			}
			v, err := Verify(VerifyOptions{RawBody: tt.body, Secrets: tt.secrets, Headers: h})
			if tt.wantReason == "" {
				require.NoError(t, err)
				assert.Equal(t, expectedSig, v.Signature)
				assert.Equal(t, secret, v.MatchedSecret)
				assert.Equal(t, 0, v.MatchedIndex)
				return
			}
			se := requireReason(t, err, tt.wantReason)
			assert.Equal(t, DefaultSignatureHeader, se.Header)
			assert.Equal(t, tt.signature, se.Signature)
		})
	}
}

func TestVerifyRoundTripAcrossBodies(t *testing.T) {
	bodies := [][]byte{
		{},
		[]byte("plain text"),
		[]byte(`{"event":"payment.partial","requestId":"r"}`),
		{0x00, 0xff, 0x10, 0x80},
		[]byte(strings.Repeat("x", 4096)),
	}
	for i, b := range bodies {
		for _, secret := range []string{"s", "whsec_test_secret", strings.Repeat("k", 128)} {
			v, err := Verify(VerifyOptions{RawBody: b, Secrets: []string{secret}, Signature: Sign(b, secret)})
			require.NoError(t, err, "body %d secret %q", i, secret)
			assert.Equal(t, secret, v.MatchedSecret)

			tampered := append([]byte{}, b...)
			tampered = append(tampered, '!')
			_, err = Verify(VerifyOptions{RawBody: tampered, Secrets: []string{secret}, Signature: Sign(b, secret)})
			requireReason(t, err, ReasonInvalidSignature)
		}
	}
}

func TestVerifySecretRotation(t *testing.T) {
	body := []byte(`{"event":"payment.confirmed","requestId":"req-1"}`)
	oldSecret, newSecret := "whsec_old", "whsec_new"
	secrets := []string{oldSecret, newSecret}

	v, err := Verify(VerifyOptions{RawBody: body, Secrets: secrets, Signature: Sign(body, oldSecret)})
	require.NoError(t, err)
	assert.Equal(t, oldSecret, v.MatchedSecret)
	assert.Equal(t, 0, v.MatchedIndex)

	v, err = Verify(VerifyOptions{RawBody: body, Secrets: secrets, Signature: Sign(body, newSecret)})
	require.NoError(t, err)
	assert.Equal(t, newSecret, v.MatchedSecret)
	assert.Equal(t, 1, v.MatchedIndex)

	_, err = Verify(VerifyOptions{RawBody: body, Secrets: secrets, Signature: Sign(body, "whsec_other")})
	requireReason(t, err, ReasonInvalidSignature)
}

func TestVerifySkipsEmptySecretsButKeepsIndex(t *testing.T) {
	body := []byte("payload")
	v, err := Verify(VerifyOptions{RawBody: body, Secrets: []string{"", "second"}, Signature: Sign(body, "second")})
	require.NoError(t, err)
	assert.Equal(t, 1, v.MatchedIndex)
}

func TestVerifyWithoutSecrets(t *testing.T) {
	body := []byte("payload")
	_, err := Verify(VerifyOptions{RawBody: body, Secrets: []string{""}, Signature: Sign(body, "x")})
	assert.ErrorIs(t, err, ErrNoSecrets)
	assert.False(t, IsSignatureError(err))
}

func TestVerifyLengthMismatchNeverCompares(t *testing.T) {
	body := []byte("payload")
	// A prefix of the correct digest must not be accepted.
	full := Sign(body, "secret")
	for _, n := range []int{2, 30, 62, 66} {
		sig := full
		if n < len(full) {
			sig = full[:n]
		} else {
			sig = full + "ab"
		}
		_, err := Verify(VerifyOptions{RawBody: body, Secrets: []string{"secret"}, Signature: sig})
		se := requireReason(t, err, ReasonInvalidFormat)
		assert.Contains(t, se.Error(), "want 32")
	}
}

func TestVerifyExplicitSignatureOverridesHeader(t *testing.T) {
	body := []byte("payload")
	h := headerWith("deadbeef")
	v, err := Verify(VerifyOptions{RawBody: body, Secrets: []string{"s"}, Headers: h, Signature: Sign(body, "s")})
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", v.Headers[DefaultSignatureHeader])
}

func TestVerifyCustomHeaderName(t *testing.T) {
	body := []byte("payload")
	headers := map[string]string{"X-Custom-Sig": Sign(body, "s")}

	_, err := Verify(VerifyOptions{RawBody: body, Secrets: []string{"s"}, Headers: headers, SignatureHeader: "x-custom-sig"})
	require.NoError(t, err)

	_, err = Verify(VerifyOptions{RawBody: body, Secrets: []string{"s"}, Headers: headers})
	se := requireReason(t, err, ReasonMissingSignature)
	assert.Equal(t, DefaultSignatureHeader, se.Header)
}

func TestVerifyTimestampTolerance(t *testing.T) {
	body := []byte(`{"event":"payment.confirmed","requestId":"req-1"}`)
	secret := "s"
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tests := []struct {
		name       string
		timestamp  string
		unit       TimestampUnit
		wantMillis int64
		wantReason Reason
	}{
		{
			name:       "seconds within window",
			timestamp:  strconv.FormatInt(now.Add(-2*time.Minute).Unix(), 10),
			unit:       TimestampSeconds,
			wantMillis: now.Add(-2 * time.Minute).UnixMilli(),
		},
		{
			name:       "milliseconds within window",
			timestamp:  strconv.FormatInt(now.Add(time.Minute).UnixMilli(), 10),
			wantMillis: now.Add(time.Minute).UnixMilli(),
		},
		{
			name:       "rfc3339 within window",
			timestamp:  now.Add(-30 * time.Second).Format(time.RFC3339),
			wantMillis: now.Add(-30 * time.Second).UnixMilli(),
		},
		{
			name:       "http date within window",
			timestamp:  now.Add(-30 * time.Second).Format(time.RFC1123),
			wantMillis: now.Add(-30 * time.Second).UnixMilli(),
		},
		{
			name:       "stale seconds",
			timestamp:  strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10),
			unit:       TimestampSeconds,
			wantReason: ReasonToleranceExceeded,
		},
		{
			name:       "future beyond window",
			timestamp:  strconv.FormatInt(now.Add(10*time.Minute).UnixMilli(), 10),
			wantReason: ReasonToleranceExceeded,
		},
		{
			name:       "hard-coded milliseconds unit",
			timestamp:  strconv.FormatInt(now.UnixMilli(), 10),
			unit:       TimestampMilliseconds,
			wantMillis: now.UnixMilli(),
		},
		{
			name:       "hard-coded seconds unit misreads milliseconds",
			timestamp:  strconv.FormatInt(now.UnixMilli(), 10),
			unit:       TimestampSeconds,
			wantReason: ReasonToleranceExceeded,
		},
		{
			name:       "auto unit reads current epoch seconds as milliseconds",
			timestamp:  strconv.FormatInt(now.Unix(), 10),
			wantReason: ReasonToleranceExceeded,
		},
		{
			name:       "garbage timestamp",
			timestamp:  "yesterday-ish",
			wantReason: ReasonInvalidFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := headerWith(FormatSignature(Sign(body, secret)))
			h.Set("X-Request-Network-Timestamp", tt.timestamp)

			v, err := Verify(VerifyOptions{
				RawBody:         body,
				Secrets:         []string{secret},
				Headers:         h,
				TimestampHeader: "x-request-network-timestamp",
				Tolerance:       5 * time.Minute,
				TimestampUnit:   tt.unit,
				Now:             clock,
			})
			if tt.wantReason != "" {
				se := requireReason(t, err, tt.wantReason)
				if tt.wantReason == ReasonToleranceExceeded {
					require.NotNil(t, se.Timestamp)
				}
				return
			}
			require.NoError(t, err)
			require.NotNil(t, v.Timestamp)
			assert.Equal(t, tt.wantMillis, *v.Timestamp)
		})
	}
}

func TestParseTimestampAutoThreshold(t *testing.T) {
	tests := []struct {
		value string
		unit  TimestampUnit
		want  int64
	}{
		{value: "1", unit: TimestampAuto, want: 1000},
		{value: "999999999", unit: TimestampAuto, want: 999999999000},
		{value: "1000000000", unit: TimestampAuto, want: 1000000000},
		{value: "1700000000", unit: TimestampAuto, want: 1700000000},
		{value: "1700000000000", unit: TimestampAuto, want: 1700000000000},
		{value: "1700000000", unit: "", want: 1700000000},
		{value: "1700000000", unit: TimestampSeconds, want: 1700000000000},
		{value: "999999999", unit: TimestampMilliseconds, want: 999999999},
	}

	for _, tt := range tests {
		t.Run(string(tt.unit)+"/"+tt.value, func(t *testing.T) {
			got, err := parseTimestamp(tt.value, tt.unit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifyTimestampWithoutTolerance(t *testing.T) {
	body := []byte("payload")
	h := headerWith(Sign(body, "s"))
	h.Set("X-Timestamp", "1")

	v, err := Verify(VerifyOptions{RawBody: body, Secrets: []string{"s"}, Headers: h, TimestampHeader: "x-timestamp"})
	require.NoError(t, err)
	require.NotNil(t, v.Timestamp)
	assert.Equal(t, int64(1000), *v.Timestamp)
}

func TestVerifyTimestampHeaderAbsent(t *testing.T) {
	body := []byte("payload")
	v, err := Verify(VerifyOptions{
		RawBody:         body,
		Secrets:         []string{"s"},
		Headers:         headerWith(Sign(body, "s")),
		TimestampHeader: "x-timestamp",
		Tolerance:       time.Second,
	})
	require.NoError(t, err)
	assert.Nil(t, v.Timestamp)
}

func TestSignatureErrorIs(t *testing.T) {
	err := error(&SignatureError{Reason: ReasonInvalidSignature, Header: "h"})
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.NotErrorIs(t, err, ErrMissingSignature)
	assert.True(t, IsSignatureError(err))
	assert.Contains(t, err.Error(), "invalid_signature")
}

func TestSignMatchesStdlibHMAC(t *testing.T) {
	body := []byte("test payload")
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write(body)

	sig := Sign(body, "test-secret")
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
	assert.Len(t, sig, 64)
	assert.NotEqual(t, sig, Sign([]byte("different"), "test-secret"))
	assert.Equal(t, "sha256="+sig, FormatSignature(sig))
}

func TestParseSignature(t *testing.T) {
	tests := []struct {
		name      string
		signature string
		want      string
		wantErr   bool
	}{
		{name: "prefixed", signature: "sha256=3a8f7b2c", want: "3a8f7b2c"},
		{name: "plain hex", signature: "3a8f7b2c", want: "3a8f7b2c"},
		{name: "spaces around prefix", signature: " sha256 = 3a8f ", want: "3a8f"},
		{name: "invalid hex", signature: "zz", wantErr: true},
		{name: "unknown algorithm", signature: "md5=3a8f", wantErr: true},
		{name: "empty", signature: "sha256=", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSignature(strings.TrimSpace(tt.signature))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, hex.EncodeToString(got))
		})
	}
}
