package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
)

// ErrUnsupportedBody is returned when a body is not byte-like.
var ErrUnsupportedBody = errors.New("webhook body must be a string or byte sequence")

// NormalizeHeaders lower-cases every key and collapses every value to a
// single string. Accepted inputs are http.Header, map[string][]string,
// map[string]string and map[string]any. For multi-valued entries the first
// non-empty value wins; nil and empty entries are dropped.
func NormalizeHeaders(headers any) map[string]string {
	out := make(map[string]string)
	switch h := headers.(type) {
	case nil:
	case http.Header:
		for _, k := range sortedKeys(h) {
			setFirst(out, k, h[k])
		}
	case map[string][]string:
		for _, k := range sortedKeys(h) {
			setFirst(out, k, h[k])
		}
	case map[string]string:
		for _, k := range sortedKeys(h) {
			if v := h[k]; v != "" {
				put(out, k, v)
			}
		}
	case map[string]any:
		for _, k := range sortedKeys(h) {
			if s, ok := headerValue(h[k]); ok {
				put(out, k, s)
			}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// put stores v under the lower-cased key. Among keys that differ only in
// case, an already lower-case key wins, otherwise the first in sorted order.
func put(out map[string]string, key, v string) {
	lk := strings.ToLower(key)
	if _, taken := out[lk]; taken && key != lk {
		return
	}
	out[lk] = v
}

func setFirst(out map[string]string, key string, values []string) {
	for _, v := range values {
		if v != "" {
			put(out, key, v)
			return
		}
	}
}

func headerValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, val != ""
	case []string:
		for _, s := range val {
			if s != "" {
				return s, true
			}
		}
		return "", false
	case []any:
		for _, item := range val {
			if s, ok := headerValue(item); ok {
				return s, true
			}
		}
		return "", false
	case fmt.Stringer:
		s := val.String()
		return s, s != ""
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return fmt.Sprint(val), true
	default:
		return "", false
	}
}

// PickHeader looks up name case-insensitively. The literal key is tried
// before the lower-cased one so that native header containers keep working.
func PickHeader(headers any, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	lower := strings.ToLower(name)
	switch h := headers.(type) {
	case http.Header:
		if v := h.Get(name); v != "" {
			return v, true
		}
	case map[string]string:
		if v := h[name]; v != "" {
			return v, true
		}
		if v := h[lower]; v != "" {
			return v, true
		}
	case map[string][]string:
		for _, key := range []string{name, lower} {
			for _, v := range h[key] {
				if v != "" {
					return v, true
				}
			}
		}
	case map[string]any:
		for _, key := range []string{name, lower} {
			if v, ok := headerValue(h[key]); ok {
				return v, true
			}
		}
	}
	v, ok := NormalizeHeaders(headers)[lower]
	return v, ok
}

// ToCanonicalBytes returns a private copy of the exact bytes in body.
// Strings are taken as their UTF-8 bytes without re-encoding.
func ToCanonicalBytes(body any) ([]byte, error) {
	switch b := body.(type) {
	case []byte:
		return bytes.Clone(nonNil(b)), nil
	case json.RawMessage:
		return bytes.Clone(nonNil(b)), nil
	case string:
		return []byte(b), nil
	case *bytes.Buffer:
		if b == nil {
			return nil, ErrUnsupportedBody
		}
		return bytes.Clone(nonNil(b.Bytes())), nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, fmt.Errorf("read webhook body: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w (got %T)", ErrUnsupportedBody, body)
	}
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
