package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BaseURL is the resource root the embedded schemas are compiled under.
const BaseURL = "https://schemas.request.network/webhooks/"

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrUnknownEvent is returned for event names outside the registry.
var ErrUnknownEvent = errors.New("unknown webhook event")

// Payload is the sum type of webhook payloads, discriminated by EventName.
type Payload interface {
	EventName() string
}

// DecodeFunc turns a schema-valid raw body into its typed payload.
type DecodeFunc func(raw []byte) (Payload, error)

// Decoder returns a DecodeFunc that unmarshals into P.
func Decoder[P Payload]() DecodeFunc {
	return func(raw []byte) (Payload, error) {
		var p P
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
}

func rawDecoder(name string) DecodeFunc {
	return func(raw []byte) (Payload, error) {
		fields := make(map[string]any)
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		return RawPayload{Name: name, Fields: fields}, nil
	}
}

type entry struct {
	schema *jsonschema.Schema
	decode DecodeFunc
}

// Registry maps event names to their schema and payload decoder.
// It is the single source of truth for which events exist.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds an event. A nil decode stores payloads as RawPayload.
func (r *Registry) Register(name string, s *jsonschema.Schema, decode DecodeFunc) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("event name is empty")
	}
	if s == nil {
		return fmt.Errorf("event %q: schema is nil", name)
	}
	if decode == nil {
		decode = rawDecoder(name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("event %q already registered", name)
	}
	r.entries[name] = entry{schema: s, decode: decode}
	return nil
}

// Schema returns the compiled schema for name.
func (r *Registry) Schema(name string) (*jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.schema, ok
}

// Known reports whether name is a registered event.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Events lists registered event names in sorted order.
func (r *Registry) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks doc (a value produced by encoding/json) against the
// schema registered for name.
func (r *Registry) Validate(name string, doc any) error {
	s, ok := r.Schema(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	return s.Validate(doc)
}

// Decode converts raw into the typed payload registered for name.
func (r *Registry) Decode(name string, raw []byte) (Payload, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	p, err := e.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", name, err)
	}
	return p, nil
}

var builtinDecoders = map[string]DecodeFunc{
	EventPaymentConfirmed:     Decoder[PaymentConfirmed](),
	EventPaymentFailed:        Decoder[PaymentFailed](),
	EventPaymentProcessing:    Decoder[PaymentProcessing](),
	EventPaymentPartial:       Decoder[PaymentPartial](),
	EventPaymentRefunded:      Decoder[PaymentRefunded](),
	EventPaymentDetailUpdated: Decoder[PaymentDetailUpdated](),
	EventComplianceUpdated:    Decoder[ComplianceUpdated](),
	EventRequestRecurring:     Decoder[RequestRecurring](),
}

// LoadBuiltin compiles the embedded schemas and registers every built-in event on r.
func LoadBuiltin(r *Registry) error {
	files, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return fmt.Errorf("read embedded schemas: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, f := range files {
		data, err := schemaFS.ReadFile(path.Join("schemas", f.Name()))
		if err != nil {
			return fmt.Errorf("read schema %s: %w", f.Name(), err)
		}
		if err := c.AddResource(BaseURL+f.Name(), bytes.NewReader(data)); err != nil {
			return fmt.Errorf("add schema resource %s: %w", f.Name(), err)
		}
	}

	names := make([]string, 0, len(builtinDecoders))
	for name := range builtinDecoders {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s, err := c.Compile(BaseURL + name + ".json")
		if err != nil {
			return fmt.Errorf("compile schema %s: %w", name, err)
		}
		if err := r.Register(name, s, builtinDecoders[name]); err != nil {
			return err
		}
	}
	return nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry holding the built-in events.
// It is populated on first use and panics if the embedded schemas fail to compile.
func Default() *Registry {
	defaultOnce.Do(func() {
		r := NewRegistry()
		if err := LoadBuiltin(r); err != nil {
			panic(fmt.Sprintf("schema: load builtin schemas: %v", err))
		}
		defaultRegistry = r
	})
	return defaultRegistry
}
