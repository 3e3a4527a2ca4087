package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/requestnet/pkg/schema"
	"github.com/mattjoyce/requestnet/pkg/webhook"
)

// Handler processes one parsed event.
type Handler func(ctx context.Context, ev *webhook.ParsedEvent) error

// Subscription identifies a registered handler. It is the only way to
// remove that handler again.
type Subscription struct {
	id    uint64
	event string
	d     *Dispatcher
}

// ID returns a process-unique identifier for the subscription.
func (s *Subscription) ID() uint64 { return s.id }

// Event returns the event name the subscription listens to.
func (s *Subscription) Event() string { return s.event }

// Unsubscribe removes the handler. It reports false if it was already gone.
func (s *Subscription) Unsubscribe() bool {
	if s == nil || s.d == nil {
		return false
	}
	return s.d.Off(s.event, s)
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Event string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler for %s panicked: %v", e.Event, e.Value)
}

type registration struct {
	sub     *Subscription
	handler Handler
	once    bool
	fired   atomic.Bool
}

// Dispatcher routes events to handlers registered by event name.
// Handlers for one event run sequentially in registration order and the
// first error stops the chain.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]*registration
	nextID   atomic.Uint64
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New returns an empty dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string][]*registration),
		logger:   slog.Default().With(slog.String("component", "dispatch")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// On registers h for event. Registering the same function twice runs it twice.
func (d *Dispatcher) On(event string, h Handler) *Subscription {
	return d.register(event, h, false)
}

// Once registers h to run for the next matching event only. It is removed
// before it runs, so it fires at most once even under concurrent dispatch.
func (d *Dispatcher) Once(event string, h Handler) *Subscription {
	return d.register(event, h, true)
}

func (d *Dispatcher) register(event string, h Handler, once bool) *Subscription {
	if h == nil {
		panic("dispatch: nil handler")
	}
	sub := &Subscription{id: d.nextID.Add(1), event: event, d: d}

	d.mu.Lock()
	d.handlers[event] = append(d.handlers[event], &registration{sub: sub, handler: h, once: once})
	d.mu.Unlock()
	return sub
}

// Off removes the handler registered under sub. It reports whether
// anything was removed.
func (d *Dispatcher) Off(event string, sub *Subscription) bool {
	if sub == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeLocked(event, sub)
}

func (d *Dispatcher) removeLocked(event string, sub *Subscription) bool {
	regs := d.handlers[event]
	for i, r := range regs {
		if r.sub != sub {
			continue
		}
		// Copy so that a dispatch already holding the old slice is unaffected.
		next := make([]*registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(d.handlers, event)
		} else {
			d.handlers[event] = next
		}
		return true
	}
	return false
}

// Clear removes every handler for event, or every handler at all when event is empty.
func (d *Dispatcher) Clear(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if event == "" {
		d.handlers = make(map[string][]*registration)
		return
	}
	delete(d.handlers, event)
}

// HandlerCount returns the handlers registered for event, or across all
// events when event is empty.
func (d *Dispatcher) HandlerCount(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if event != "" {
		return len(d.handlers[event])
	}
	n := 0
	for _, regs := range d.handlers {
		n += len(regs)
	}
	return n
}

// Events lists event names that currently have handlers.
func (d *Dispatcher) Events() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch runs the handlers registered for ev.Event() against a snapshot
// taken at call time. The first handler error is returned unchanged and the
// remaining handlers are skipped. An event without handlers is a no-op.
// ctx is passed through to handlers and is not checked between them.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *webhook.ParsedEvent) error {
	if ev == nil {
		return fmt.Errorf("dispatch: nil event")
	}
	name := ev.Event()

	d.mu.RLock()
	regs := d.handlers[name]
	d.mu.RUnlock()

	if len(regs) == 0 {
		d.logger.Debug("no handlers for event", "event", name)
		return nil
	}

	for _, r := range regs {
		if r.once {
			// Another dispatch may hold the same snapshot; only one wins.
			if !r.fired.CompareAndSwap(false, true) {
				continue
			}
			d.Off(name, r.sub)
		}
		if err := d.invoke(ctx, name, r, ev); err != nil {
			d.logger.Debug("handler failed; skipping remaining handlers",
				"event", name,
				"subscription", r.sub.id,
				"error", err,
			)
			return err
		}
	}
	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, name string, r *registration, ev *webhook.ParsedEvent) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Event: name, Value: v, Stack: debug.Stack()}
			d.logger.Error("webhook handler panicked", "event", name, "panic", v)
		}
	}()
	return r.handler(ctx, ev)
}

// Handle registers a handler for the event whose payload type is P.
// P must name a fixed event; payloads of runtime-registered events
// (schema.RawPayload) are handled with On instead.
func Handle[P schema.Payload](d *Dispatcher, h func(ctx context.Context, p P, ev *webhook.ParsedEvent) error) *Subscription {
	return d.On(typedEventName[P](), typed(h))
}

// HandleOnce is Handle for a single delivery.
func HandleOnce[P schema.Payload](d *Dispatcher, h func(ctx context.Context, p P, ev *webhook.ParsedEvent) error) *Subscription {
	return d.Once(typedEventName[P](), typed(h))
}

func typedEventName[P schema.Payload]() string {
	var zero P
	name := zero.EventName()
	if name == "" {
		panic(fmt.Sprintf("dispatch: %T has no fixed event name; register it with On", zero))
	}
	return name
}

func typed[P schema.Payload](h func(ctx context.Context, p P, ev *webhook.ParsedEvent) error) Handler {
	return func(ctx context.Context, ev *webhook.ParsedEvent) error {
		p, ok := ev.Payload().(P)
		if !ok {
			return fmt.Errorf("dispatch: %s payload is %T, handler wants %T", ev.Event(), ev.Payload(), p)
		}
		return h(ctx, p, ev)
	}
}
