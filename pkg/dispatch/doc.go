// Package dispatch routes verified webhook events to application handlers.
//
// Handlers are keyed by event name. For a given event they run one after
// another in registration order, and the first error aborts the rest and is
// returned to the caller unchanged. A Dispatcher satisfies
// webhook.Dispatcher and can be passed straight to webhook.NewMiddleware.
//
// Handlers are removed through the *Subscription returned at registration.
// Handle and HandleOnce register typed handlers that receive the decoded
// payload of a single event type.
package dispatch
