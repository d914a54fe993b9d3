// Package events delivers grant events, such as an issued access token,
// to registered listeners.
//
// Emission is synchronous and best-effort: listeners run in registration
// order on the caller's goroutine, and a panicking listener is recovered
// and logged so it cannot fail the request that emitted the event.
package events

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AccessTokenIssued is emitted after an access token has been issued.
const AccessTokenIssued = "access_token.issued"

// Event describes something that happened while handling a request.
type Event struct {
	// Name identifies the event, e.g. [AccessTokenIssued].
	Name string

	// Time is when the event was emitted.
	Time time.Time

	// GrantType is the grant identifier that produced the event.
	GrantType string

	// ClientID is the resolved client.
	ClientID string

	// TokenID is the issued token's identifier. It never holds the token
	// itself.
	TokenID string

	// Scopes are the finalized scope identifiers.
	Scopes []string

	// Request carries request metadata such as the remote address or a
	// request ID.
	Request map[string]string
}

// Listener receives events.
type Listener interface {
	Handle(ctx context.Context, ev Event)
}

// ListenerFunc adapts a function to [Listener].
type ListenerFunc func(ctx context.Context, ev Event)

// Handle calls f.
func (f ListenerFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Emitter fans events out to listeners. It is safe for concurrent use.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
	logger    *slog.Logger
}

// NewEmitter creates an Emitter with no listeners. A nil logger uses
// slog.Default().
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{listeners: make(map[string][]Listener), logger: logger}
}

// Subscribe registers l for events named name. An empty name subscribes
// to every event.
func (e *Emitter) Subscribe(name string, l Listener) {
	if l == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[name] = append(e.listeners[name], l)
}

// Emit delivers ev to the listeners subscribed to its name and then to
// the catch-all listeners. A zero Time is set to now.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	e.mu.RLock()
	targets := make([]Listener, 0, len(e.listeners[ev.Name])+len(e.listeners[""]))
	targets = append(targets, e.listeners[ev.Name]...)
	if ev.Name != "" {
		targets = append(targets, e.listeners[""]...)
	}
	e.mu.RUnlock()

	for _, l := range targets {
		e.deliver(ctx, l, ev)
	}
}

func (e *Emitter) deliver(ctx context.Context, l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "event listener panicked",
				"event", ev.Name,
				"panic", r,
			)
		}
	}()
	// Each listener gets its own copies.
	ev.Scopes = slices.Clone(ev.Scopes)
	ev.Request = maps.Clone(ev.Request)
	l.Handle(ctx, ev)
}

// ---------------------------------------------------------------------------
// Built-in listeners
// ---------------------------------------------------------------------------

// LogListener writes each event as an Info record.
func LogListener(logger *slog.Logger) Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return ListenerFunc(func(ctx context.Context, ev Event) {
		attrs := []any{
			"event", ev.Name,
			"grant_type", ev.GrantType,
			"client_id", ev.ClientID,
			"token_id", ev.TokenID,
			"scopes", ev.Scopes,
		}
		for _, k := range slices.Sorted(maps.Keys(ev.Request)) {
			attrs = append(attrs, "request."+k, ev.Request[k])
		}
		logger.InfoContext(ctx, "grant event", attrs...)
	})
}

// SpanListener records each event on the span active in the context.
func SpanListener() Listener {
	return ListenerFunc(func(ctx context.Context, ev Event) {
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return
		}
		span.AddEvent(ev.Name, trace.WithTimestamp(ev.Time), trace.WithAttributes(
			attribute.String("oauth.grant_type", ev.GrantType),
			attribute.String("oauth.client_id", ev.ClientID),
			attribute.String("oauth.token_id", ev.TokenID),
			attribute.StringSlice("oauth.scopes", ev.Scopes),
		))
	})
}
