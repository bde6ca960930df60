// internal/application/event/dispatcher.go
package event

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is anything the core publishes. Domain packages implement it
// structurally; this package never imports them.
type Event interface {
	EventName() string
}

// Envelope wraps a published event with delivery metadata.
type Envelope struct {
	ID         string
	Name       string
	OccurredAt time.Time
	Payload    Event
}

// Listener consumes envelopes. Listener behavior never influences the
// publishing operation: panics are recovered and logged.
type Listener func(ctx context.Context, ev Envelope)

// Dispatcher is the observer registry at the core boundary.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
	all       []Listener
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: map[string][]Listener{}}
}

// Subscribe registers a listener for a single event name.
func (d *Dispatcher) Subscribe(name string, l Listener) {
	if name == "" || l == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[name] = append(d.listeners[name], l)
}

// SubscribeAll registers a listener for every event.
func (d *Dispatcher) SubscribeAll(l Listener) {
	if l == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, l)
}

// Dispatch delivers an event synchronously to all matching listeners.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	if d == nil || ev == nil {
		return
	}

	env := Envelope{
		ID:         uuid.NewString(),
		Name:       ev.EventName(),
		OccurredAt: time.Now().UTC(),
		Payload:    ev,
	}

	d.mu.RLock()
	targets := make([]Listener, 0, len(d.listeners[env.Name])+len(d.all))
	targets = append(targets, d.listeners[env.Name]...)
	targets = append(targets, d.all...)
	d.mu.RUnlock()

	for _, l := range targets {
		deliver(ctx, l, env)
	}
}

func deliver(ctx context.Context, l Listener, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[event_dispatcher] listener panic event=%s id=%s: %v", env.Name, env.ID, r)
		}
	}()
	l(ctx, env)
}
