// Package channel is the single named-event channel shared by every
// component that talks to the remote assistant service.
package channel

import (
	"encoding/json"
	"errors"
	"sync"
)

// ErrNotConnected is returned by Emit when the channel has no live
// connection. Callers surface a "not connected" state instead of retrying.
var ErrNotConnected = errors.New("channel: not connected")

// Local lifecycle events dispatched to subscribers. They never cross the wire.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Handler receives the raw JSON payload of an inbound event.
type Handler func(payload json.RawMessage)

// Subscription identifies one registered handler. The zero value is not a
// live subscription and releasing it is a no-op.
type Subscription struct {
	event string
	id    uint64
}

// Event reports the event name the subscription listens on.
func (s Subscription) Event() string { return s.event }

// Bus is the contract shared by the network client and the in-process bus.
type Bus interface {
	Emit(event string, payload any) error
	On(event string, h Handler) Subscription
	Off(sub Subscription)
	Connected() bool
}

// Envelope is the wire frame: one JSON text message per event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type entry struct {
	id uint64
	h  Handler
}

// registry keeps handlers per event. Handlers run outside the lock so they
// may subscribe, unsubscribe or emit.
type registry struct {
	mu       sync.Mutex
	next     uint64
	handlers map[string][]entry
}

func (r *registry) On(event string, h Handler) Subscription {
	if h == nil {
		return Subscription{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string][]entry)
	}
	r.next++
	r.handlers[event] = append(r.handlers[event], entry{id: r.next, h: h})
	return Subscription{event: event, id: r.next}
}

func (r *registry) Off(sub Subscription) {
	if sub.id == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[sub.event]
	for i, e := range list {
		if e.id == sub.id {
			r.handlers[sub.event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.handlers[sub.event]) == 0 {
		delete(r.handlers, sub.event)
	}
}

func (r *registry) dispatch(event string, data json.RawMessage) int {
	r.mu.Lock()
	list := append([]entry(nil), r.handlers[event]...)
	r.mu.Unlock()
	for _, e := range list {
		e.h(data)
	}
	return len(list)
}

// Handlers reports how many handlers are registered for event.
func (r *registry) Handlers(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[event])
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	return json.Marshal(payload)
}
