package channel

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Emission is one event sent through a Local bus.
type Emission struct {
	Event string
	Data  json.RawMessage
}

// Local is an in-process Bus. Emitted events are recorded instead of sent,
// and Deliver plays the remote side. Used by tests and offline runs.
type Local struct {
	registry

	mu        sync.Mutex
	connected bool
	emitted   []Emission
}

// NewLocal returns a connected in-process bus.
func NewLocal() *Local {
	return &Local{connected: true}
}

// SetConnected toggles the simulated connection and dispatches the matching
// lifecycle event on change.
func (l *Local) SetConnected(connected bool) {
	l.mu.Lock()
	changed := l.connected != connected
	l.connected = connected
	l.mu.Unlock()
	if !changed {
		return
	}
	if connected {
		l.dispatch(EventConnect, nil)
	} else {
		l.dispatch(EventDisconnect, nil)
	}
}

// Connected reports the simulated connection state.
func (l *Local) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Emit records the event. It returns ErrNotConnected when disconnected.
func (l *Local) Emit(event string, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return ErrNotConnected
	}
	l.emitted = append(l.emitted, Emission{Event: event, Data: data})
	return nil
}

// Deliver dispatches an inbound event to subscribers on the caller's
// goroutine and reports how many handlers ran.
func (l *Local) Deliver(event string, payload any) (int, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", event, err)
	}
	return l.dispatch(event, data), nil
}

// Emitted returns the recorded emissions for event, or all of them when
// event is empty.
func (l *Local) Emitted(event string) []Emission {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Emission
	for _, e := range l.emitted {
		if event == "" || e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
