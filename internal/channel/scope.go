package channel

import "sync"

// Scope owns a set of subscriptions on a Bus and releases all of them in
// Close. Owners defer Close so every exit path unsubscribes.
type Scope struct {
	bus Bus

	mu     sync.Mutex
	subs   []Subscription
	closed bool
}

// NewScope returns an open scope bound to bus.
func NewScope(bus Bus) *Scope {
	return &Scope{bus: bus}
}

// On subscribes h for as long as the scope is open. Subscribing on a closed
// scope registers nothing.
func (s *Scope) On(event string, h Handler) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Subscription{}
	}
	sub := s.bus.On(event, h)
	s.subs = append(s.subs, sub)
	return sub
}

// Len reports the number of live subscriptions held by the scope.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close releases every subscription. Safe to call more than once.
func (s *Scope) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.closed = true
	s.mu.Unlock()
	for _, sub := range subs {
		s.bus.Off(sub)
	}
}
