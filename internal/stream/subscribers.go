package stream

import (
	"sync"
	"sync/atomic"
)

// Handler receives decoded events. Handlers run on the client's connection
// goroutine, one at a time, and should return quickly.
type Handler func(*Event)

// Subscription identifies one registered Handler. Two subscriptions for the
// same function are distinct.
type Subscription struct {
	id      uint64
	handler Handler
	active  atomic.Bool
	set     *subscriberSet
}

// ID returns the unique identifier of the subscription.
func (s *Subscription) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}

// Unsubscribe removes the subscription. Safe to call more than once and from
// inside the handler itself.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.set == nil {
		return
	}
	s.set.remove(s)
}

// subscriberSet is the mutable set of subscriptions. Membership may change
// while a delivery is in progress: deliveries work on a snapshot and skip
// entries removed after the snapshot was taken.
type subscriberSet struct {
	mu     sync.Mutex
	nextID uint64
	subs   []*Subscription

	// onChange, when set, is called with the new size after every change.
	onChange func(n int)
}

func newSubscriberSet(onChange func(n int)) *subscriberSet {
	return &subscriberSet{onChange: onChange}
}

func (s *subscriberSet) add(h Handler) *Subscription {
	s.mu.Lock()
	s.nextID++
	sub := &Subscription{id: s.nextID, handler: h, set: s}
	sub.active.Store(true)
	s.subs = append(s.subs, sub)
	n := len(s.subs)
	s.mu.Unlock()

	s.changed(n)
	return sub
}

// remove reports whether sub was registered.
func (s *subscriberSet) remove(sub *Subscription) bool {
	if sub == nil || sub.set != s {
		return false
	}

	s.mu.Lock()
	if !sub.active.Swap(false) {
		s.mu.Unlock()
		return false
	}
	for i, existing := range s.subs {
		if existing == sub {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			break
		}
	}
	n := len(s.subs)
	s.mu.Unlock()

	s.changed(n)
	return true
}

func (s *subscriberSet) changed(n int) {
	if s.onChange != nil {
		s.onChange(n)
	}
}

// snapshot returns the current subscriptions in registration order.
func (s *subscriberSet) snapshot() []*Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Subscription, len(s.subs))
	copy(out, s.subs)
	return out
}

func (s *subscriberSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

