package hub

import "sync"

// Subscription is one API-side listener on a shared registration.
type Subscription struct {
	reg    *registration
	events chan Event

	once sync.Once

	dropped uint64 // guarded by reg.mu
}

// Events returns the delivery channel. It is closed after Close
// returns, after a terminal event, or on hub shutdown.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close detaches the subscriber. No event is delivered after Close
// returns. Closing the last subscriber for a key tears the bus-side
// registration down.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.reg != nil {
			s.reg.detach(s)
		}
	})
}

// Dropped reports how many events were discarded because this
// subscriber's buffer was full.
func (s *Subscription) Dropped() uint64 {
	if s.reg == nil {
		return 0
	}
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return s.dropped
}

// push enqueues an event, dropping the oldest buffered one when the
// channel is full. The registration's delivery goroutine is the only
// sender, so the retry after a drop always succeeds. Called with
// reg.mu held.
func (s *Subscription) push(ev Event) {
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		select {
		case <-s.events:
			s.dropped++
		default:
		}
	}
}
