package session

// EventKind discriminates the notifications a session emits.
type EventKind int

const (
	// StateChanged fires when the session's active/inactive value actually
	// flips; exactly once per transition.
	StateChanged EventKind = iota

	// ExpirationWarning fires when a background refresh failed while the
	// session is still active: the session remains usable until hard
	// expiration.
	ExpirationWarning

	// SessionExpired fires when the coordinator reports hard expiration; the
	// session is logged out.
	SessionExpired
)

// Event is a structured session notification.
type Event struct {
	Kind   EventKind
	Active bool
	WebId  string
	Reason string
}

// OnStateChange registers a callback-style subscriber invoked with the new
// active value whenever the session state flips. It is kept strictly in sync
// with Subscribe: both derive from the same internal emission point.
func (s *Session) OnStateChange(cb func(active bool)) {
	if cb == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Subscribe returns a channel of structured session events and a cancel func
// that unregisters and closes it. Events a subscriber cannot keep up with are
// dropped.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubId
	s.nextSubId++
	ch := make(chan Event, eventQueueSize)
	s.subscribers[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
}

// emit is the single emission point both notification channels derive from:
// legacy callbacks fire for state changes, structured subscribers receive
// every event.
func (s *Session) emit(ev Event) {
	s.mu.Lock()
	callbacks := make([]func(bool), len(s.callbacks))
	copy(callbacks, s.callbacks)
	// Subscriber channels are only closed under s.mu, so delivery must hold
	// the lock for the send not to race a cancel. Sends never block: slow
	// subscribers drop the event instead.
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("dropping session event for slow subscriber", "kind", ev.Kind)
		}
	}
	s.mu.Unlock()

	if ev.Kind == StateChanged {
		for _, cb := range callbacks {
			cb(ev.Active)
		}
	}
}

const eventQueueSize = 8
