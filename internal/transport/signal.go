package transport

import "sync"

// Signal is an observable boolean. Subscribers always see the latest value;
// intermediate values may be skipped when a subscriber falls behind.
type Signal struct {
	mu   sync.Mutex
	val  bool
	subs map[chan bool]struct{}
}

// NewSignal returns a signal holding v.
func NewSignal(v bool) *Signal {
	return &Signal{val: v, subs: make(map[chan bool]struct{})}
}

// Get returns the current value.
func (s *Signal) Get() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val
}

// Set stores v and notifies subscribers if it changed.
func (s *Signal) Set(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.val == v {
		return
	}
	s.val = v
	for ch := range s.subs {
		offer(ch, v)
	}
}

// Subscribe returns a channel that first yields the current value and then
// every change. The cancel func closes the channel.
func (s *Signal) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.val
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, ch)
			close(ch)
		})
	}
}

// offer replaces any unread value in ch with v.
func offer(ch chan bool, v bool) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
