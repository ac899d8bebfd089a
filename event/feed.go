// Package event implements channel-based decoupling between components:
// publishers put typed notifications onto a Feed and subscribers drain
// them from a channel, instead of holding direct pointers into each
// other's internals.
package event

import "sync"

// Feed implements one-to-many subscription broadcasting of a single
// event type. The zero value is ready to use.
type Feed struct {
	mu   sync.Mutex
	subs map[chan any]struct{}
}

// Subscription represents a subscribed channel, closable to unsubscribe.
type Subscription struct {
	feed *Feed
	ch   chan any
	once sync.Once
}

// Subscribe returns a new Subscription whose channel receives every value
// sent with Send after the call returns. The channel has the given
// buffer size; a full channel causes Send to drop the event for that
// subscriber rather than block the publisher — ordering is guaranteed on
// the publish side, not delivery to every subscriber.
func (f *Feed) Subscribe(buffer int) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[chan any]struct{})
	}
	ch := make(chan any, buffer)
	f.subs[ch] = struct{}{}
	return &Subscription{feed: f, ch: ch}
}

// Chan returns the channel to receive events from.
func (s *Subscription) Chan() <-chan any { return s.ch }

// Unsubscribe removes the subscription; safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s.ch)
		s.feed.mu.Unlock()
		close(s.ch)
	})
}

// Send delivers value to every current subscriber, skipping any whose
// channel is full. It returns the number of subscribers the value was
// delivered to.
func (f *Feed) Send(value any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for ch := range f.subs {
		select {
		case ch <- value:
			n++
		default:
		}
	}
	return n
}
