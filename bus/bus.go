// Package bus implements the in-process publish/subscribe message bus the
// control task exchanges records over. Topics are best-effort, last-value-wins
// streams: a publish replaces the previous value, and a subscriber that polls
// sees at most the newest record since its last poll.
package bus

import (
	"sync"
	"time"
)

// Bus holds a set of named topics. The zero value is not usable; call New.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*Topic
}

// New makes an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[string]*Topic)}
}

// Topic returns the topic with the given name, creating it if needed.
// Multi-instance topics are addressed by a ".N" suffix in the name.
func (b *Bus) Topic(name string) *Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &Topic{name: name, notify: make(chan struct{})}
		b.topics[name] = t
	}
	return t
}

// Publish publishes v on the named topic.
func (b *Bus) Publish(name string, v interface{}) {
	b.Topic(name).Publish(v)
}

// Subscribe returns a new subscription on the named topic.
func (b *Bus) Subscribe(name string) *Subscription {
	return b.Topic(name).Subscribe()
}

// Topic is a single last-value-wins stream.
type Topic struct {
	mu     sync.Mutex
	name   string
	gen    uint64
	last   interface{}
	notify chan struct{} // closed and replaced on every publish
}

// Name returns the topic name.
func (t *Topic) Name() string { return t.name }

// Publish replaces the topic's value and wakes any blocked waiters.
func (t *Topic) Publish(v interface{}) {
	t.mu.Lock()
	t.last = v
	t.gen++
	close(t.notify)
	t.notify = make(chan struct{})
	t.mu.Unlock()
}

// Subscribe returns a subscription that has not seen any value yet; if the
// topic already carries a value, the first Poll will return it as fresh.
func (t *Topic) Subscribe() *Subscription {
	return &Subscription{t: t}
}

// Subscription tracks how much of a topic one consumer has seen.
// A Subscription is owned by a single goroutine.
type Subscription struct {
	t    *Topic
	seen uint64
	dead bool
}

// Updated reports whether a new value was published since the last Poll.
func (s *Subscription) Updated() bool {
	if s.dead {
		return false
	}
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	return s.t.gen > s.seen
}

// Poll returns the latest value and whether it is new since the previous
// Poll. Absence of an update means "unchanged": the bool is false and the
// caller keeps whatever copy it holds.
func (s *Subscription) Poll() (interface{}, bool) {
	if s.dead {
		return nil, false
	}
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if s.t.gen == s.seen {
		return nil, false
	}
	s.seen = s.t.gen
	return s.t.last, true
}

// Get returns the latest value regardless of whether it was seen before,
// without consuming the update flag. ok is false if nothing was ever
// published.
func (s *Subscription) Get() (interface{}, bool) {
	if s.dead {
		return nil, false
	}
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	return s.t.last, s.t.gen > 0
}

// Wait blocks until a value newer than the last Poll is published or the
// timeout elapses. It returns true if new data is available. Wait is the
// scheduler's sole suspension point; everything else polls.
func (s *Subscription) Wait(timeout time.Duration) bool {
	if s.dead {
		return false
	}
	s.t.mu.Lock()
	if s.t.gen > s.seen {
		s.t.mu.Unlock()
		return true
	}
	ch := s.t.notify
	s.t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

// Unsubscribe releases the subscription; all later calls report no data.
func (s *Subscription) Unsubscribe() {
	s.dead = true
}
