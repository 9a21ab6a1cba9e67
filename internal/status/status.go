// Package status carries scale connectivity changes from the port session
// to whichever client is currently listening.
package status

import (
	"sync"
	"time"
)

// Event is one connectivity change.
type Event struct {
	Connected bool      `json:"connected"`
	At        time.Time `json:"at"`
}

// Channel fans connectivity changes out to a single subscriber. Publishing
// never blocks: an event nobody is ready to receive is dropped.
type Channel struct {
	mu        sync.Mutex
	sub       chan Event
	subID     uint64
	last      Event
	hasLast   bool
	now       func() time.Time
	published uint64
	dropped   uint64
}

// New returns an empty channel.
func New() *Channel {
	return &Channel{now: time.Now}
}

// Subscribe registers the listener, replacing and closing any previous one.
// The returned cancel function is safe to call more than once.
func (c *Channel) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		close(c.sub)
	}
	c.subID++
	id := c.subID
	ch := make(chan Event, 1)
	c.sub = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.subID == id && c.sub != nil {
			close(c.sub)
			c.sub = nil
		}
	}
}

// Publish records the new connectivity state and offers it to the subscriber.
func (c *Channel) Publish(connected bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ev := Event{Connected: connected, At: c.now()}
	c.last = ev
	c.hasLast = true
	c.published++

	if c.sub == nil {
		c.dropped++
		return
	}
	select {
	case c.sub <- ev:
	default:
		c.dropped++
	}
}

// Last returns the most recently published event.
func (c *Channel) Last() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.hasLast
}

// Stats reports how many events were published and how many were dropped.
func (c *Channel) Stats() (published, dropped uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published, c.dropped
}
