package events

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Handler receives a published payload. Handlers run synchronously inside Publish.
type Handler[T any] func(T)

// Subscription identifies one registered handler on a Channel.
type Subscription uint64

type subscriber[T any] struct {
	id      Subscription
	handler Handler[T]
	alive   atomic.Bool
}

// Channel is a named multi-subscriber notification stream. Events are delivered
// only to handlers subscribed at publish time; nothing is buffered or replayed.
//
// Publish iterates a snapshot of the subscriber slots, so handlers may subscribe or
// unsubscribe (themselves or others) while a dispatch is running. A slot removed
// during dispatch is skipped if its turn has not come yet.
type Channel[T any] struct {
	name   string
	logger *logrus.Logger

	mu     sync.Mutex
	nextID Subscription
	subs   []*subscriber[T]
}

// NewChannel creates an empty channel. A nil logger is replaced by a default one.
func NewChannel[T any](name string, logger *logrus.Logger) *Channel[T] {
	if logger == nil {
		logger = logrus.New()
	}
	return &Channel[T]{
		name:   name,
		logger: logger,
	}
}

func (c *Channel[T]) Name() string {
	return c.name
}

// Subscribe appends handler to the delivery order and returns its handle.
func (c *Channel[T]) Subscribe(handler Handler[T]) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	sub := &subscriber[T]{id: c.nextID, handler: handler}
	sub.alive.Store(true)
	c.subs = append(c.subs, sub)
	return sub.id
}

// Unsubscribe removes the handler registered under s. Reports whether it was
// still subscribed; unknown or already removed handles are a no-op.
func (c *Channel[T]) Unsubscribe(s Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, sub := range c.subs {
		if sub.id != s {
			continue
		}
		sub.alive.Store(false)
		// copy into a fresh slice, running dispatches keep their own snapshot
		next := make([]*subscriber[T], 0, len(c.subs)-1)
		next = append(next, c.subs[:i]...)
		c.subs = append(next, c.subs[i+1:]...)
		return true
	}
	return false
}

// Publish delivers payload to every current subscriber in subscription order and
// returns when the last handler has returned.
func (c *Channel[T]) Publish(payload T) {
	c.mu.Lock()
	snapshot := c.subs
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"channel":     c.name,
		"subscribers": len(snapshot),
	}).Trace("Publishing event")

	for _, sub := range snapshot {
		if !sub.alive.Load() {
			continue
		}
		sub.handler(payload)
	}
}

// Len returns the number of live subscriptions.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}
