// Package pubsub defines the capability contract every routing backend
// must satisfy, the subscriber variants the broker accepts, and the
// late-binding resolver that picks the active backend from configuration
// on every call.
package pubsub

import (
	"context"

	"github.com/strixlab/relay/message"
	"github.com/strixlab/relay/pkg/uuidx"
)

// Adapter is the fixed surface a routing backend exposes. The core never
// looks behind it: topic matching, fan-out and ordering are backend
// business.
type Adapter interface {
	// Subscribe registers sub on topic. A subscriber already registered
	// on that exact topic gets an AlreadySubscribedError.
	Subscribe(ctx context.Context, topic string, sub Subscriber, options Options) error
	// Unsubscribe removes sub from topic, reporting
	// SubscriptionNotFoundError when no such subscription exists.
	Unsubscribe(ctx context.Context, topic string, sub Subscriber) error
	// Publish hands the message to the backend for delivery.
	Publish(ctx context.Context, msg *message.Message) error
	// Topics returns a snapshot of the topics with at least one subscriber.
	Topics(ctx context.Context) []string
	// Subscribers returns the subscribers currently registered on topic.
	Subscribers(ctx context.Context, topic string) []Subscriber
	// Subscriptions returns the (topic, options) pairs sub currently holds.
	Subscriptions(ctx context.Context, sub Subscriber) []Subscription
	// Dump renders an implementation-defined diagnostic listing.
	Dump(ctx context.Context) string
}

// Subscription is one (topic, options) pair held by a subscriber.
type Subscription struct {
	Topic   string
	Options Options
}

// Subscriber is a delivery target supplied by the caller and passed
// through to the adapter; the core never owns it. The three variants are
// Chan (process-addressable), Ident (opaque identity token) and Callback
// (function value). Key is the comparable identity adapters index by.
type Subscriber interface {
	Key() string
	subscriber()
}

// Chan is a channel-backed subscriber. Deliveries are sent to C; a
// receiver that stops draining forfeits messages rather than wedging the
// backend.
type Chan struct {
	key string
	C   chan *message.Message
}

// NewChan returns a channel subscriber with the given delivery buffer.
func NewChan(buffer int) *Chan {
	return &Chan{key: uuidx.NewString(), C: make(chan *message.Message, buffer)}
}

func (c *Chan) Key() string { return c.key }
func (*Chan) subscriber()   {}

// Ident is an opaque identity token, e.g. a shared-group member or an
// address owned by another node. It has no deliverable endpoint here;
// backends track it for bookkeeping and route to it by their own means.
type Ident string

func (i Ident) Key() string { return string(i) }
func (Ident) subscriber()   {}

// Callback is a function subscriber. The function must be safe for
// concurrent invocation.
type Callback struct {
	key string
	fn  func(context.Context, *message.Message)
}

func NewCallback(fn func(context.Context, *message.Message)) *Callback {
	return &Callback{key: uuidx.NewString(), fn: fn}
}

func (c *Callback) Key() string { return c.key }
func (*Callback) subscriber()   {}

// Deliver invokes the callback with msg.
func (c *Callback) Deliver(ctx context.Context, msg *message.Message) {
	c.fn(ctx, msg)
}
