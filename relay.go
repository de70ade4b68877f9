package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/strixlab/relay/hook"
	"github.com/strixlab/relay/message"
	"github.com/strixlab/relay/pkg/slogx"
	"github.com/strixlab/relay/pubsub"
	"github.com/strixlab/relay/retained"
)

// HookMessagePublish is the extension point run for every outbound
// message. Handlers fold the message itself as the accumulator; halting
// the fold vetoes the publish.
const HookMessagePublish = "message.publish"

// Retainer is the retention collaborator consulted once per publish,
// before dispatch.
type Retainer interface {
	Retain(ctx context.Context, msg *message.Message) (retained.Disposition, error)
}

// Dumper produces a diagnostic listing for operational inspection.
type Dumper interface {
	Dump(ctx context.Context) string
}

// Outcome is the terminal result of a publish.
type Outcome int

const (
	// Ignored means a hook vetoed the message. It was dropped; this is
	// a normal outcome, not an error.
	Ignored Outcome = iota
	// Delivered means the message was handed to the routing backend.
	Delivered
)

func (o Outcome) String() string {
	if o == Delivered {
		return "delivered"
	}
	return "ignored"
}

// Delivery describes a dispatched message.
type Delivery struct {
	MessageID uuid.UUID
	Topic     string
	Adapter   string
	At        strfmt.DateTime
}

// Result is what publish callers get back: either Delivered with a
// descriptor, or Ignored.
type Result struct {
	Outcome  Outcome
	Delivery *Delivery
}

// Broker is the dispatch core: it runs the publish hooks, applies
// retention, and forwards messages to whichever routing backend the
// configuration names at that moment.
type Broker struct {
	config   pubsub.Config
	hooks    *hook.Registry[*message.Message]
	retainer Retainer
	router   Dumper

	pending  []namedAdapter
	resolver *pubsub.Resolver
}

type namedAdapter struct {
	name    string
	adapter pubsub.Adapter
}

// New assembles a broker. A pubsub configuration is required; the hook
// registry defaults to a fresh one and the retainer to an in-memory
// store.
func New(options ...opts.Option[Broker]) (*Broker, error) {
	b := &Broker{
		hooks:    hook.NewRegistry[*message.Message](),
		retainer: retained.New(),
	}
	if err := opts.Apply(b, options); err != nil {
		return nil, err
	}
	if b.config == nil {
		return nil, errors.New("relay: pubsub configuration is required")
	}
	b.resolver = pubsub.NewResolver(b.config)
	for _, na := range b.pending {
		b.resolver.Register(na.name, na.adapter)
	}
	b.pending = nil
	return b, nil
}

// Hooks exposes the hook registry so extensions can attach to the
// publish path.
func (b *Broker) Hooks() *hook.Registry[*message.Message] {
	return b.hooks
}

// RegisterAdapter makes adapter selectable under name from this call on.
func (b *Broker) RegisterAdapter(name string, adapter pubsub.Adapter) {
	b.resolver.Register(name, adapter)
}

// Publish runs the pipeline for one message: audit, hook filter, retain,
// dispatch. A hook veto yields Ignored without error; everything the
// pipeline dispatches is a copy, the caller's message is never mutated.
func (b *Broker) Publish(ctx context.Context, msg *message.Message) (Result, error) {
	if msg.From != message.SenderInternal {
		slog.InfoContext(ctx, "publish",
			slog.String("from", msg.From),
			slogx.Topic(msg.Topic),
			slogx.ByteString("payload", msg.Payload),
		)
	}

	filtered, ok := b.hooks.Run(ctx, HookMessagePublish, msg)
	if !ok {
		if filtered == nil {
			filtered = msg
		}
		slog.WarnContext(ctx, "publish vetoed by hook", slogx.Stringer("message", filtered))
		return Result{Outcome: Ignored}, nil
	}
	if filtered != nil {
		msg = filtered
	}

	disposition, err := b.retainer.Retain(ctx, msg)
	if err != nil {
		return Result{}, err
	}
	if disposition == retained.Retained {
		// The stored copy carries the marker; the dispatched one must
		// not advertise "this is retained" downstream.
		msg = msg.WithoutRetain()
	}

	adapter, name, err := b.resolver.Active()
	if err != nil {
		return Result{}, err
	}
	if err := adapter.Publish(ctx, msg); err != nil {
		return Result{}, err
	}

	return Result{
		Outcome: Delivered,
		Delivery: &Delivery{
			MessageID: msg.ID,
			Topic:     msg.Topic,
			Adapter:   name,
			At:        strfmt.DateTime(time.Now()),
		},
	}, nil
}

// Subscribe registers sub on topic with the active backend. Hooks are
// not consulted on the subscribe path.
func (b *Broker) Subscribe(ctx context.Context, topic string, sub pubsub.Subscriber, options pubsub.Options) error {
	adapter, _, err := b.resolver.Active()
	if err != nil {
		return err
	}
	return adapter.Subscribe(ctx, topic, sub, options)
}

// Unsubscribe removes sub from topic with the active backend.
func (b *Broker) Unsubscribe(ctx context.Context, topic string, sub pubsub.Subscriber) error {
	adapter, _, err := b.resolver.Active()
	if err != nil {
		return err
	}
	return adapter.Unsubscribe(ctx, topic, sub)
}

// Topics lists the active backend's topics with at least one subscriber.
func (b *Broker) Topics(ctx context.Context) ([]string, error) {
	adapter, _, err := b.resolver.Active()
	if err != nil {
		return nil, err
	}
	return adapter.Topics(ctx), nil
}

// Subscribers lists the subscribers on topic.
func (b *Broker) Subscribers(ctx context.Context, topic string) ([]pubsub.Subscriber, error) {
	adapter, _, err := b.resolver.Active()
	if err != nil {
		return nil, err
	}
	return adapter.Subscribers(ctx, topic), nil
}

// Subscriptions lists the (topic, options) pairs sub holds.
func (b *Broker) Subscriptions(ctx context.Context, sub pubsub.Subscriber) ([]pubsub.Subscription, error) {
	adapter, _, err := b.resolver.Active()
	if err != nil {
		return nil, err
	}
	return adapter.Subscriptions(ctx, sub), nil
}

// Dump aggregates the active adapter's diagnostic listing with the
// retention store's and the router collaborator's, when they offer one.
// The format is for operators, not for machines.
func (b *Broker) Dump(ctx context.Context) (string, error) {
	adapter, _, err := b.resolver.Active()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(adapter.Dump(ctx))
	if d, ok := b.retainer.(Dumper); ok {
		sb.WriteString("\n")
		sb.WriteString(d.Dump(ctx))
	}
	if b.router != nil {
		sb.WriteString("\n")
		sb.WriteString(b.router.Dump(ctx))
	}
	return sb.String(), nil
}
