package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/k0kubun/pp/v3"
	"github.com/nats-io/nats.go"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/strixlab/relay/message"
	"github.com/strixlab/relay/pkg/slogx"
)

type natsEntry struct {
	sub  Subscriber
	opts Options
	nsub *nats.Subscription // nil for Ident subscribers
}

type natsAdapter struct {
	conn *nats.Conn

	mu      sync.Mutex // serializes subscribe/unsubscribe
	entries *haxmap.Map[string, *natsEntry]
	index   *haxmap.Map[string, *orderedmap.OrderedMap[string, Options]]
}

// NATS returns a routing backend delivering through a NATS connection.
// The share option maps onto NATS queue groups; subscription state is
// mirrored locally so enumeration and conflict detection work without
// asking the server.
func NATS(conn *nats.Conn) Adapter {
	return &natsAdapter{
		conn:    conn,
		entries: haxmap.New[string, *natsEntry](),
		index:   haxmap.New[string, *orderedmap.OrderedMap[string, Options]](),
	}
}

func entryKey(topic, subKey string) string {
	return topic + "\x00" + subKey
}

func (n *natsAdapter) Subscribe(ctx context.Context, topic string, sub Subscriber, options Options) error {
	if options.Local {
		return fmt.Errorf("pubsub: local delivery cannot be honored across a NATS fabric")
	}
	if options.QoS > 2 {
		return fmt.Errorf("pubsub: unsupported qos %d", options.QoS)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	key := entryKey(topic, sub.Key())
	if _, ok := n.entries.Get(key); ok {
		return &AlreadySubscribedError{Topic: topic}
	}

	entry := &natsEntry{sub: sub, opts: options}
	if _, bookkeepingOnly := sub.(Ident); !bookkeepingOnly {
		handler := func(nmsg *nats.Msg) {
			var msg message.Message
			if err := msg.UnmarshalBinary(nmsg.Data); err != nil {
				slog.Error("failed to decode message", slogx.Topic(nmsg.Subject), slogx.Error(err))
				return
			}
			n.deliver(sub, &msg)
		}

		var (
			nsub *nats.Subscription
			err  error
		)
		if options.Share != "" {
			nsub, err = n.conn.QueueSubscribe(topic, options.Share, handler)
		} else {
			nsub, err = n.conn.Subscribe(topic, handler)
		}
		if err != nil {
			return err
		}
		entry.nsub = nsub
	}

	n.entries.Set(key, entry)
	idx, _ := n.index.GetOrCompute(sub.Key(), func() *orderedmap.OrderedMap[string, Options] {
		return orderedmap.New[string, Options]()
	})
	idx.Set(topic, options)
	return nil
}

func (n *natsAdapter) deliver(sub Subscriber, msg *message.Message) {
	switch s := sub.(type) {
	case *Chan:
		select {
		case s.C <- msg:
		default:
			// NATS handlers must not block; a full channel forfeits the
			// delivery.
			slog.Warn("dropping delivery to slow subscriber",
				slogx.Topic(msg.Topic), slog.String("subscriber", s.Key()))
		}
	case *Callback:
		s.Deliver(context.Background(), msg)
	}
}

func (n *natsAdapter) Unsubscribe(ctx context.Context, topic string, sub Subscriber) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := entryKey(topic, sub.Key())
	entry, ok := n.entries.Get(key)
	if !ok {
		return &SubscriptionNotFoundError{Topic: topic}
	}
	if entry.nsub != nil {
		if err := entry.nsub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", slogx.Error(err), slogx.Topic(topic))
		}
	}
	n.entries.Del(key)

	if idx, ok := n.index.Get(sub.Key()); ok {
		idx.Delete(topic)
		if idx.Len() == 0 {
			n.index.Del(sub.Key())
		}
	}
	return nil
}

func (n *natsAdapter) Publish(ctx context.Context, msg *message.Message) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	return n.conn.Publish(msg.Topic, data)
}

func (n *natsAdapter) Topics(ctx context.Context) []string {
	seen := make(map[string]struct{})
	n.entries.ForEach(func(key string, _ *natsEntry) bool {
		topic, _, _ := strings.Cut(key, "\x00")
		seen[topic] = struct{}{}
		return true
	})
	topics := make([]string, 0, len(seen))
	for topic := range seen {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

func (n *natsAdapter) Subscribers(ctx context.Context, topic string) []Subscriber {
	var subs []Subscriber
	n.entries.ForEach(func(key string, entry *natsEntry) bool {
		if t, _, _ := strings.Cut(key, "\x00"); t == topic {
			subs = append(subs, entry.sub)
		}
		return true
	})
	return subs
}

func (n *natsAdapter) Subscriptions(ctx context.Context, sub Subscriber) []Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx, ok := n.index.Get(sub.Key())
	if !ok {
		return nil
	}
	subs := make([]Subscription, 0, idx.Len())
	for pair := idx.Oldest(); pair != nil; pair = pair.Next() {
		subs = append(subs, Subscription{Topic: pair.Key, Options: pair.Value})
	}
	return subs
}

func (n *natsAdapter) Dump(ctx context.Context) string {
	listing := make(map[string][]string)
	n.entries.ForEach(func(key string, entry *natsEntry) bool {
		topic, subKey, _ := strings.Cut(key, "\x00")
		listing[topic] = append(listing[topic], fmt.Sprintf("%s [%s]", subKey, entry.opts))
		return true
	})

	printer := pp.New()
	printer.SetColoringEnabled(false)
	return fmt.Sprintf("nats adapter (%s)\n%s", n.conn.ConnectedUrl(), printer.Sprint(listing))
}
