package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/fogfish/opts"
	"github.com/k0kubun/pp/v3"
	"github.com/panjf2000/ants/v2"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/strixlab/relay/message"
	"github.com/strixlab/relay/pkg/slogx"
	"github.com/strixlab/relay/pkg/stdx"
)

const (
	defaultSlowSubscriberTimeout = 100 * time.Millisecond
	defaultDeliveryWorkers       = 32
)

// MemoryConfig tunes the in-process adapter.
type MemoryConfig struct {
	// SlowSubscriberTimeout bounds how long one channel subscriber may
	// stall a fan-out before its delivery is dropped.
	SlowSubscriberTimeout time.Duration
	// Workers sizes the pool running callback deliveries.
	Workers int
}

var (
	// WithSlowSubscriberTimeout configures the timeout for detecting slow subscribers.
	WithSlowSubscriberTimeout = opts.ForName[MemoryConfig, time.Duration]("SlowSubscriberTimeout")
	// WithWorkers configures the callback delivery pool size.
	WithWorkers = opts.ForName[MemoryConfig, int]("Workers")
)

type memEntry struct {
	sub  Subscriber
	opts Options
}

type memoryAdapter struct {
	mu     sync.Mutex // serializes subscribe/unsubscribe
	topics *haxmap.Map[string, []memEntry]
	index  *haxmap.Map[string, *orderedmap.OrderedMap[string, Options]]
	shares *haxmap.Map[string, *atomic.Uint64]

	pool *ants.Pool
	slow time.Duration
}

// Memory returns the in-process routing backend. Topic matching is
// exact; hierarchical semantics belong to backends that want them.
//
// Per-topic subscriber lists are copy-on-write, so a publish iterating
// an older list is never affected by a concurrent (un)subscribe.
func Memory(options ...opts.Option[MemoryConfig]) Adapter {
	cfg := MemoryConfig{
		SlowSubscriberTimeout: defaultSlowSubscriberTimeout,
		Workers:               defaultDeliveryWorkers,
	}
	if err := opts.Apply(&cfg, options); err != nil {
		panic(err)
	}
	return &memoryAdapter{
		topics: haxmap.New[string, []memEntry](),
		index:  haxmap.New[string, *orderedmap.OrderedMap[string, Options]](),
		shares: haxmap.New[string, *atomic.Uint64](),
		pool:   stdx.Must1(ants.NewPool(cfg.Workers)),
		slow:   cfg.SlowSubscriberTimeout,
	}
}

func (m *memoryAdapter) validate(options Options) error {
	if options.QoS > 2 {
		return fmt.Errorf("pubsub: unsupported qos %d", options.QoS)
	}
	return nil
}

func (m *memoryAdapter) Subscribe(ctx context.Context, topic string, sub Subscriber, options Options) error {
	if err := m.validate(options); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	chain, _ := m.topics.Get(topic)
	for _, e := range chain {
		if e.sub.Key() == sub.Key() {
			return &AlreadySubscribedError{Topic: topic}
		}
	}
	next := make([]memEntry, 0, len(chain)+1)
	next = append(next, chain...)
	next = append(next, memEntry{sub: sub, opts: options})
	m.topics.Set(topic, next)

	idx, _ := m.index.GetOrCompute(sub.Key(), func() *orderedmap.OrderedMap[string, Options] {
		return orderedmap.New[string, Options]()
	})
	idx.Set(topic, options)
	return nil
}

func (m *memoryAdapter) Unsubscribe(ctx context.Context, topic string, sub Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain, ok := m.topics.Get(topic)
	if !ok {
		return &SubscriptionNotFoundError{Topic: topic}
	}
	var removed memEntry
	next := make([]memEntry, 0, len(chain))
	for _, e := range chain {
		if e.sub.Key() == sub.Key() {
			removed = e
			continue
		}
		next = append(next, e)
	}
	if len(next) == len(chain) {
		return &SubscriptionNotFoundError{Topic: topic}
	}
	if len(next) == 0 {
		m.topics.Del(topic)
	} else {
		m.topics.Set(topic, next)
	}

	if group := removed.opts.Share; group != "" {
		last := true
		for _, e := range next {
			if e.opts.Share == group {
				last = false
				break
			}
		}
		if last {
			m.shares.Del(topic + "\x00" + group)
		}
	}

	if idx, ok := m.index.Get(sub.Key()); ok {
		idx.Delete(topic)
		if idx.Len() == 0 {
			m.index.Del(sub.Key())
		}
	}
	return nil
}

func (m *memoryAdapter) Publish(ctx context.Context, msg *message.Message) error {
	chain, _ := m.topics.Get(msg.Topic)

	// Shared-delivery groups get one member per message, everyone else
	// gets their own copy.
	groups := make(map[string][]memEntry)
	for _, e := range chain {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.opts.Share != "" {
			if _, bare := e.sub.(Ident); bare {
				// No local endpoint, so a rotation turn would swallow
				// the message for the whole group.
				continue
			}
			groups[e.opts.Share] = append(groups[e.opts.Share], e)
			continue
		}
		m.deliver(ctx, e, msg)
	}
	for group, members := range groups {
		rr, _ := m.shares.GetOrCompute(msg.Topic+"\x00"+group, func() *atomic.Uint64 {
			return &atomic.Uint64{}
		})
		pick := members[int((rr.Add(1)-1)%uint64(len(members)))]
		m.deliver(ctx, pick, msg)
	}
	return nil
}

func (m *memoryAdapter) deliver(ctx context.Context, e memEntry, msg *message.Message) {
	msg = msg.Clone()
	switch sub := e.sub.(type) {
	case *Chan:
		select {
		case sub.C <- msg:
		case <-ctx.Done():
		case <-time.After(m.slow):
			slog.WarnContext(ctx, "dropping delivery to slow subscriber",
				slogx.Topic(msg.Topic), slog.String("subscriber", sub.Key()))
		}
	case *Callback:
		if err := m.pool.Submit(func() { sub.Deliver(ctx, msg) }); err != nil {
			slog.WarnContext(ctx, "dropping callback delivery",
				slogx.Topic(msg.Topic), slog.String("subscriber", sub.Key()), slogx.Error(err))
		}
	case Ident:
		// No local endpoint; identity subscribers are routed by whoever
		// registered them.
	}
}

func (m *memoryAdapter) Topics(ctx context.Context) []string {
	topics := make([]string, 0, m.topics.Len())
	m.topics.ForEach(func(topic string, _ []memEntry) bool {
		topics = append(topics, topic)
		return true
	})
	sort.Strings(topics)
	return topics
}

func (m *memoryAdapter) Subscribers(ctx context.Context, topic string) []Subscriber {
	chain, _ := m.topics.Get(topic)
	subs := make([]Subscriber, 0, len(chain))
	for _, e := range chain {
		subs = append(subs, e.sub)
	}
	return subs
}

func (m *memoryAdapter) Subscriptions(ctx context.Context, sub Subscriber) []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.index.Get(sub.Key())
	if !ok {
		return nil
	}
	subs := make([]Subscription, 0, idx.Len())
	for pair := idx.Oldest(); pair != nil; pair = pair.Next() {
		subs = append(subs, Subscription{Topic: pair.Key, Options: pair.Value})
	}
	return subs
}

func (m *memoryAdapter) Dump(ctx context.Context) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing := make(map[string][]string)
	m.topics.ForEach(func(topic string, chain []memEntry) bool {
		for _, e := range chain {
			listing[topic] = append(listing[topic], fmt.Sprintf("%s [%s]", e.sub.Key(), e.opts))
		}
		return true
	})

	printer := pp.New()
	printer.SetColoringEnabled(false)
	return "memory adapter\n" + printer.Sprint(listing)
}
