package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strixlab/relay/hook"
	"github.com/strixlab/relay/message"
	"github.com/strixlab/relay/pubsub"
	"github.com/strixlab/relay/retained"
)

// fakeAdapter records traffic so tests can assert on what the pipeline
// actually dispatched.
type fakeAdapter struct {
	published  []*message.Message
	publishErr error
	onPublish  func()
}

func (a *fakeAdapter) Subscribe(context.Context, string, pubsub.Subscriber, pubsub.Options) error {
	return nil
}

func (a *fakeAdapter) Unsubscribe(_ context.Context, topic string, _ pubsub.Subscriber) error {
	return &pubsub.SubscriptionNotFoundError{Topic: topic}
}

func (a *fakeAdapter) Publish(_ context.Context, msg *message.Message) error {
	if a.onPublish != nil {
		a.onPublish()
	}
	if a.publishErr != nil {
		return a.publishErr
	}
	a.published = append(a.published, msg)
	return nil
}

func (a *fakeAdapter) Topics(context.Context) []string { return []string{"t"} }

func (a *fakeAdapter) Subscribers(context.Context, string) []pubsub.Subscriber { return nil }

func (a *fakeAdapter) Subscriptions(context.Context, pubsub.Subscriber) []pubsub.Subscription {
	return nil
}

func (a *fakeAdapter) Dump(context.Context) string { return "fake adapter dump" }

type retainerFunc func(ctx context.Context, msg *message.Message) (retained.Disposition, error)

func (f retainerFunc) Retain(ctx context.Context, msg *message.Message) (retained.Disposition, error) {
	return f(ctx, msg)
}

func newTestBroker(t *testing.T) (*Broker, *fakeAdapter) {
	t.Helper()
	adapter := &fakeAdapter{}
	broker, err := New(
		WithConfig(pubsub.NewStatic("fake")),
		WithAdapter("fake", adapter),
	)
	require.NoError(t, err)
	return broker, adapter
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New()
	assert.Error(t, err)
}

func TestPublishDelivers(t *testing.T) {
	broker, adapter := newTestBroker(t)

	result, err := broker.Publish(context.Background(), message.New("t", []byte("x"), "client-1"))
	require.NoError(t, err)

	assert.Equal(t, Delivered, result.Outcome)
	require.NotNil(t, result.Delivery)
	assert.Equal(t, "t", result.Delivery.Topic)
	assert.Equal(t, "fake", result.Delivery.Adapter)
	require.Len(t, adapter.published, 1)
	assert.Equal(t, result.Delivery.MessageID, adapter.published[0].ID)
}

func TestPublishVetoIsIgnoredNotError(t *testing.T) {
	broker, adapter := newTestBroker(t)

	require.NoError(t, broker.Hooks().Register(HookMessagePublish, hook.Callback[*message.Message]{
		Name: "veto-all",
		Fn: func(_ context.Context, _ []any, msg *message.Message, _ any) (*message.Message, hook.Verdict, error) {
			return msg, hook.Halt, nil
		},
	}))

	result, err := broker.Publish(context.Background(), message.New("t", []byte("x"), "c"))
	require.NoError(t, err, "a veto is an outcome, not an error")

	assert.Equal(t, Ignored, result.Outcome)
	assert.Nil(t, result.Delivery)
	assert.Empty(t, adapter.published, "the adapter must never see a vetoed message")
}

func TestPublishHookRewritesTopic(t *testing.T) {
	broker, adapter := newTestBroker(t)

	require.NoError(t, broker.Hooks().Register(HookMessagePublish, hook.Callback[*message.Message]{
		Name:     "rewrite",
		Priority: 10,
		Fn: func(_ context.Context, _ []any, msg *message.Message, _ any) (*message.Message, hook.Verdict, error) {
			if msg.Topic == "a" {
				return msg.WithTopic("b"), hook.Proceed, nil
			}
			return msg, hook.Unchanged, nil
		},
	}))
	require.NoError(t, broker.Hooks().Register(HookMessagePublish, hook.Callback[*message.Message]{
		Name:     "noop",
		Priority: 20,
		Fn: func(_ context.Context, _ []any, msg *message.Message, _ any) (*message.Message, hook.Verdict, error) {
			return msg, hook.Unchanged, nil
		},
	}))

	original := message.New("a", []byte("x"), "c")
	result, err := broker.Publish(context.Background(), original)
	require.NoError(t, err)

	assert.Equal(t, Delivered, result.Outcome)
	require.Len(t, adapter.published, 1)
	assert.Equal(t, "b", adapter.published[0].Topic, "dispatch must use the rewritten topic")
	assert.Equal(t, "a", original.Topic, "the caller's message is never mutated")
}

func TestPublishRetainedClearsMarker(t *testing.T) {
	broker, adapter := newTestBroker(t)

	original := message.New("t", []byte("x"), "c", message.WithRetain(true))
	result, err := broker.Publish(context.Background(), original)
	require.NoError(t, err)

	assert.Equal(t, Delivered, result.Outcome)
	require.Len(t, adapter.published, 1)
	assert.False(t, adapter.published[0].Retain, "retained messages dispatch with the marker cleared")
	assert.True(t, original.Retain, "the caller's message keeps its marker")
}

func TestPublishSkippedRetentionDispatchesUnchanged(t *testing.T) {
	adapter := &fakeAdapter{}
	broker, err := New(
		WithConfig(pubsub.NewStatic("fake")),
		WithAdapter("fake", adapter),
		WithRetainer(retainerFunc(func(_ context.Context, _ *message.Message) (retained.Disposition, error) {
			return retained.Skipped, nil
		})),
	)
	require.NoError(t, err)

	original := message.New("t", []byte("x"), "c", message.WithRetain(true))
	_, err = broker.Publish(context.Background(), original)
	require.NoError(t, err)

	require.Len(t, adapter.published, 1)
	assert.True(t, adapter.published[0].Retain, "skipped retention dispatches the post-hook message as is")
}

func TestPublishRetainerErrorPropagates(t *testing.T) {
	adapter := &fakeAdapter{}
	boom := errors.New("store down")
	broker, err := New(
		WithConfig(pubsub.NewStatic("fake")),
		WithAdapter("fake", adapter),
		WithRetainer(retainerFunc(func(_ context.Context, _ *message.Message) (retained.Disposition, error) {
			return retained.Skipped, boom
		})),
	)
	require.NoError(t, err)

	_, err = broker.Publish(context.Background(), message.New("t", nil, "c"))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, adapter.published)
}

func TestPublishAdapterErrorPropagates(t *testing.T) {
	broker, adapter := newTestBroker(t)
	adapter.publishErr = errors.New("backend down")

	_, err := broker.Publish(context.Background(), message.New("t", nil, "c"))
	assert.ErrorIs(t, err, adapter.publishErr)
}

func TestPublishNoAdapterConfigured(t *testing.T) {
	broker, err := New(WithConfig(pubsub.NewStatic("")))
	require.NoError(t, err)

	_, err = broker.Publish(context.Background(), message.New("t", nil, "c"))
	assert.ErrorIs(t, err, pubsub.ErrNoAdapter)
}

func TestPublishAdapterSwapTakesEffectNextCall(t *testing.T) {
	cfg := pubsub.NewStatic("first")
	first, second := &fakeAdapter{}, &fakeAdapter{}
	broker, err := New(
		WithConfig(cfg),
		WithAdapter("first", first),
		WithAdapter("second", second),
	)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = broker.Publish(ctx, message.New("t", nil, "c"))
	require.NoError(t, err)

	cfg.Set("second")
	_, err = broker.Publish(ctx, message.New("t", nil, "c"))
	require.NoError(t, err)

	assert.Len(t, first.published, 1)
	assert.Len(t, second.published, 1)
}

func TestPublishDescriptorNamesPublishingAdapter(t *testing.T) {
	cfg := pubsub.NewStatic("first")
	first, second := &fakeAdapter{}, &fakeAdapter{}
	broker, err := New(
		WithConfig(cfg),
		WithAdapter("first", first),
		WithAdapter("second", second),
	)
	require.NoError(t, err)

	// A swap landing while the backend is mid-publish must not skew
	// the descriptor toward the adapter that never saw the message.
	first.onPublish = func() { cfg.Set("second") }

	result, err := broker.Publish(context.Background(), message.New("t", nil, "c"))
	require.NoError(t, err)

	require.NotNil(t, result.Delivery)
	assert.Equal(t, "first", result.Delivery.Adapter)
	assert.Len(t, first.published, 1)
	assert.Empty(t, second.published)
}

func TestPublishInternalSenderSkipsAuditButDelivers(t *testing.T) {
	broker, adapter := newTestBroker(t)

	result, err := broker.Publish(context.Background(), message.New("$SYS/uptime", []byte("42"), message.SenderInternal))
	require.NoError(t, err)

	assert.Equal(t, Delivered, result.Outcome)
	assert.Len(t, adapter.published, 1)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "delivered", Delivered.String())
	assert.Equal(t, "ignored", Ignored.String())
}

func TestSubscribePassThrough(t *testing.T) {
	broker, _ := newTestBroker(t)
	ctx := context.Background()
	sub := pubsub.NewChan(1)

	require.NoError(t, broker.Subscribe(ctx, "t", sub, pubsub.NewOptions()))

	err := broker.Unsubscribe(ctx, "t", sub)
	assert.ErrorIs(t, err, pubsub.ErrSubscriptionNotFound, "adapter errors reach the caller untouched")

	topics, err := broker.Topics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, topics)
}

func TestEndToEndWithMemoryAdapter(t *testing.T) {
	broker, err := New(
		WithConfig(pubsub.NewStatic("memory")),
		WithAdapter("memory", pubsub.Memory()),
	)
	require.NoError(t, err)
	ctx := context.Background()

	sub := pubsub.NewChan(4)
	require.NoError(t, broker.Subscribe(ctx, "sensors/door", sub, pubsub.NewOptions()))

	result, err := broker.Publish(ctx, message.New("sensors/door", []byte("open"), "client-1"))
	require.NoError(t, err)
	assert.Equal(t, Delivered, result.Outcome)

	got := <-sub.C
	assert.Equal(t, []byte("open"), got.Payload)

	subs, err := broker.Subscriptions(ctx, sub)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "sensors/door", subs[0].Topic)
}

type staticDumper string

func (d staticDumper) Dump(context.Context) string { return string(d) }

func TestDumpAggregates(t *testing.T) {
	adapter := &fakeAdapter{}
	broker, err := New(
		WithConfig(pubsub.NewStatic("fake")),
		WithAdapter("fake", adapter),
		WithRouter(staticDumper("router dump")),
	)
	require.NoError(t, err)

	dump, err := broker.Dump(context.Background())
	require.NoError(t, err)

	assert.Contains(t, dump, "fake adapter dump")
	assert.Contains(t, dump, "retained store", "default retainer contributes its listing")
	assert.Contains(t, dump, "router dump")
}
