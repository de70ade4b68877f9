package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strixlab/relay/message"
)

// nullAdapter records publishes and satisfies the contract trivially.
type nullAdapter struct {
	published []*message.Message
}

func (a *nullAdapter) Subscribe(context.Context, string, Subscriber, Options) error { return nil }

func (a *nullAdapter) Unsubscribe(context.Context, string, Subscriber) error { return nil }

func (a *nullAdapter) Publish(_ context.Context, msg *message.Message) error {
	a.published = append(a.published, msg)
	return nil
}

func (a *nullAdapter) Topics(context.Context) []string { return nil }

func (a *nullAdapter) Subscribers(context.Context, string) []Subscriber { return nil }

func (a *nullAdapter) Subscriptions(context.Context, Subscriber) []Subscription { return nil }

func (a *nullAdapter) Dump(context.Context) string { return "null adapter" }

func TestResolverNoConfiguration(t *testing.T) {
	resolver := NewResolver(NewStatic(""))
	resolver.Register("memory", Memory())

	_, _, err := resolver.Active()
	assert.ErrorIs(t, err, ErrNoAdapter, "missing configuration is never defaulted")
}

func TestResolverUnknownName(t *testing.T) {
	resolver := NewResolver(NewStatic("bogus"))

	_, _, err := resolver.Active()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAdapter)

	var unknown *UnknownAdapterError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogus", unknown.Name)
}

func TestResolverResolvesPerCall(t *testing.T) {
	cfg := NewStatic("first")
	resolver := NewResolver(cfg)

	first, second := &nullAdapter{}, &nullAdapter{}
	resolver.Register("first", first)
	resolver.Register("second", second)

	got, name, err := resolver.Active()
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.Equal(t, "first", name)

	// Swapping the configuration takes effect on the very next call.
	cfg.Set("second")
	got, name, err = resolver.Active()
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.Equal(t, "second", name)
}

func TestResolverEnvConfig(t *testing.T) {
	t.Setenv(DefaultEnvVar, "memory")
	resolver := NewResolver(Env(DefaultEnvVar))
	mem := Memory()
	resolver.Register("memory", mem)

	got, _, err := resolver.Active()
	require.NoError(t, err)
	assert.Same(t, mem, got)

	t.Setenv(DefaultEnvVar, "")
	_, _, err = resolver.Active()
	assert.ErrorIs(t, err, ErrNoAdapter)
}

func TestResolverNames(t *testing.T) {
	resolver := NewResolver(NewStatic("memory"))
	resolver.Register("memory", Memory())
	resolver.Register("nats", &nullAdapter{})

	assert.ElementsMatch(t, []string{"memory", "nats"}, resolver.Names())

	resolver.Deregister("nats")
	assert.ElementsMatch(t, []string{"memory"}, resolver.Names())
}
