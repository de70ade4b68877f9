/*
Package relay is the publish/subscribe dispatch core of a message broker:
for every inbound message it decides which registered hooks get to observe
or veto it, whether the message is retained for late subscribers, and which
routing backend delivers it.

The package is built around four pieces:

  - Hooks: named extension points with priority-ordered handler chains
    that fold an accumulator and may short-circuit it (package hook)
  - Adapters: swappable routing backends behind a narrow capability
    contract, selected by configuration on every call (package pubsub)
  - Retention: a two-outcome collaborator keeping the last value per
    topic (package retained)
  - The publish pipeline: audit, hook filter, retain, dispatch (Broker)

# Basic Usage

	broker, err := relay.New(
		relay.WithConfig(pubsub.NewStatic("memory")),
		relay.WithAdapter("memory", pubsub.Memory()),
	)
	if err != nil {
		// Handle error
	}

	err = broker.Hooks().Register(relay.HookMessagePublish, hook.Callback[*message.Message]{
		Name:     "audit-veto",
		Priority: 10,
		Fn: func(ctx context.Context, args []any, msg *message.Message, state any) (*message.Message, hook.Verdict, error) {
			if blocked(msg.Topic) {
				return msg, hook.Halt, nil
			}
			return msg, hook.Unchanged, nil
		},
	})

	result, err := broker.Publish(ctx, message.New("sensors/door", payload, "client-1"))

A hook halting the fold yields the Ignored outcome, not an error: a veto
is a normal result of publishing.

# Backend selection

The active adapter is resolved from configuration on each call, never
cached, so pointing the configuration at another registered backend (a
test fake, an in-memory adapter, a NATS fabric) takes effect on the next
operation without restarting anything.
*/
package relay
