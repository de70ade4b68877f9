package relay

import (
	"github.com/fogfish/opts"

	"github.com/strixlab/relay/hook"
	"github.com/strixlab/relay/message"
	"github.com/strixlab/relay/pubsub"
)

var (
	// WithConfig supplies the configuration naming the active routing
	// backend. Required; it is consulted on every call.
	WithConfig = opts.ForName[Broker, pubsub.Config]("config")

	// WithRetainer swaps the retention collaborator.
	WithRetainer = opts.ForName[Broker, Retainer]("retainer")

	// WithHooks supplies a pre-populated hook registry.
	WithHooks = opts.ForName[Broker, *hook.Registry[*message.Message]]("hooks")

	// WithRouter attaches a router collaborator whose diagnostic dump is
	// aggregated into the broker's.
	WithRouter = opts.ForName[Broker, Dumper]("router")
)

// WithAdapter registers a routing backend under the name the
// configuration selects it by.
func WithAdapter(name string, adapter pubsub.Adapter) opts.Option[Broker] {
	return opts.Type[Broker](func(b *Broker) error {
		b.pending = append(b.pending, namedAdapter{name: name, adapter: adapter})
		return nil
	})
}
