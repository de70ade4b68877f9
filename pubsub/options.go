package pubsub

import (
	"fmt"
	"strings"

	"github.com/fogfish/opts"
)

// Options are the recognized subscription flags. They are opaque to the
// dispatch core; each adapter validates and interprets them by its own
// policy.
type Options struct {
	// Local restricts delivery to the originating node.
	Local bool
	// QoS is the requested delivery quality (0..2).
	QoS byte
	// Share names a shared-delivery group: one member of the group
	// receives each message.
	Share string
}

var (
	// WithLocal restricts the subscription to the originating node.
	WithLocal = opts.ForName[Options, bool]("Local")
	// WithQoS requests a delivery quality level.
	WithQoS = opts.ForName[Options, byte]("QoS")
	// WithShare joins a shared-delivery group.
	WithShare = opts.ForName[Options, string]("Share")
)

// NewOptions folds the given flags into an option set.
func NewOptions(options ...opts.Option[Options]) Options {
	var o Options
	if err := opts.Apply(&o, options); err != nil {
		panic(err)
	}
	return o
}

// Equal reports whether two option sets are identical.
func (o Options) Equal(other Options) bool {
	return o == other
}

// String renders the options in the flag syntax they are configured
// with: "local,qos:1,share:group".
func (o Options) String() string {
	var parts []string
	if o.Local {
		parts = append(parts, "local")
	}
	parts = append(parts, fmt.Sprintf("qos:%d", o.QoS))
	if o.Share != "" {
		parts = append(parts, "share:"+o.Share)
	}
	return strings.Join(parts, ",")
}
