// Package retained stores the last retained message per topic so late
// subscribers can be brought up to date. The publish pipeline only
// depends on the two-outcome Retain contract; this store is the default
// collaborator behind it.
package retained

import (
	"context"
	"sort"

	"github.com/alphadose/haxmap"
	"github.com/k0kubun/pp/v3"

	"github.com/strixlab/relay/message"
)

// Disposition is the outcome of a retention attempt.
type Disposition int

const (
	// Skipped means the store did not retain the message; it is
	// dispatched unchanged.
	Skipped Disposition = iota
	// Retained means the message became the topic's last known value;
	// the pipeline clears the retain marker before dispatch.
	Retained
)

func (d Disposition) String() string {
	if d == Retained {
		return "retained"
	}
	return "skipped"
}

// Store keeps one message per topic.
type Store struct {
	entries *haxmap.Map[string, *message.Message]
}

func New() *Store {
	return &Store{entries: haxmap.New[string, *message.Message]()}
}

// Retain records msg as its topic's last value when the retain marker is
// set. A retain-marked message with an empty payload is a tombstone: it
// removes the topic's entry instead of becoming it.
func (s *Store) Retain(ctx context.Context, msg *message.Message) (Disposition, error) {
	if !msg.Retain {
		return Skipped, nil
	}
	if len(msg.Payload) == 0 {
		s.entries.Del(msg.Topic)
		return Retained, nil
	}
	s.entries.Set(msg.Topic, msg.Clone())
	return Retained, nil
}

// Lookup returns a copy of the topic's retained message, if any.
func (s *Store) Lookup(topic string) (*message.Message, bool) {
	msg, ok := s.entries.Get(topic)
	if !ok {
		return nil, false
	}
	return msg.Clone(), true
}

// Topics returns the topics currently holding a retained message.
func (s *Store) Topics() []string {
	topics := make([]string, 0, s.entries.Len())
	s.entries.ForEach(func(topic string, _ *message.Message) bool {
		topics = append(topics, topic)
		return true
	})
	sort.Strings(topics)
	return topics
}

// Len reports the number of retained messages.
func (s *Store) Len() int {
	return int(s.entries.Len())
}

// Dump renders the store contents for operational inspection.
func (s *Store) Dump(ctx context.Context) string {
	listing := make(map[string]string, s.Len())
	s.entries.ForEach(func(topic string, msg *message.Message) bool {
		listing[topic] = msg.String()
		return true
	})

	printer := pp.New()
	printer.SetColoringEnabled(false)
	return "retained store\n" + printer.Sprint(listing)
}
