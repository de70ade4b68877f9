package message

import (
	"maps"
	"time"

	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/strixlab/relay/pkg/uuidx"
)

// SenderInternal marks messages that originate from the broker itself
// rather than from a client. Audit tracing skips these.
const SenderInternal = "$SYS"

// Message is the unit of routed traffic. A message belongs to the caller
// until it is handed to the publish pipeline; pipeline stages operate on
// copies and never mutate the original in place.
type Message struct {
	ID        uuid.UUID         `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	From      string            `json:"from"`
	Retain    bool              `json:"retain,omitempty"`
	Timestamp strfmt.DateTime   `json:"timestamp"`
	Headers   map[string]string `json:"headers,omitempty"`
}

var (
	// WithRetain marks the message for retention by the broker.
	WithRetain = opts.ForName[Message, bool]("Retain")
	// WithID overrides the generated message id.
	WithID = opts.ForName[Message, uuid.UUID]("ID")
)

// WithHeader attaches a single header to the message.
func WithHeader(key, value string) opts.Option[Message] {
	return opts.Type[Message](func(m *Message) error {
		if m.Headers == nil {
			m.Headers = make(map[string]string)
		}
		m.Headers[key] = value
		return nil
	})
}

// New creates a message addressed at topic, carrying payload, originated
// by from. The id (version 7 UUID) and timestamp are assigned here.
func New(topic string, payload []byte, from string, options ...opts.Option[Message]) *Message {
	msg := &Message{
		ID:        uuidx.New(),
		Topic:     topic,
		Payload:   payload,
		From:      from,
		Timestamp: strfmt.DateTime(time.Now()),
	}
	if err := opts.Apply(msg, options); err != nil {
		panic(err)
	}
	return msg
}

// Clone returns a deep copy of the message. Payload bytes and headers are
// copied, so neither version can observe writes to the other.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Payload != nil {
		clone.Payload = make([]byte, len(m.Payload))
		copy(clone.Payload, m.Payload)
	}
	if m.Headers != nil {
		clone.Headers = maps.Clone(m.Headers)
	}
	return &clone
}

// WithoutRetain returns a copy with the retain marker cleared. The
// receiver is left untouched.
func (m *Message) WithoutRetain() *Message {
	clone := m.Clone()
	clone.Retain = false
	return clone
}

// WithTopic returns a copy re-addressed at topic.
func (m *Message) WithTopic(topic string) *Message {
	clone := m.Clone()
	clone.Topic = topic
	return clone
}
