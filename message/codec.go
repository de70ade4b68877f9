package message

import (
	"encoding/base64"
	"fmt"

	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var messageJSON = []byte(`{"type":"message"}`)

// String renders a compact human-readable form of the message. It is the
// rendering used in audit traces and veto warnings; the payload is shown
// as text, not base64.
func (m *Message) String() string {
	result := messageJSON

	result, _ = sjson.SetBytes(result, "id", m.ID.String())
	result, _ = sjson.SetBytes(result, "topic", m.Topic)
	result, _ = sjson.SetBytes(result, "from", m.From)
	if m.Retain {
		result, _ = sjson.SetBytes(result, "retain", true)
	}
	result, _ = sjson.SetBytes(result, "payload", string(m.Payload))
	return string(result)
}

// MarshalBinary encodes the message for transport between nodes. The
// payload travels base64-encoded so arbitrary bytes survive the JSON
// framing.
func (m *Message) MarshalBinary() ([]byte, error) {
	result := messageJSON

	var err error
	if result, err = sjson.SetBytes(result, "id", m.ID.String()); err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "topic", m.Topic); err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "from", m.From); err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "retain", m.Retain); err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "timestamp", m.Timestamp.String()); err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "payload", base64.StdEncoding.EncodeToString(m.Payload)); err != nil {
		return nil, err
	}
	if len(m.Headers) > 0 {
		// Headers go through a full marshal so keys holding path
		// characters like '.' stay literal keys.
		raw, err := json.Marshal(m.Headers)
		if err != nil {
			return nil, err
		}
		if result, err = sjson.SetRawBytes(result, "headers", raw); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UnmarshalBinary decodes a message produced by MarshalBinary.
func (m *Message) UnmarshalBinary(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid message encoding")
	}
	if typ := gjson.GetBytes(data, "type"); typ.Str != "message" {
		return fmt.Errorf("unexpected frame type: %q", typ.Str)
	}

	id, err := uuid.Parse(gjson.GetBytes(data, "id").Str)
	if err != nil {
		return fmt.Errorf("invalid message id: %w", err)
	}
	payload, err := base64.StdEncoding.DecodeString(gjson.GetBytes(data, "payload").Str)
	if err != nil {
		return fmt.Errorf("invalid message payload: %w", err)
	}
	ts, err := strfmt.ParseDateTime(gjson.GetBytes(data, "timestamp").Str)
	if err != nil {
		return fmt.Errorf("invalid message timestamp: %w", err)
	}

	m.ID = id
	m.Topic = gjson.GetBytes(data, "topic").Str
	m.From = gjson.GetBytes(data, "from").Str
	m.Retain = gjson.GetBytes(data, "retain").Bool()
	m.Timestamp = ts
	m.Payload = payload

	m.Headers = nil
	if headers := gjson.GetBytes(data, "headers"); headers.IsObject() {
		m.Headers = make(map[string]string)
		headers.ForEach(func(key, value gjson.Result) bool {
			m.Headers[key.Str] = value.Str
			return true
		})
	}
	return nil
}
