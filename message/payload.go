package message

import json "github.com/goccy/go-json"

// JSONPayload renders v as a JSON payload for a message.
func JSONPayload(v any) ([]byte, error) {
	return json.Marshal(v)
}
