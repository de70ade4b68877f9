package uuidx

import "github.com/google/uuid"

// New returns a fresh version 7 UUID. Version 7 identifiers are
// time-ordered, which keeps message ids roughly sortable by creation
// time. It panics if the underlying source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns a fresh version 7 UUID rendered as a string.
func NewString() string {
	return New().String()
}
