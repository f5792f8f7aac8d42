package types

import "github.com/google/uuid"

// CorrelationID tracks a request across service boundaries.
type CorrelationID string

// EventID uniquely identifies an outbox event.
type EventID string

// NewEventID generates a new unique EventID.
func NewEventID() EventID {
	return EventID(uuid.NewString())
}

// NewCorrelationID generates a new unique CorrelationID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

// String returns the string representation of CorrelationID.
func (c CorrelationID) String() string {
	return string(c)
}

// String returns the string representation of EventID.
func (e EventID) String() string {
	return string(e)
}

// IsEmpty checks if the CorrelationID is empty.
func (c CorrelationID) IsEmpty() bool {
	return c == ""
}
