package domain

import (
	"github.com/google/uuid"

	dErrors "namedir/pkg/domain-errors"
)

// RequestID identifies one recovery request for its whole lifetime.
type RequestID uuid.UUID

// NewRequestID allocates a fresh request identifier.
func NewRequestID() RequestID {
	return RequestID(uuid.New())
}

// ParseRequestID constructs a RequestID from external input.
//
// Errors: returns CodeInvalidInput when the value is not a UUID.
func ParseRequestID(s string) (RequestID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RequestID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "request id must be a UUID")
	}
	return RequestID(u), nil
}

// IsNil reports whether the ID is the zero UUID.
func (r RequestID) IsNil() bool {
	return uuid.UUID(r) == uuid.Nil
}

// String returns the canonical UUID form.
func (r RequestID) String() string {
	return uuid.UUID(r).String()
}
