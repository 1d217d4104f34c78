package payment

import "github.com/google/uuid"

// NewCorrelationID issues a fresh version-4 identifier for one payment
// attempt. Never reused: a retry is a new session with a new id.
func NewCorrelationID() string {
	return uuid.NewString()
}
