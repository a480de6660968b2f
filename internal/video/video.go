// Package video wraps the external real-time session provider. The rest of
// the system only sees the Provider interface, constructed once at process
// start and injected into the booking service.
package video

import (
	"context"
	"errors"
	"time"
)

// ErrProviderUnavailable is returned when the provider cannot be reached or
// the circuit breaker is open. Reservation attempts abort before any writes.
var ErrProviderUnavailable = errors.New("video session provider unavailable")

// TokenRequest describes a participant token for an existing session.
type TokenRequest struct {
	SessionID string
	Role      string
	ExpiresAt time.Time
	// Metadata is opaque connection data surfaced to the client, typically a
	// small JSON document identifying the participant.
	Metadata string
}

type Provider interface {
	// CreateSession provisions a session and returns its identifier.
	// Sessions are provisioned before the booking transaction; a session
	// that ends up unused because the transaction rolled back is acceptable
	// leaked state on the provider side.
	CreateSession(ctx context.Context) (string, error)

	// IssueToken mints a time-bounded participant token for a session.
	IssueToken(ctx context.Context, req TokenRequest) (string, error)
}
