package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrCallWindowNotOpen is returned when a video token is requested
	// earlier than the configured lead time before the appointment.
	ErrCallWindowNotOpen = errors.New("the call is not yet available for this appointment")

	// ErrCallWindowClosed is returned when a cutoff after the appointment end
	// is configured and has passed.
	ErrCallWindowClosed = errors.New("the call window for this appointment has closed")
)

type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// TxRunner executes fn inside a single atomic storage transaction. Any error
// rolls every write back.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AuditEntry struct {
	UserID       uuid.UUID
	UserRole     string
	Action       string
	ResourceType string
	ResourceID   string
	IPAddress    string
	RequestID    string
	Changes      string
}
