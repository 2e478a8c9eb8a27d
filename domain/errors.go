package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by capture, negotiation and transport components
type Kind int

const (
	KindUnknown Kind = iota
	KindPermissionDenied
	KindStartFailed
	KindStopFailed
	KindNotSupported
	KindShareFailed
	KindFilePickFailed
	KindValidationFailed
	KindConnectFailed
	KindSendFailed
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "PERMISSION_DENIED"
	case KindStartFailed:
		return "START_FAILED"
	case KindStopFailed:
		return "STOP_FAILED"
	case KindNotSupported:
		return "NOT_SUPPORTED"
	case KindShareFailed:
		return "SHARE_FAILED"
	case KindFilePickFailed:
		return "FILE_PICK_FAILED"
	case KindValidationFailed:
		return "VALIDATION_FAILED"
	case KindConnectFailed:
		return "CONNECT_FAILED"
	case KindSendFailed:
		return "SEND_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors returned by device drivers. Capture sessions map them onto a Kind.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceBusy       = errors.New("device busy")
	ErrNotSupported     = errors.New("not supported")
	ErrCancelled        = errors.New("cancelled by user")
	ErrSourceEnded      = errors.New("source ended")
)

// ErrConversationNotFound is returned by transcript stores for unknown IDs
var ErrConversationNotFound = errors.New("conversation not found")

// Error is the typed failure carried across component boundaries.
// Message is the human-readable text shown to the user, it may be localized.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// NewError creates a typed error
func NewError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// KindOf returns the Kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given Kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
