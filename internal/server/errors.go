package server

import (
	"errors"
)

// Error kinds reported to clients. Every error returned by a chat operation
// matches exactly one of them with errors.Is.
var (
	ErrValidation       = errors.New("invalid request")
	ErrAccessDenied     = errors.New("access denied to this room")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrPersistence      = errors.New("internal server error")
)

var (
	ErrRoomNotFound    = &Error{Kind: ErrNotFound, Detail: "room not found"}
	ErrMessageNotFound = &Error{Kind: ErrNotFound, Detail: "message not found"}
	ErrParentNotFound  = &Error{Kind: ErrNotFound, Detail: "parent message not found"}
	ErrMessageDeleted  = &Error{Kind: ErrValidation, Detail: "message has been deleted"}
	ErrEmptyContent    = &Error{Kind: ErrValidation, Detail: "missing message content"}
	ErrMessageTooLong  = &Error{Kind: ErrValidation, Detail: "message too long"}
	ErrMissingRoomId   = &Error{Kind: ErrValidation, Detail: "missing room id"}
	ErrMissingMsgId    = &Error{Kind: ErrValidation, Detail: "missing message id"}
	ErrRoomNotJoined   = &Error{Kind: ErrValidation, Detail: "room not joined"}
	ErrInvalidFormat   = &Error{Kind: ErrValidation, Detail: "invalid message format"}
)

// Error carries the kind of a failure, a client-safe detail and the
// underlying cause, which is only ever logged.
type Error struct {
	Kind   error
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(detail string) error {
	return &Error{Kind: ErrValidation, Detail: detail}
}

func persistenceError(op string, err error) error {
	return &Error{Kind: ErrPersistence, Detail: op, Err: err}
}

// userMessage returns the text sent to the client for err. Store failures
// and unexpected errors never expose their cause.
func userMessage(err error) string {
	var chatErr *Error
	if !errors.As(err, &chatErr) || errors.Is(err, ErrPersistence) {
		return ErrPersistence.Error()
	}

	switch {
	case errors.Is(err, ErrAccessDenied):
		return ErrAccessDenied.Error()
	case errors.Is(err, ErrPermissionDenied):
		return ErrPermissionDenied.Error()
	}

	if chatErr.Detail != "" {
		return chatErr.Detail
	}
	return chatErr.Kind.Error()
}
