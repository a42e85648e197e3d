package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jacario/jacario/internal/server"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func newApiError(statusCode int) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    strings.ToLower(http.StatusText(statusCode)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden)
}

func NewConflictError() *ApiError {
	return newApiError(http.StatusConflict)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError)
	e.Err = err
	return e
}

// withMessage replaces the generic status text with a client-safe detail.
func (e *ApiError) withMessage(msg string) *ApiError {
	e.Message = msg
	return e
}

// chatError maps an error returned by the chat server to a response.
func chatError(err error) *ApiError {
	var chatErr *server.Error
	if !errors.As(err, &chatErr) {
		return NewInternalServerError(err)
	}

	detail := chatErr.Detail
	if detail == "" {
		detail = chatErr.Kind.Error()
	}

	switch {
	case errors.Is(err, server.ErrValidation):
		return NewBadRequestError().withMessage(detail)
	case errors.Is(err, server.ErrNotFound):
		return NewNotFoundError().withMessage(detail)
	case errors.Is(err, server.ErrAccessDenied):
		return NewForbiddenError().withMessage(server.ErrAccessDenied.Error())
	case errors.Is(err, server.ErrPermissionDenied):
		return NewForbiddenError().withMessage(server.ErrPermissionDenied.Error())
	default:
		return NewInternalServerError(err)
	}
}
