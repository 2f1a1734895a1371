package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vireworkplace/attendance/internal/auth"
)

const sessionExpiredMessage = "Your session has expired. Please log in again."

var ErrTransport = errors.New("transport_error")

// Error is a non-2xx (or success=false) response from the attendance API.
type Error struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("attendance api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("attendance api: status %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsAuth(err error) bool {
	return errors.Is(err, auth.ErrSessionExpired)
}

func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

func IsAlreadyCheckedIn(err error) bool {
	return messageContains(err, "already checked in")
}

func IsAlreadyCheckedOut(err error) bool {
	return messageContains(err, "already checked out")
}

func messageContains(err error, needle string) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), needle)
}

// Message returns the server's message for err, or fallback.
func Message(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	return fallback
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsAuth(err):
		return "auth"
	case IsTransport(err):
		return "transport"
	default:
		var apiErr *Error
		if errors.As(err, &apiErr) {
			return fmt.Sprintf("%dxx", apiErr.StatusCode/100)
		}
		return "error"
	}
}
