package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput = errors.New("invalid input")

	ErrNotConnected = errors.New("realtime channel not connected")
	ErrChannelLost  = errors.New("realtime channel lost")

	ErrNetwork      = errors.New("network error")
	ErrNotFound     = errors.New("room not found")
	ErrActionFailed = errors.New("action failed")
	ErrProtocol     = errors.New("unexpected backend payload")

	ErrNoSession = errors.New("no active session")
)

// ActionError carries the backend's own rejection message.
type ActionError struct {
	Status  int
	Message string
}

func (e *ActionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("action failed: status %d", e.Status)
	}
	return e.Message
}

func (e *ActionError) Unwrap() error { return ErrActionFailed }

// IsRetryable reports whether err is transient enough to try again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// Message returns the backend's text for an ActionError, else err.Error().
func Message(err error) string {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Error()
	}
	return err.Error()
}

func ToHTTP(err error) int {
	var ae *ActionError
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ae):
		if ae.Status >= 400 && ae.Status < 500 {
			return ae.Status
		}
		return http.StatusBadGateway
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrNetwork):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
