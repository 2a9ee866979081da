package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrBodyTooLarge   = errors.New("request body too large")
)

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// ResponseError is the body of every error reply.
type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "")
}

func writeError(c *echo.Context, status int, errType, msg, runID string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			RunID:   runID,
		},
	})
}
