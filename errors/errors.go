package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error represents an application error. Reason is a stable machine-readable
// code for well-known business conditions; clients can branch on it.
type Error struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// JSON returns the error as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// New creates a new Error
func New(code int, reason, message string, err error) *Error {
	return &Error{
		Code:    code,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// Common error types
var (
	ErrBadRequest     = New(http.StatusBadRequest, "bad_request", "Bad request", nil)
	ErrUnauthorized   = New(http.StatusUnauthorized, "unauthorized", "Unauthorized", nil)
	ErrInvalidToken   = New(http.StatusUnauthorized, "invalid_token", "Invalid or expired token", nil)
	ErrForbidden      = New(http.StatusForbidden, "forbidden", "Admin access required", nil)
	ErrNotFound       = New(http.StatusNotFound, "not_found", "Not found", nil)
	ErrInternalServer = New(http.StatusInternalServerError, "internal", "Internal server error", nil)
)

// ErrorMiddleware converts errors attached to the gin context into a
// structured JSON response.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			var appErr *Error
			if e, ok := err.(*Error); ok {
				appErr = e
			} else {
				appErr = New(http.StatusInternalServerError, "internal", "Internal server error", err)
			}

			c.JSON(appErr.Code, appErr)
			c.Abort()
		}
	}
}
