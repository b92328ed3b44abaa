package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yairfalse/stackforge/internal/engine"
	"github.com/yairfalse/stackforge/internal/provider"
	"github.com/yairfalse/stackforge/internal/store"
)

// Response is the envelope of every API reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, info ErrorInfo) {
	failWith(c, status, info, nil)
}

// failWith carries partial data next to the error, for failures that
// happen after the provider already created something.
func failWith(c *gin.Context, status int, info ErrorInfo, data interface{}) {
	c.AbortWithStatusJSON(status, Response{Data: data, Error: &info})
}

// writeError maps engine and store errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	writeErrorWith(c, err, nil)
}

func writeErrorWith(c *gin.Context, err error, data interface{}) {
	_ = c.Error(err)
	status, info := classify(err)
	failWith(c, status, info, data)
}

func classify(err error) (int, ErrorInfo) {
	var (
		verr    *engine.ValidationError
		aerr    *provider.AccountCreationError
		corrupt *store.StoreCorruptionError
		ioerr   *store.StoreIOError
	)

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorInfo{Type: "validation_error", Message: verr.Error(), Field: verr.Field}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrorInfo{Type: "not_found", Message: err.Error()}
	case errors.Is(err, engine.ErrAccountActive):
		return http.StatusConflict, ErrorInfo{Type: "conflict", Message: err.Error()}
	case errors.As(err, &aerr):
		return http.StatusBadGateway, ErrorInfo{Type: "account_creation_failed", Message: aerr.Error()}
	case errors.As(err, &corrupt), errors.As(err, &ioerr):
		return http.StatusInternalServerError, ErrorInfo{Type: "store_error", Message: "account store unavailable"}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrorInfo{Type: "timeout", Message: "request did not complete in time"}
	default:
		return http.StatusInternalServerError, ErrorInfo{Type: "internal", Message: "internal server error"}
	}
}

func bindError(c *gin.Context, err error) {
	_ = c.Error(err)
	fail(c, http.StatusBadRequest, ErrorInfo{Type: "validation_error", Message: describeBindError(err)})
}
