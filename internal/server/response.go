package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vegaexchange/vegad/internal/core/engine"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// APIResponse is the uniform envelope for every JSON response.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func respond(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: data})
}

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, APIResponse{Success: status < 400, Message: message})
}

// respondError maps the engine error taxonomy to HTTP status codes:
// validation and state failures are the caller's fault, binding mismatches
// conflict with the symbol configuration, transient failures invite a
// retry, and invariant violations are server errors.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch engine.KindOf(err) {
	case engine.KindValidation:
		status = http.StatusBadRequest
		if errors.Is(err, engine.ErrUnknownSymbol) {
			status = http.StatusNotFound
		}
	case engine.KindState:
		status = http.StatusBadRequest
		if errors.Is(err, engine.ErrOrderNotFound) {
			status = http.StatusNotFound
		}
	case engine.KindIntegrity:
		status = http.StatusConflict
	case engine.KindTransient:
		status = http.StatusServiceUnavailable
	case engine.KindFatal:
		status = http.StatusInternalServerError
	default:
		if relationaldb.IsNotFound(err) {
			status = http.StatusNotFound
		}
	}

	message := err.Error()
	var e *engine.Error
	if errors.As(err, &e) {
		message = e.Message
		if e.Retryable() {
			c.Header("Retry-After", "1")
		}
	}
	c.JSON(status, APIResponse{Success: false, Message: message})
}
