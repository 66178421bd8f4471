package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/sisreg-api/internal/handler"
	apperrors "github.com/jwalitptl/sisreg-api/pkg/errors"
)

// ErrorHandler renders the last error recorded by a handler. AppErrors
// keep their status and message; anything else becomes a bare 500.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only handle errors if they exist
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		requestID := c.GetString(ContextRequestID)
		lastErr := c.Errors.Last().Err

		status := http.StatusInternalServerError
		resp := handler.NewErrorResponse("internal server error")
		resp.Code = "internal"
		if appErr, ok := apperrors.As(lastErr); ok {
			status = appErr.StatusCode()
			resp.Code = appErr.Kind()
			resp.Message = appErr.Message
		}
		resp.RequestID = requestID

		event := log.Warn()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Err(lastErr).
			Str("request_id", requestID).
			Str("path", c.Request.URL.Path).
			Str("method", c.Request.Method).
			Int("status", status).
			Msg("Request error")

		c.JSON(status, resp)
	}
}
