package middlewares

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/geocoder89/taskora/internal/apperr"
	"github.com/gin-gonic/gin"
)

// ErrorBody is the failure envelope every error response shares.
type ErrorBody struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Errors     []any  `json:"errors"`
	Code       string `json:"code"`
	RequestID  string `json:"requestId,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorHandler renders the last error pushed with c.Error. The internal cause
// is only exposed outside prod, and never on 401 or 403 responses.
func ErrorHandler(env string, log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	exposeDetail := env != "prod"

	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		ae := apperr.From(last.Err)

		body := ErrorBody{
			Success:    false,
			StatusCode: ae.Status,
			Message:    ae.Message,
			Errors:     ae.Details,
			Code:       ae.Code,
			RequestID:  RequestIDFrom(c),
		}
		if body.Errors == nil {
			body.Errors = []any{}
		}

		if cause := errors.Unwrap(ae); cause != nil {
			if exposeDetail && !isAuthFailure(ae.Status) {
				body.Detail = cause.Error()
			}
			switch {
			case ae.Status >= http.StatusInternalServerError:
				log.ErrorContext(c.Request.Context(), "request_failed",
					"status", ae.Status,
					"code", ae.Code,
					"err", cause,
				)
			case isAuthFailure(ae.Status):
				log.InfoContext(c.Request.Context(), "request_denied",
					"status", ae.Status,
					"code", ae.Code,
					"err", cause,
				)
			}
		}

		c.JSON(ae.Status, body)
	}
}

func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// abort pushes err for ErrorHandler and stops the chain.
func abort(c *gin.Context, err *apperr.Error) {
	_ = c.Error(err)
	c.Abort()
}
