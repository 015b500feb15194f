package middlewares

import (
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"

	"github.com/geocoder89/taskora/internal/apperr"
	"github.com/gin-gonic/gin"
)

// Recovery turns a handler panic into an internal error rendered by
// ErrorHandler, so it has to be registered after it.
func Recovery(log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}

	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, rec any) {
		log.ErrorContext(c.Request.Context(), "panic_recovered",
			"panic", rec,
			"path", c.Request.URL.Path,
			"stack", string(debug.Stack()),
		)
		abort(c, apperr.Internal("Internal Server Error").WithCause(fmt.Errorf("panic: %v", rec)))
	})
}
