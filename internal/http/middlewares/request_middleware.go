package middlewares

import (
	"log/slog"
	"time"

	"github.com/geocoder89/taskora/internal/authctx"
	"github.com/geocoder89/taskora/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

func RequestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(requestIDHeader)

		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		ctx.Writer.Header().Set(requestIDHeader, id)

		ctx.Set(CtxRequestID, id)
		ctx.Request = ctx.Request.WithContext(observability.WithRequestID(ctx.Request.Context(), id))

		ctx.Next()
	}
}

func RequestIDFrom(ctx *gin.Context) string {
	return ctx.GetString(CtxRequestID)
}

func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}

	return func(ctx *gin.Context) {
		start := time.Now()

		route := ctx.FullPath()
		if route == "" {
			route = ctx.Request.URL.Path // fallback (e.g. 404)
		}

		method := ctx.Request.Method

		ctx.Next()

		lat := time.Since(start)
		status := ctx.Writer.Status()

		logAttrs := []any{
			"method", method,
			"route", route,
			"status", status,
			"latency_ms", lat.Milliseconds(),
		}

		// the gate replaces the request context, so read it after Next
		if userID, ok := authctx.UserIDFrom(ctx.Request.Context()); ok {
			logAttrs = append(logAttrs, "user_id", userID)
		}
		if projectID, role, ok := authctx.ProjectRoleFrom(ctx.Request.Context()); ok {
			logAttrs = append(logAttrs, "project_id", projectID, "project_role", string(role))
		}

		log.InfoContext(ctx.Request.Context(), "http_request", logAttrs...)
	}
}
