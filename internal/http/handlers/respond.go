package handlers

import (
	"github.com/geocoder89/taskora/internal/apperr"
	"github.com/gin-gonic/gin"
)

// Envelope wraps every successful response.
type Envelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

func RespondOK(ctx *gin.Context, status int, data any, message string) {
	ctx.JSON(status, Envelope{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < 400,
	})
}

// fail hands err to the error middleware and stops the chain.
func fail(ctx *gin.Context, err *apperr.Error) {
	_ = ctx.Error(err)
	ctx.Abort()
}

// failInternal reports an unexpected error as a 500 without leaking it.
func failInternal(ctx *gin.Context, err error) {
	fail(ctx, apperr.Internal("Internal Server Error").WithCause(err))
}
