package middlewares

// gin.Context keys. Auth state lives on the request context (authctx), never here.
const (
	CtxRequestID = "request_id"
)
