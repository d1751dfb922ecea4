package consts

// ContextKey is a custom type for context keys to avoid collisions between packages.
type ContextKey string

const (
	// RequestIDKey carries the per-request identifier assigned by the HTTP API.
	RequestIDKey = ContextKey("request_id")
)
