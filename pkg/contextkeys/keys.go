// Package contextkeys provides centralized context key definitions
//
// All context keys shared between packages are defined here so that the
// audit trail, the permission middleware and the logger agree on names.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/dataroom/pkg/contextkeys"
//	ctx = contextkeys.WithUserID(ctx, userID)
//	userID := contextkeys.GetUserID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestContextMiddleware
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID string
	// Set by: httputil.RequestContextMiddleware (trusted upstream header)
	// Used by: Logger, permission middleware, audit trail
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.RequestContextMiddleware
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// ClientKey contains the network origin of the request
	// Set by: httputil.RequestContextMiddleware
	// Used by: audit events (ip address, user agent)
	// Type: Client
	ClientKey Key = "client"
)

// Client is the network context of an incoming request.
type Client struct {
	IPAddress string
	UserAgent string
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// WithClient adds the request's network context
func WithClient(ctx context.Context, client Client) context.Context {
	return context.WithValue(ctx, ClientKey, client)
}

// GetClient retrieves the request's network context. The zero value is
// returned when none was recorded.
func GetClient(ctx context.Context) Client {
	if client, ok := ctx.Value(ClientKey).(Client); ok {
		return client
	}
	return Client{}
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}
