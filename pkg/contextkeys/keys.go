// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application must be defined here so key
// usage stays discoverable and collision-free.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// CurrentUserKey contains *users.User for the authenticated request
	// Set by: middleware.LoadUser (pkg/middleware/auth.go)
	// Required by: all guarded handlers
	CurrentUserKey Key = "current_user"

	// ExternalIDKey contains the identity-provider user id string
	// Set by: middleware.LoadUser after session resolution
	ExternalIDKey Key = "external_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability middleware
	LoggerKey Key = "logger"
)

// WithCurrentUser adds the authenticated user to the context
func WithCurrentUser(ctx context.Context, user interface{}) context.Context {
	return context.WithValue(ctx, CurrentUserKey, user)
}

// WithExternalID adds the identity-provider user id to the context
func WithExternalID(ctx context.Context, externalID string) context.Context {
	return context.WithValue(ctx, ExternalIDKey, externalID)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetExternalID retrieves the identity-provider user id from context
func GetExternalID(ctx context.Context) string {
	if externalID, ok := ctx.Value(ExternalIDKey).(string); ok {
		return externalID
	}
	return ""
}
