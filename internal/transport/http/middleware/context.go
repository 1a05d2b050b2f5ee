package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/heyavanindra/FrenCircle-sub001/internal/usecase"
)

const (
	// TraceIDHeader echoes the trace id back to clients.
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the gin context key for the trace id.
	TraceIDKey = "trace_id"
	// UserIDKey is the gin context key for the authenticated user id.
	UserIDKey = "user_id"
	// SessionIDKey is the gin context key for the session bound to the access token.
	SessionIDKey = "session_id"
	// ClaimsKey is the gin context key for the validated access token claims.
	ClaimsKey = "claims"

	requestContextKey = "request_context"
)

// RequestContext holds request-scoped client attributes.
type RequestContext struct {
	TraceID   string
	UserID    string
	IP        string
	UserAgent string
}

// Device converts the client attributes into the usecase form.
func (r *RequestContext) Device() usecase.DeviceInfo {
	if r == nil {
		return usecase.DeviceInfo{}
	}
	return usecase.DeviceInfo{IP: r.IP, UserAgent: r.UserAgent}
}

// EnrichContext stores the client attributes and a trace id for every request. The trace id of
// the active span wins; a client supplied X-Trace-ID is used when no span exists.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := ""
		if spanCtx := trace.SpanContextFromContext(c.Request.Context()); spanCtx.HasTraceID() {
			traceID = spanCtx.TraceID().String()
		}
		if traceID == "" {
			traceID = c.GetHeader(TraceIDHeader)
		}

		if traceID != "" {
			c.Set(TraceIDKey, traceID)
			c.Header(TraceIDHeader, traceID)
		}

		c.Set(requestContextKey, &RequestContext{
			TraceID:   traceID,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})

		c.Next()
	}
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(c *gin.Context) string {
	if traceID, exists := c.Get(TraceIDKey); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}
	return ""
}

// GetRequestContext retrieves the full request context
func GetRequestContext(c *gin.Context) *RequestContext {
	if ctx, exists := c.Get(requestContextKey); exists {
		if reqCtx, ok := ctx.(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// DeviceFromContext returns the client attributes recorded on sessions and audit entries.
func DeviceFromContext(c *gin.Context) usecase.DeviceInfo {
	return GetRequestContext(c).Device()
}
