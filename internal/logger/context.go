package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds connection-scoped logging context
type LogContext struct {
	TraceID      string    // correlation ID for a logical operation
	SpanID       string    // sub-operation span ID
	ConnectionID string    // local:remote identity of the Connection
	RemoteAddr   string    // peer address (without port, or with, by caller convention)
	LogicalPort  uint16    // logical port currently being processed, 0 = RTCP control
	Role         string    // connection role: "input" or "output"
	StartTime    time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a connection with the given remote address.
func NewLogContext(remoteAddr string) *LogContext {
	return &LogContext{
		RemoteAddr: remoteAddr,
		StartTime:  time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:      lc.TraceID,
		SpanID:       lc.SpanID,
		ConnectionID: lc.ConnectionID,
		RemoteAddr:   lc.RemoteAddr,
		LogicalPort:  lc.LogicalPort,
		Role:         lc.Role,
		StartTime:    lc.StartTime,
	}
}

// WithConnection returns a copy with the connection identity set
func (lc *LogContext) WithConnection(id, role string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ConnectionID = id
		clone.Role = role
	}
	return clone
}

// WithLogicalPort returns a copy with the logical port set
func (lc *LogContext) WithLogicalPort(port uint16) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.LogicalPort = port
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
