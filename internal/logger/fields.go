package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that log
// aggregation and querying stays uniform across the transport, the RTCP
// manager, and the daemon entrypoint.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // correlation ID for a logical operation
	KeySpanID  = "span_id"  // sub-operation span within a traced operation

	// ========================================================================
	// Locator & Connection
	// ========================================================================
	KeyLocator       = "locator"        // string form of a Locator (kind:addr:physical:logical)
	KeyAddress       = "address"        // IPv4 address, dotted-quad
	KeyPhysicalPort  = "physical_port"  // TCP physical port
	KeyLogicalPort   = "logical_port"   // RTCP logical port (0 = control)
	KeyConnectionID  = "connection_id"  // Connection identity (local:remote pair)
	KeyConnRole      = "conn_role"      // Connection role: input, output
	KeyConnState     = "conn_state"     // Connection state machine state
	KeyRemoteAddress = "remote_address" // peer address of an accepted/connected socket

	// ========================================================================
	// RTCP Protocol
	// ========================================================================
	KeyRtcpKind       = "rtcp_kind"       // RTCP message kind
	KeyTransactionID  = "transaction_id"  // RTCP transaction ID
	KeyResponseCode   = "response_code"   // RTCP response code
	KeyPendingPorts   = "pending_ports"   // count of pending-output logical ports

	// ========================================================================
	// Frames
	// ========================================================================
	KeyFrameLength = "frame_length" // total frame length including header
	KeyPayloadSize = "payload_size" // payload bytes excluding header

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyErrorCode  = "error_code"  // numeric/symbolic error code
	KeyOperation  = "operation"   // sub-operation type for complex operations
	KeyAttempt    = "attempt"     // retry attempt number
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for a correlation ID.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for a sub-operation span ID.
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Locator returns a slog.Attr for a locator's string form.
func Locator(s string) slog.Attr {
	return slog.String(KeyLocator, s)
}

// Address returns a slog.Attr for an IPv4 address.
func Address(addr string) slog.Attr {
	return slog.String(KeyAddress, addr)
}

// PhysicalPort returns a slog.Attr for a TCP physical port.
func PhysicalPort(port uint16) slog.Attr {
	return slog.Int(KeyPhysicalPort, int(port))
}

// LogicalPort returns a slog.Attr for an RTCP logical port.
func LogicalPort(port uint16) slog.Attr {
	return slog.Int(KeyLogicalPort, int(port))
}

// ConnectionID returns a slog.Attr for a connection identity string.
func ConnectionID(id string) slog.Attr {
	return slog.String(KeyConnectionID, id)
}

// ConnRole returns a slog.Attr for a connection's role (input/output).
func ConnRole(role string) slog.Attr {
	return slog.String(KeyConnRole, role)
}

// ConnState returns a slog.Attr for a connection's state machine state.
func ConnState(state string) slog.Attr {
	return slog.String(KeyConnState, state)
}

// RemoteAddress returns a slog.Attr for a peer's network address.
func RemoteAddress(addr string) slog.Attr {
	return slog.String(KeyRemoteAddress, addr)
}

// RtcpKind returns a slog.Attr for an RTCP message kind.
func RtcpKind(kind string) slog.Attr {
	return slog.String(KeyRtcpKind, kind)
}

// TransactionID returns a slog.Attr for an RTCP transaction ID.
func TransactionID(id uint32) slog.Attr {
	return slog.Uint64(KeyTransactionID, uint64(id))
}

// ResponseCode returns a slog.Attr for an RTCP response code.
func ResponseCode(code string) slog.Attr {
	return slog.String(KeyResponseCode, code)
}

// PendingPorts returns a slog.Attr for a pending-output queue length.
func PendingPorts(n int) slog.Attr {
	return slog.Int(KeyPendingPorts, n)
}

// FrameLength returns a slog.Attr for a frame's total length.
func FrameLength(n uint32) slog.Attr {
	return slog.Uint64(KeyFrameLength, uint64(n))
}

// PayloadSize returns a slog.Attr for a frame's payload size.
func PayloadSize(n int) slog.Attr {
	return slog.Int(KeyPayloadSize, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a symbolic error code.
func ErrorCode(code string) slog.Attr {
	return slog.String(KeyErrorCode, code)
}

// Operation returns a slog.Attr for a sub-operation type.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}
