package transport

import (
	"encoding/binary"
	"fmt"
)

// FrameHeaderSize is the fixed size, in bytes, of the TCP frame header that
// precedes every RTPS payload or RTCP control message.
const FrameHeaderSize = 14

// MaxFrameLength is the hard ceiling on a frame's total length (header plus
// payload), independent of any configured max-message-size.
const MaxFrameLength = 65000

// controlLogicalPort is the reserved logical port value carrying RTCP
// control traffic rather than an RTPS payload.
const controlLogicalPort uint16 = 0

// FrameHeader is the 14-byte, little-endian header written before every
// frame on the wire:
//
//	bytes 0-3:   total length (header + payload), uint32
//	bytes 4-5:   logical port, uint16 (0 = RTCP control)
//	bytes 6-9:   CRC32, uint32 (always written 0, never validated)
//	bytes 10-13: reserved/flags, uint32 (always written 0)
type FrameHeader struct {
	Length      uint32
	LogicalPort uint16
	CRC         uint32
	Reserved    uint32
}

// IsControl reports whether this frame carries an RTCP control message
// rather than an RTPS payload.
func (h FrameHeader) IsControl() bool {
	return h.LogicalPort == controlLogicalPort
}

// PayloadLength returns the number of payload bytes following the header.
func (h FrameHeader) PayloadLength() uint32 {
	if h.Length < FrameHeaderSize {
		return 0
	}
	return h.Length - FrameHeaderSize
}

// EncodeFrameHeader writes h into a fresh FrameHeaderSize-byte slice.
func EncodeFrameHeader(h FrameHeader) []byte {
	buf := make([]byte, FrameHeaderSize)
	putFrameHeader(buf, h)
	return buf
}

// putFrameHeader writes h into buf, which must be at least FrameHeaderSize
// bytes; it does not allocate.
func putFrameHeader(buf []byte, h FrameHeader) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Length)
	binary.LittleEndian.PutUint16(buf[4:6], h.LogicalPort)
	binary.LittleEndian.PutUint32(buf[6:10], h.CRC)
	binary.LittleEndian.PutUint32(buf[10:14], h.Reserved)
}

// DecodeFrameHeader parses a FrameHeaderSize-byte buffer into a FrameHeader.
// It does not range-check Length against any configured maximum; callers
// validate that against their own max-message-size via ValidateFrameLength.
func DecodeFrameHeader(buf []byte) (FrameHeader, error) {
	if len(buf) < FrameHeaderSize {
		return FrameHeader{}, fmt.Errorf("%w: short header (%d bytes)", ErrBadFrame, len(buf))
	}
	return FrameHeader{
		Length:      binary.LittleEndian.Uint32(buf[0:4]),
		LogicalPort: binary.LittleEndian.Uint16(buf[4:6]),
		CRC:         binary.LittleEndian.Uint32(buf[6:10]),
		Reserved:    binary.LittleEndian.Uint32(buf[10:14]),
	}, nil
}

// ValidateFrameLength enforces: length must be at least the
// header size and must not exceed maxMessageSize.
func ValidateFrameLength(length uint32, maxMessageSize uint32) error {
	if length < FrameHeaderSize {
		return fmt.Errorf("%w: length %d below header size %d", ErrBadFrame, length, FrameHeaderSize)
	}
	if length > maxMessageSize {
		return fmt.Errorf("%w: length %d exceeds max message size %d", ErrBadFrame, length, maxMessageSize)
	}
	return nil
}

// RtcpControlHeaderSize is the fixed size of the header following the frame
// header when the frame's logical port is the reserved control port.
const RtcpControlHeaderSize = 10

// RtcpKind enumerates RTCP control message kinds.
type RtcpKind uint8

const (
	RtcpBindConnectionRequest RtcpKind = iota + 1
	RtcpBindConnectionResponse
	RtcpOpenLogicalPortRequest
	RtcpOpenLogicalPortResponse
	RtcpCheckLogicalPortRequest
	RtcpCheckLogicalPortResponse
	RtcpKeepAliveRequest
	RtcpKeepAliveResponse
	RtcpLogicalPortIsClosedRequest
	RtcpUnbindConnectionRequest
)

// String renders the RTCP message kind by name for logging.
func (k RtcpKind) String() string {
	switch k {
	case RtcpBindConnectionRequest:
		return "BIND_CONNECTION_REQUEST"
	case RtcpBindConnectionResponse:
		return "BIND_CONNECTION_RESPONSE"
	case RtcpOpenLogicalPortRequest:
		return "OPEN_LOGICAL_PORT_REQUEST"
	case RtcpOpenLogicalPortResponse:
		return "OPEN_LOGICAL_PORT_RESPONSE"
	case RtcpCheckLogicalPortRequest:
		return "CHECK_LOGICAL_PORT_REQUEST"
	case RtcpCheckLogicalPortResponse:
		return "CHECK_LOGICAL_PORT_RESPONSE"
	case RtcpKeepAliveRequest:
		return "KEEP_ALIVE_REQUEST"
	case RtcpKeepAliveResponse:
		return "KEEP_ALIVE_RESPONSE"
	case RtcpLogicalPortIsClosedRequest:
		return "LOGICAL_PORT_IS_CLOSED_REQUEST"
	case RtcpUnbindConnectionRequest:
		return "UNBIND_CONNECTION_REQUEST"
	default:
		return fmt.Sprintf("RTCP_UNKNOWN(%d)", uint8(k))
	}
}

// ResponseCode enumerates RTCP response codes carried in *_RESPONSE messages.
type ResponseCode uint8

const (
	ResponseOK ResponseCode = iota
	ResponseExistingConnection
	ResponseBadRequest
	ResponseUnknownLocator
	ResponseServerError
	ResponseBadPort
)

func (c ResponseCode) String() string {
	switch c {
	case ResponseOK:
		return "OK"
	case ResponseExistingConnection:
		return "EXISTING_CONNECTION"
	case ResponseBadRequest:
		return "BAD_REQUEST"
	case ResponseUnknownLocator:
		return "UNKNOWN_LOCATOR"
	case ResponseServerError:
		return "SERVER_ERROR"
	case ResponseBadPort:
		return "BAD_PORT"
	default:
		return fmt.Sprintf("RESPONSE_UNKNOWN(%d)", uint8(c))
	}
}

// RtcpControlHeader precedes an RTCP message body.
type RtcpControlHeader struct {
	Kind          RtcpKind
	Flags         uint8
	TransactionID uint32
	PayloadLength uint32
}

// EncodeRtcpControlHeader writes h into a fresh RtcpControlHeaderSize-byte slice.
func EncodeRtcpControlHeader(h RtcpControlHeader) []byte {
	buf := make([]byte, RtcpControlHeaderSize)
	buf[0] = byte(h.Kind)
	buf[1] = h.Flags
	binary.LittleEndian.PutUint32(buf[2:6], h.TransactionID)
	binary.LittleEndian.PutUint32(buf[6:10], h.PayloadLength)
	return buf
}

// DecodeRtcpControlHeader parses an RtcpControlHeaderSize-byte buffer.
func DecodeRtcpControlHeader(buf []byte) (RtcpControlHeader, error) {
	if len(buf) < RtcpControlHeaderSize {
		return RtcpControlHeader{}, fmt.Errorf("%w: short RTCP header (%d bytes)", ErrBadFrame, len(buf))
	}
	return RtcpControlHeader{
		Kind:          RtcpKind(buf[0]),
		Flags:         buf[1],
		TransactionID: binary.LittleEndian.Uint32(buf[2:6]),
		PayloadLength: binary.LittleEndian.Uint32(buf[6:10]),
	}, nil
}
