package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rtps-tcp/transport/internal/logger"
	"github.com/rtps-tcp/transport/pkg/bufpool"
	"github.com/rtps-tcp/transport/pkg/metrics"
)

// ConnState is the Connection state machine's current state.
type ConnState uint8

const (
	StateDisconnected ConnState = iota
	StateConnected
	StateWaitingForBind
	StateWaitingForBindResponse
	StateEstablished
	StateUnbinding
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateWaitingForBind:
		return "waiting_for_bind"
	case StateWaitingForBindResponse:
		return "waiting_for_bind_response"
	case StateEstablished:
		return "established"
	case StateUnbinding:
		return "unbinding"
	default:
		return "unknown"
	}
}

// ConnRole distinguishes an accepted (INPUT) Connection from a dialed
// (OUTPUT) one.
type ConnRole uint8

const (
	RoleInput ConnRole = iota
	RoleOutput
)

func (r ConnRole) String() string {
	if r == RoleOutput {
		return "output"
	}
	return "input"
}

// Connection owns one TCP socket: its RTCP state machine, its pending and
// open logical-port sets, and its per-logical-port receiver map.
type Connection struct {
	id   string
	conn net.Conn
	role ConnRole

	// peer is the locator known at establishment time: IP+physical port are
	// always known; LogicalPort is the one that triggered the connect for
	// an OUTPUT connection, preserved as the initial pending entry.
	peer Locator

	maxMessageSize uint32

	stateMu       sync.Mutex
	state         ConnState
	pendingOutput []uint16          // ordered queue: head is the in-flight OpenLogicalPortRequest
	openOutput    map[uint16]bool   // remote-confirmed open logical ports
	openInput     map[uint16]bool   // locally accepting inbound frames on these ports

	// pendingBindTxID and pendingOpenPortTxID correlate an outstanding
	// request's transaction ID with its response, so a stale or duplicate
	// response (e.g. after a retried request) is dropped rather than
	// misapplied. Zero means no request of that kind is outstanding; 0 is
	// never issued by rtcpManager.nextTransactionID.
	pendingBindTxID     uint32
	pendingOpenPortTxID uint32

	receiversMu sync.RWMutex
	receivers   map[uint16]Receiver

	readMu  sync.Mutex
	writeMu sync.Mutex

	alive atomic.Bool

	rtcp    *rtcpManager
	metrics *metrics.Recorder

	onError func(c *Connection, err error) // ResetAndReconnect / teardown hook, set by Transport

	// outputReceiver and outputTarget are set by Transport.onConnected for
	// OUTPUT Connections only, so ResetAndReconnect can reopen the same
	// locator with the same receiver sink after a peer reset.
	outputReceiver Receiver
	outputTarget   Locator
}

func connectionID(role ConnRole, local, remote net.Addr) string {
	if local == nil || remote == nil {
		return fmt.Sprintf("%s:unbound", role)
	}
	return fmt.Sprintf("%s:%s->%s", role, local.String(), remote.String())
}

// newConnection wraps an already-accepted or already-dialed socket.
func newConnection(conn net.Conn, role ConnRole, peer Locator, maxMessageSize uint32, rtcp *rtcpManager, rec *metrics.Recorder) *Connection {
	if rec == nil {
		rec = metrics.NoopRecorder()
	}
	c := &Connection{
		id:             connectionID(role, conn.LocalAddr(), conn.RemoteAddr()),
		conn:           conn,
		role:           role,
		peer:           peer,
		maxMessageSize: maxMessageSize,
		openOutput:     make(map[uint16]bool),
		openInput:      make(map[uint16]bool),
		receivers:      make(map[uint16]Receiver),
		rtcp:           rtcp,
		metrics:        rec,
	}
	c.alive.Store(true)
	if role == RoleOutput {
		c.state = StateConnected
	} else {
		c.state = StateWaitingForBind
	}
	return c
}

// ID returns a human-readable local->remote identity for logging.
func (c *Connection) ID() string { return c.id }

// Role reports whether this is an accepted (INPUT) or dialed (OUTPUT) Connection.
func (c *Connection) Role() ConnRole { return c.role }

// Peer returns the (IP, physical port) locator this Connection serves.
func (c *Connection) Peer() Locator { return c.peer }

// IsAlive reports whether the Connection's receive loop is still running.
func (c *Connection) IsAlive() bool { return c.alive.Load() }

// State returns the current RTCP state machine state.
func (c *Connection) State() ConnState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Connection) setState(s ConnState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// RegisterReceiver binds a receiver sink to a logical port for inbound
// demultiplex and marks the port open for input.
func (c *Connection) RegisterReceiver(logicalPort uint16, r Receiver) {
	c.receiversMu.Lock()
	c.receivers[logicalPort] = r
	c.receiversMu.Unlock()

	c.stateMu.Lock()
	c.openInput[logicalPort] = true
	c.stateMu.Unlock()
}

// UnregisterReceiver removes a logical port's receiver and input membership.
func (c *Connection) UnregisterReceiver(logicalPort uint16) {
	c.receiversMu.Lock()
	delete(c.receivers, logicalPort)
	c.receiversMu.Unlock()

	c.stateMu.Lock()
	delete(c.openInput, logicalPort)
	c.stateMu.Unlock()
}

func (c *Connection) receiverFor(logicalPort uint16) (Receiver, bool) {
	c.receiversMu.RLock()
	defer c.receiversMu.RUnlock()
	r, ok := c.receivers[logicalPort]
	return r, ok
}

// enqueuePendingOutput appends a logical port to the pending-output queue
// unless it is already pending or already open, preserving the invariant
// that a port appears in at most one of {pending-output, open-output}.
func (c *Connection) enqueuePendingOutput(logicalPort uint16) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.openOutput[logicalPort] {
		return false
	}
	for _, p := range c.pendingOutput {
		if p == logicalPort {
			return false
		}
	}
	c.pendingOutput = append(c.pendingOutput, logicalPort)
	return true
}

// pendingHead returns the logical port at the head of the pending-output
// queue without removing it, i.e. the one with an in-flight request.
func (c *Connection) pendingHead() (uint16, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if len(c.pendingOutput) == 0 {
		return 0, false
	}
	return c.pendingOutput[0], true
}

// promoteHeadToOpen moves the pending-output head into open-output, on a
// positive OpenLogicalPortResponse.
func (c *Connection) promoteHeadToOpen() (uint16, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if len(c.pendingOutput) == 0 {
		return 0, false
	}
	port := c.pendingOutput[0]
	c.pendingOutput = c.pendingOutput[1:]
	c.openOutput[port] = true
	return port, true
}

// dropPendingHead discards the pending-output head, on a negative
// OpenLogicalPortResponse. The caller is not automatically retried; see
// DESIGN.md for the BAD_PORT retry-policy decision.
func (c *Connection) dropPendingHead() (uint16, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if len(c.pendingOutput) == 0 {
		return 0, false
	}
	port := c.pendingOutput[0]
	c.pendingOutput = c.pendingOutput[1:]
	return port, true
}

// setPendingBindTxID records the transaction ID of an outstanding
// BindConnectionRequest so the response handler can reject a stale reply.
func (c *Connection) setPendingBindTxID(id uint32) {
	c.stateMu.Lock()
	c.pendingBindTxID = id
	c.stateMu.Unlock()
}

// takePendingBindTxID clears and returns the outstanding bind transaction ID.
func (c *Connection) takePendingBindTxID() uint32 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	id := c.pendingBindTxID
	c.pendingBindTxID = 0
	return id
}

// peekPendingOpenPortTxID returns the outstanding open-port transaction ID
// without clearing it, for tests that need to craft a correlated response.
func (c *Connection) peekPendingOpenPortTxID() uint32 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.pendingOpenPortTxID
}

// setPendingOpenPortTxID records the transaction ID of the in-flight
// OpenLogicalPortRequest (the pending-output queue head).
func (c *Connection) setPendingOpenPortTxID(id uint32) {
	c.stateMu.Lock()
	c.pendingOpenPortTxID = id
	c.stateMu.Unlock()
}

// takePendingOpenPortTxID clears and returns the outstanding open-port
// transaction ID.
func (c *Connection) takePendingOpenPortTxID() uint32 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	id := c.pendingOpenPortTxID
	c.pendingOpenPortTxID = 0
	return id
}

// hasOpenOutput reports whether a logical port is confirmed open for output.
func (c *Connection) hasOpenOutput(logicalPort uint16) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.openOutput[logicalPort]
}

// removeOpenOutput drops a logical port from open-output, on
// LogicalPortIsClosedRequest from the peer.
func (c *Connection) removeOpenOutput(logicalPort uint16) {
	c.stateMu.Lock()
	delete(c.openOutput, logicalPort)
	c.stateMu.Unlock()
}

// openInputPorts returns a snapshot of locally-accepting logical ports,
// used to answer CheckLogicalPortRequest.
func (c *Connection) openInputPorts() map[uint16]bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	snap := make(map[uint16]bool, len(c.openInput))
	for p := range c.openInput {
		snap[p] = true
	}
	return snap
}

// Send frames payload under logical-port and writes header+payload as a
// single logical write, serialized by the write mutex so at most one send
// is in flight per Connection at a time.
func (c *Connection) Send(logicalPort uint16, payload []byte) error {
	if !c.IsAlive() {
		return ErrClosed
	}

	total := uint32(FrameHeaderSize + len(payload))
	if err := ValidateFrameLength(total, MaxFrameLength); err != nil {
		return err
	}

	header := EncodeFrameHeader(FrameHeader{Length: total, LogicalPort: logicalPort})
	frame := make([]byte, 0, total)
	frame = append(frame, header...)
	frame = append(frame, payload...)

	c.writeMu.Lock()
	_, err := c.conn.Write(frame)
	c.writeMu.Unlock()

	if err != nil {
		if isPeerClosed(err) {
			wrapped := fmt.Errorf("%w: %v", ErrPeerClosed, err)
			c.handleError(wrapped)
			return wrapped
		}
		return err
	}
	return nil
}

// sendControl frames and sends an RTCP control message (logical port 0).
func (c *Connection) sendControl(header RtcpControlHeader, payload []byte) error {
	body := make([]byte, 0, RtcpControlHeaderSize+len(payload))
	body = append(body, EncodeRtcpControlHeader(header)...)
	body = append(body, payload...)
	return c.Send(controlLogicalPort, body)
}

func isPeerClosed(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}

// ReceiveLoop owns the read path: read exactly one header, validate its
// length, read the body, dispatch to the RTCP manager (logical port 0) or
// to the registered receiver (otherwise). It runs until the Connection is
// disabled or the socket errors.
func (c *Connection) ReceiveLoop(ctx context.Context) {
	defer c.handleReceiveLoopPanic()
	defer c.Disable()

	headerBuf := make([]byte, FrameHeaderSize)

	for c.IsAlive() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.readMu.Lock()
		_, err := io.ReadFull(c.conn, headerBuf)
		c.readMu.Unlock()
		if err != nil {
			if !c.IsAlive() {
				// Disable() closed the socket out from under us; not an error.
			} else if isPeerClosed(err) {
				c.handleError(fmt.Errorf("%w: %v", ErrPeerClosed, err))
			} else {
				logger.WarnCtx(ctx, "frame header read failed", logger.ConnectionID(c.id), logger.Err(err))
			}
			return
		}

		header, err := DecodeFrameHeader(headerBuf)
		if err != nil {
			logger.WarnCtx(ctx, "malformed frame header", logger.ConnectionID(c.id), logger.Err(err))
			return
		}

		if err := ValidateFrameLength(header.Length, c.maxMessageSize); err != nil {
			c.metrics.BadFrames.Inc()
			logger.WarnCtx(ctx, "frame rejected", logger.ConnectionID(c.id),
				logger.FrameLength(header.Length), logger.Err(err))
			return
		}

		bodyLen := header.PayloadLength()
		body := bufpool.GetUint32(bodyLen)
		c.readMu.Lock()
		_, err = io.ReadFull(c.conn, body)
		c.readMu.Unlock()
		if err != nil {
			bufpool.Put(body)
			if isPeerClosed(err) {
				c.handleError(fmt.Errorf("%w: %v", ErrPeerClosed, err))
			} else {
				logger.WarnCtx(ctx, "frame body read failed", logger.ConnectionID(c.id), logger.Err(err))
			}
			return
		}

		c.metrics.FramesReceived.Inc()
		c.metrics.BytesReceived.Add(float64(len(body)))
		c.dispatch(ctx, header, body)
		bufpool.Put(body)
	}
}

// handleReceiveLoopPanic recovers a panic in ReceiveLoop so that one
// misbehaving Connection cannot bring down the rest of the Transport.
func (c *Connection) handleReceiveLoopPanic() {
	if r := recover(); r != nil {
		logger.Error("panic in connection receive loop",
			logger.ConnectionID(c.id), slog.Any("error", r), slog.String("stack", string(debug.Stack())))
	}
}

func (c *Connection) dispatch(ctx context.Context, header FrameHeader, body []byte) {
	if header.IsControl() {
		if c.rtcp == nil {
			return
		}
		if err := c.rtcp.handle(ctx, c, body); err != nil {
			logger.WarnCtx(ctx, "rtcp message rejected", logger.ConnectionID(c.id), logger.Err(err))
			c.Disable()
		}
		return
	}

	receiver, ok := c.receiverFor(header.LogicalPort)
	if !ok {
		logger.DebugCtx(ctx, "dropping frame for unknown logical port",
			logger.ConnectionID(c.id), logger.LogicalPort(header.LogicalPort))
		return
	}

	payload := make([]byte, len(body))
	copy(payload, body)
	locator := c.peer.WithLogicalPort(header.LogicalPort)
	receiver(ctx, locator, payload)
}

// handleError routes a peer-closed condition to the Transport's
// ResetAndReconnect hook (OUTPUT) or leaves it to Disable to tear down
// (INPUT).
func (c *Connection) handleError(err error) {
	if c.onError != nil {
		c.onError(c, err)
	}
	c.Disable()
}

// Disable is idempotent: it marks the Connection dead, closes its socket,
// and lets the receive loop observe liveness=false and exit.
func (c *Connection) Disable() {
	if !c.alive.CompareAndSwap(true, false) {
		return
	}
	_ = c.conn.Close()
}
