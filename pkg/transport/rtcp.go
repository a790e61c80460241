package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/rtps-tcp/transport/internal/logger"
)

// rtcpManager encodes/decodes RTCP control messages and drives a
// Connection's state machine. It performs no
// I/O itself: replies are handed to the Connection's Send/sendControl, and
// transitions mutate the Connection's own state. One rtcpManager is shared
// by every Connection owned by a Transport; it only holds the monotonically
// increasing transaction counter, so it is safe for concurrent use.
type rtcpManager struct {
	transactionCounter atomic.Uint32
}

func newRtcpManager() *rtcpManager {
	return &rtcpManager{}
}

func (m *rtcpManager) nextTransactionID() uint32 {
	return m.transactionCounter.Add(1)
}

// BeginOutboundBind sends BindConnectionRequest on a freshly-Connected
// OUTPUT Connection, per the Disconnected -> Connected -> WaitingForBindResponse
// transition.
func (m *rtcpManager) BeginOutboundBind(c *Connection) error {
	c.setState(StateWaitingForBindResponse)
	txID := m.nextTransactionID()
	c.setPendingBindTxID(txID)
	payload := encodeBindConnectionRequest(bindConnectionRequest{PhysicalPort: c.peer.PhysicalPort})
	header := RtcpControlHeader{
		Kind:          RtcpBindConnectionRequest,
		TransactionID: txID,
		PayloadLength: uint32(len(payload)),
	}
	return c.sendControl(header, payload)
}

// sendNextOpenLogicalPortRequest sends the pending-output head's request,
// if the queue is non-empty. Called after a successful bind and after each
// OpenLogicalPortResponse while work remains.
func (m *rtcpManager) sendNextOpenLogicalPortRequest(c *Connection) error {
	port, ok := c.pendingHead()
	if !ok {
		return nil
	}
	txID := m.nextTransactionID()
	c.setPendingOpenPortTxID(txID)
	payload := encodeOpenLogicalPortRequest(openLogicalPortRequest{LogicalPort: port})
	header := RtcpControlHeader{
		Kind:          RtcpOpenLogicalPortRequest,
		TransactionID: txID,
		PayloadLength: uint32(len(payload)),
	}
	return c.sendControl(header, payload)
}

// handle decodes one RTCP control body and applies the corresponding state
// transition and reply.
func (m *rtcpManager) handle(ctx context.Context, c *Connection, body []byte) error {
	header, rest, err := splitRtcpHeader(body)
	if err != nil {
		return err
	}

	logger.DebugCtx(ctx, "rtcp message received",
		logger.ConnectionID(c.id), logger.RtcpKind(header.Kind.String()),
		logger.TransactionID(header.TransactionID))
	c.metrics.RtcpMessages.WithLabelValues(header.Kind.String()).Inc()

	switch header.Kind {
	case RtcpBindConnectionRequest:
		return m.onBindConnectionRequest(c, header)
	case RtcpBindConnectionResponse:
		return m.onBindConnectionResponse(c, header, rest)
	case RtcpOpenLogicalPortRequest:
		return m.onOpenLogicalPortRequest(c, header, rest)
	case RtcpOpenLogicalPortResponse:
		return m.onOpenLogicalPortResponse(c, header, rest)
	case RtcpCheckLogicalPortRequest:
		return m.onCheckLogicalPortRequest(c, header, rest)
	case RtcpCheckLogicalPortResponse:
		return nil // informational; no transition required
	case RtcpKeepAliveRequest:
		return m.onKeepAliveRequest(c, header)
	case RtcpKeepAliveResponse:
		return nil
	case RtcpLogicalPortIsClosedRequest:
		return m.onLogicalPortIsClosedRequest(c, header, rest)
	case RtcpUnbindConnectionRequest:
		c.setState(StateUnbinding)
		c.Disable()
		return nil
	default:
		return fmt.Errorf("%w: unknown rtcp kind %d", ErrProtocol, uint8(header.Kind))
	}
}

func (m *rtcpManager) onBindConnectionRequest(c *Connection, header RtcpControlHeader) error {
	if c.State() != StateWaitingForBind {
		return fmt.Errorf("%w: BIND_CONNECTION_REQUEST in state %s", ErrProtocol, c.State())
	}
	c.setState(StateEstablished)
	payload := encodeBindConnectionResponse(bindConnectionResponse{Code: ResponseOK})
	reply := RtcpControlHeader{
		Kind:          RtcpBindConnectionResponse,
		TransactionID: header.TransactionID,
		PayloadLength: uint32(len(payload)),
	}
	return c.sendControl(reply, payload)
}

func (m *rtcpManager) onBindConnectionResponse(c *Connection, header RtcpControlHeader, rest []byte) error {
	if c.State() != StateWaitingForBindResponse {
		return fmt.Errorf("%w: BIND_CONNECTION_RESPONSE in state %s", ErrProtocol, c.State())
	}
	if want := c.takePendingBindTxID(); want != 0 && header.TransactionID != want {
		logger.Warn("dropping stale bind response",
			logger.ConnectionID(c.id), logger.TransactionID(header.TransactionID))
		c.setPendingBindTxID(want)
		return nil
	}
	resp, err := decodeBindConnectionResponse(rest)
	if err != nil {
		return err
	}
	if resp.Code != ResponseOK && resp.Code != ResponseExistingConnection {
		return fmt.Errorf("%w: bind rejected with %s", ErrProtocol, resp.Code)
	}
	c.setState(StateEstablished)
	if _, ok := c.pendingHead(); ok {
		return m.sendNextOpenLogicalPortRequest(c)
	}
	return nil
}

func (m *rtcpManager) onOpenLogicalPortRequest(c *Connection, header RtcpControlHeader, rest []byte) error {
	if c.State() != StateEstablished {
		return fmt.Errorf("%w: OPEN_LOGICAL_PORT_REQUEST in state %s", ErrProtocol, c.State())
	}
	req, err := decodeOpenLogicalPortRequest(rest)
	if err != nil {
		return err
	}
	c.stateMu.Lock()
	c.openInput[req.LogicalPort] = true
	c.stateMu.Unlock()

	payload := encodeOpenLogicalPortResponse(openLogicalPortResponse{Code: ResponseOK, LogicalPort: req.LogicalPort})
	reply := RtcpControlHeader{
		Kind:          RtcpOpenLogicalPortResponse,
		TransactionID: header.TransactionID,
		PayloadLength: uint32(len(payload)),
	}
	return c.sendControl(reply, payload)
}

func (m *rtcpManager) onOpenLogicalPortResponse(c *Connection, header RtcpControlHeader, rest []byte) error {
	if c.State() != StateEstablished {
		return fmt.Errorf("%w: OPEN_LOGICAL_PORT_RESPONSE in state %s", ErrProtocol, c.State())
	}
	if want := c.takePendingOpenPortTxID(); want != 0 && header.TransactionID != want {
		logger.Warn("dropping stale open-logical-port response",
			logger.ConnectionID(c.id), logger.TransactionID(header.TransactionID))
		c.setPendingOpenPortTxID(want)
		return nil
	}
	resp, err := decodeOpenLogicalPortResponse(rest)
	if err != nil {
		return err
	}
	if resp.Code == ResponseOK {
		c.promoteHeadToOpen()
	} else {
		// BAD_PORT: drop, do not auto-retry (see DESIGN.md).
		if port, ok := c.dropPendingHead(); ok {
			logger.Warn("logical port rejected by peer",
				logger.ConnectionID(c.id), logger.LogicalPort(port), logger.ResponseCode(resp.Code.String()))
		}
	}
	if _, ok := c.pendingHead(); ok {
		return m.sendNextOpenLogicalPortRequest(c)
	}
	return nil
}

func (m *rtcpManager) onCheckLogicalPortRequest(c *Connection, header RtcpControlHeader, rest []byte) error {
	if c.State() != StateEstablished {
		return fmt.Errorf("%w: CHECK_LOGICAL_PORT_REQUEST in state %s", ErrProtocol, c.State())
	}
	req, err := decodeCheckLogicalPortRequest(rest)
	if err != nil {
		return err
	}
	open := c.openInputPorts()
	var openPorts []uint16
	for _, p := range req.Ports {
		if open[p] {
			openPorts = append(openPorts, p)
		}
	}
	payload := encodeCheckLogicalPortResponse(checkLogicalPortResponse{OpenPorts: openPorts})
	reply := RtcpControlHeader{
		Kind:          RtcpCheckLogicalPortResponse,
		TransactionID: header.TransactionID,
		PayloadLength: uint32(len(payload)),
	}
	return c.sendControl(reply, payload)
}

func (m *rtcpManager) onKeepAliveRequest(c *Connection, header RtcpControlHeader) error {
	if c.State() != StateEstablished {
		return fmt.Errorf("%w: KEEP_ALIVE_REQUEST in state %s", ErrProtocol, c.State())
	}
	payload := encodeKeepAliveResponse(keepAliveResponse{Code: ResponseOK})
	reply := RtcpControlHeader{
		Kind:          RtcpKeepAliveResponse,
		TransactionID: header.TransactionID,
		PayloadLength: uint32(len(payload)),
	}
	return c.sendControl(reply, payload)
}

func (m *rtcpManager) onLogicalPortIsClosedRequest(c *Connection, header RtcpControlHeader, rest []byte) error {
	req, err := decodeLogicalPortIsClosedRequest(rest)
	if err != nil {
		return err
	}
	c.removeOpenOutput(req.LogicalPort)
	return nil
}

// SendUnbind issues UNBIND_CONNECTION_REQUEST, valid from any state per the
// state table's "any -> Unbinding" row.
func (m *rtcpManager) SendUnbind(c *Connection) error {
	header := RtcpControlHeader{Kind: RtcpUnbindConnectionRequest, TransactionID: m.nextTransactionID()}
	c.setState(StateUnbinding)
	return c.sendControl(header, nil)
}

func splitRtcpHeader(body []byte) (RtcpControlHeader, []byte, error) {
	header, err := DecodeRtcpControlHeader(body)
	if err != nil {
		return RtcpControlHeader{}, nil, err
	}
	rest := body[RtcpControlHeaderSize:]
	if uint32(len(rest)) < header.PayloadLength {
		return RtcpControlHeader{}, nil, fmt.Errorf("%w: rtcp payload shorter than declared", ErrBadFrame)
	}
	return header, rest[:header.PayloadLength], nil
}

// -----------------------------------------------------------------------
// Message payloads
// -----------------------------------------------------------------------

type bindConnectionRequest struct {
	PhysicalPort uint16
}

func encodeBindConnectionRequest(r bindConnectionRequest) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, r.PhysicalPort)
	return buf
}

type bindConnectionResponse struct {
	Code ResponseCode
}

func encodeBindConnectionResponse(r bindConnectionResponse) []byte {
	return []byte{byte(r.Code)}
}

func decodeBindConnectionResponse(buf []byte) (bindConnectionResponse, error) {
	if len(buf) < 1 {
		return bindConnectionResponse{}, fmt.Errorf("%w: short bind response", ErrBadFrame)
	}
	return bindConnectionResponse{Code: ResponseCode(buf[0])}, nil
}

type openLogicalPortRequest struct {
	LogicalPort uint16
}

func encodeOpenLogicalPortRequest(r openLogicalPortRequest) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, r.LogicalPort)
	return buf
}

func decodeOpenLogicalPortRequest(buf []byte) (openLogicalPortRequest, error) {
	if len(buf) < 2 {
		return openLogicalPortRequest{}, fmt.Errorf("%w: short open-port request", ErrBadFrame)
	}
	return openLogicalPortRequest{LogicalPort: binary.LittleEndian.Uint16(buf)}, nil
}

type openLogicalPortResponse struct {
	Code        ResponseCode
	LogicalPort uint16
}

func encodeOpenLogicalPortResponse(r openLogicalPortResponse) []byte {
	buf := make([]byte, 3)
	buf[0] = byte(r.Code)
	binary.LittleEndian.PutUint16(buf[1:3], r.LogicalPort)
	return buf
}

func decodeOpenLogicalPortResponse(buf []byte) (openLogicalPortResponse, error) {
	if len(buf) < 3 {
		return openLogicalPortResponse{}, fmt.Errorf("%w: short open-port response", ErrBadFrame)
	}
	return openLogicalPortResponse{Code: ResponseCode(buf[0]), LogicalPort: binary.LittleEndian.Uint16(buf[1:3])}, nil
}

type checkLogicalPortRequest struct {
	Ports []uint16
}

func encodeCheckLogicalPortRequest(r checkLogicalPortRequest) []byte {
	buf := make([]byte, 2+2*len(r.Ports))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(r.Ports)))
	for i, p := range r.Ports {
		binary.LittleEndian.PutUint16(buf[2+2*i:4+2*i], p)
	}
	return buf
}

func decodeCheckLogicalPortRequest(buf []byte) (checkLogicalPortRequest, error) {
	if len(buf) < 2 {
		return checkLogicalPortRequest{}, fmt.Errorf("%w: short check-port request", ErrBadFrame)
	}
	n := int(binary.LittleEndian.Uint16(buf[0:2]))
	if len(buf) < 2+2*n {
		return checkLogicalPortRequest{}, fmt.Errorf("%w: truncated check-port request", ErrBadFrame)
	}
	ports := make([]uint16, n)
	for i := range ports {
		ports[i] = binary.LittleEndian.Uint16(buf[2+2*i : 4+2*i])
	}
	return checkLogicalPortRequest{Ports: ports}, nil
}

type checkLogicalPortResponse struct {
	OpenPorts []uint16
}

func encodeCheckLogicalPortResponse(r checkLogicalPortResponse) []byte {
	return encodeCheckLogicalPortRequest(checkLogicalPortRequest{Ports: r.OpenPorts})
}

type keepAliveResponse struct {
	Code ResponseCode
}

func encodeKeepAliveResponse(r keepAliveResponse) []byte {
	return []byte{byte(r.Code)}
}

type logicalPortIsClosedRequest struct {
	LogicalPort uint16
}

func decodeLogicalPortIsClosedRequest(buf []byte) (logicalPortIsClosedRequest, error) {
	if len(buf) < 2 {
		return logicalPortIsClosedRequest{}, fmt.Errorf("%w: short port-closed request", ErrBadFrame)
	}
	return logicalPortIsClosedRequest{LogicalPort: binary.LittleEndian.Uint16(buf)}, nil
}
