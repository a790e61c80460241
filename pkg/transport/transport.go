// Package transport implements the TCP transport core of an RTPS
// networking library: the per-connection TCP lifecycle, the RTCP
// control-message state machine, the framed wire format, and the
// locator/connection/acceptor/connector book-keeping that multiplexes
// logical ports onto a single TCP connection.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rtps-tcp/transport/internal/logger"
	"github.com/rtps-tcp/transport/pkg/config"
	"github.com/rtps-tcp/transport/pkg/metrics"
)

// bindNotYetReadyDelay is the short retry delay Send waits before telling
// the caller a locator isn't bound yet; a bind is expected to appear
// shortly after OpenOutputChannel (see DESIGN.md for why 1ms was chosen).
const bindNotYetReadyDelay = 1 * time.Millisecond

// Transport owns the I/O lifecycle, the acceptor/connector/connection
// registries, and the public send/receive API. All registry access is
// guarded by a single mutex.
type Transport struct {
	cfg       config.Config
	ifaces    InterfaceProvider
	metrics   *metrics.Recorder
	rtcp      *rtcpManager
	whitelist map[string]bool

	mu             sync.Mutex
	pendingInputs  map[uint16]*acceptor
	inputs         map[uint16][]*Connection
	inputReceivers map[uint16]map[uint16]Receiver // physicalPort -> logicalPort -> receiver, applied to every accepted Connection
	pendingOutputs map[physicalKey]*connector
	outputs        []*Connection
	boundOutputs   map[Locator]*Connection

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	closed bool
}

// New validates cfg and constructs a Transport. It does not yet start
// accepting or connecting anything; call Start before opening channels.
// Validation here is a final sanity check on top of config.Config's own
// validate/applyDefaults (already applied by config.Load). New only builds
// the whitelist set; local IPv4 interfaces are enumerated later, on each
// NormalizeLocator and ShrinkLocatorLists call.
func New(cfg config.Config, ifaces InterfaceProvider, rec *metrics.Recorder) (*Transport, error) {
	if cfg.MaxMessageSize == 0 || cfg.MaxMessageSize > config.MaxMessageSizeCeiling {
		return nil, fmt.Errorf("%w: max_message_size must be in (0, %d]", ErrConfig, config.MaxMessageSizeCeiling)
	}
	if ifaces == nil {
		ifaces = NewSystemInterfaceProvider()
	}
	if rec == nil {
		rec = metrics.NoopRecorder()
	}

	whitelist := make(map[string]bool, len(cfg.InterfaceWhitelist))
	for _, a := range cfg.InterfaceWhitelist {
		whitelist[a] = true
	}

	return &Transport{
		cfg:            cfg,
		ifaces:         ifaces,
		metrics:        rec,
		rtcp:           newRtcpManager(),
		whitelist:      whitelist,
		pendingInputs:  make(map[uint16]*acceptor),
		inputs:         make(map[uint16][]*Connection),
		inputReceivers: make(map[uint16]map[uint16]Receiver),
		pendingOutputs: make(map[physicalKey]*connector),
		boundOutputs:   make(map[Locator]*Connection),
	}, nil
}

// Start binds the Transport to ctx: all Acceptor/Connector/Connection
// goroutines spawned by subsequent OpenInputChannel/OpenOutputChannel
// calls inherit this context and are cancelled together by Shutdown.
func (t *Transport) Start(ctx context.Context) {
	t.baseCtx, t.cancel = context.WithCancel(ctx)
}

// IsLocatorSupported reports whether l's kind is one this transport
// implements (TCPv4 only).
func (t *Transport) IsLocatorSupported(l Locator) bool {
	return l.Kind == LocatorKindTCPv4
}

func (t *Transport) interfaceAllowed(addr string) bool {
	if len(t.whitelist) == 0 {
		return true
	}
	return addr == "0.0.0.0" || t.whitelist[addr]
}

// OpenOutputChannel binds or enqueues l's logical port on an existing
// Connection for its (IP, physical) pair; otherwise a Connector is created
// (or reused if already pending).
func (t *Transport) OpenOutputChannel(l Locator, receiver Receiver) error {
	if !t.IsLocatorSupported(l) {
		return ErrUnsupportedLocator
	}

	t.mu.Lock()

	if existing, ok := t.boundOutputs[l]; ok && existing.IsAlive() {
		t.mu.Unlock()
		return nil
	}

	if conn := t.findOutputConnectionLocked(l); conn != nil {
		t.boundOutputs[l] = conn
		conn.enqueuePendingOutput(l.LogicalPort)
		t.mu.Unlock()
		if conn.State() == StateEstablished {
			return t.rtcp.sendNextOpenLogicalPortRequest(conn)
		}
		return nil
	}

	key := l.physicalKey()
	if pendingCn, pending := t.pendingOutputs[key]; pending {
		t.mu.Unlock()
		// Once the pending Connector finishes, bind l onto the Connection
		// it produced, if there is one.
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			<-pendingCn.done
			t.mu.Lock()
			conn := t.findOutputConnectionLocked(l)
			t.mu.Unlock()
			if conn != nil && t.baseCtx.Err() == nil {
				_ = t.OpenOutputChannel(l, receiver)
			}
		}()
		return nil
	}

	cn := newConnector(l, receiver, t)
	t.pendingOutputs[key] = cn
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		cn.run(t.baseCtx)
	}()
	return nil
}

func (t *Transport) findOutputConnectionLocked(l Locator) *Connection {
	for _, c := range t.outputs {
		if c.Peer().EqualPhysical(l) {
			return c
		}
	}
	return nil
}

// onConnected promotes a dialed socket into an OUTPUT Connection: removes
// the pending Connector, registers the Connection, binds the original
// locator, enqueues its logical port, and initiates BindConnectionRequest.
func (t *Transport) onConnected(ctx context.Context, conn net.Conn, target Locator, receiver Receiver) {
	c := newConnection(conn, RoleOutput, target, t.effectiveMaxMessageSize(), t.rtcp, t.metrics)
	c.onError = t.resetAndReconnect
	c.outputReceiver = receiver
	c.outputTarget = target
	c.RegisterReceiver(target.LogicalPort, receiver)
	c.enqueuePendingOutput(target.LogicalPort)

	t.mu.Lock()
	delete(t.pendingOutputs, target.physicalKey())
	t.outputs = append(t.outputs, c)
	t.boundOutputs[target] = c
	t.mu.Unlock()

	t.metrics.ActiveConnections.WithLabelValues("output").Inc()
	logger.InfoCtx(ctx, "output connection established", logger.ConnectionID(c.ID()), logger.Locator(target.String()))

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.metrics.ActiveConnections.WithLabelValues("output").Dec()
		c.ReceiveLoop(ctx)
	}()

	if err := t.rtcp.BeginOutboundBind(c); err != nil {
		logger.WarnCtx(ctx, "bind request failed", logger.ConnectionID(c.ID()), logger.Err(err))
	}
}

// onAccepted wraps an accepted socket into an INPUT Connection in state
// WaitingForBind.
func (t *Transport) onAccepted(ctx context.Context, conn net.Conn, physicalPort uint16) {
	peer := peerLocatorFromAddr(conn.RemoteAddr(), physicalPort)
	c := newConnection(conn, RoleInput, peer, t.effectiveMaxMessageSize(), t.rtcp, t.metrics)

	t.mu.Lock()
	t.inputs[physicalPort] = append(t.inputs[physicalPort], c)
	for logicalPort, receiver := range t.inputReceivers[physicalPort] {
		c.RegisterReceiver(logicalPort, receiver)
	}
	t.mu.Unlock()

	t.metrics.ActiveConnections.WithLabelValues("input").Inc()
	logger.InfoCtx(ctx, "input connection accepted", logger.ConnectionID(c.ID()), logger.PhysicalPort(physicalPort))

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.metrics.ActiveConnections.WithLabelValues("input").Dec()
		c.ReceiveLoop(ctx)
	}()
}

func peerLocatorFromAddr(addr net.Addr, physicalPort uint16) Locator {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok || tcpAddr.IP.To4() == nil {
		return Locator{Kind: LocatorKindTCPv4, PhysicalPort: physicalPort}
	}
	ip4 := tcpAddr.IP.To4()
	return Locator{
		Kind:         LocatorKindTCPv4,
		Address:      [4]byte{ip4[0], ip4[1], ip4[2], ip4[3]},
		PhysicalPort: physicalPort,
	}
}

// OpenInputChannel creates an Acceptor on l.PhysicalPort if none exists
// yet, and marks l.LogicalPort open-input on every existing INPUT
// Connection matching l's physical address.
func (t *Transport) OpenInputChannel(l Locator, receiver Receiver) error {
	if !t.IsLocatorSupported(l) {
		return ErrUnsupportedLocator
	}

	t.mu.Lock()
	if _, exists := t.pendingInputs[l.PhysicalPort]; !exists {
		ln, err := listenTCP(l.PhysicalPort)
		if err != nil {
			t.mu.Unlock()
			t.metrics.BindErrors.Inc()
			return err
		}
		a := newAcceptor(ln, l.PhysicalPort, t)
		t.pendingInputs[l.PhysicalPort] = a
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			a.run(t.baseCtx)
		}()
	}

	if t.inputReceivers[l.PhysicalPort] == nil {
		t.inputReceivers[l.PhysicalPort] = make(map[uint16]Receiver)
	}
	t.inputReceivers[l.PhysicalPort][l.LogicalPort] = receiver

	for _, c := range t.inputs[l.PhysicalPort] {
		if c.Peer().EqualPhysical(l) {
			c.RegisterReceiver(l.LogicalPort, receiver)
		}
	}
	t.mu.Unlock()
	return nil
}

// CloseOutputChannel tears down the bound output registration, any pending
// Connector, and every OUTPUT Connection for l's (IP, physical) pair.
func (t *Transport) CloseOutputChannel(l Locator) error {
	t.mu.Lock()
	delete(t.boundOutputs, l)

	key := l.physicalKey()
	if cn, ok := t.pendingOutputs[key]; ok {
		delete(t.pendingOutputs, key)
		t.mu.Unlock()
		cn.close()
		t.mu.Lock()
	}

	kept := t.outputs[:0]
	var toClose []*Connection
	for _, c := range t.outputs {
		if c.Peer().EqualPhysical(l) {
			toClose = append(toClose, c)
			continue
		}
		kept = append(kept, c)
	}
	t.outputs = kept
	t.mu.Unlock()

	for _, c := range toClose {
		c.Disable()
	}
	return nil
}

// CloseInputChannel drops a pending Acceptor on l's physical port, or tears
// down every INPUT Connection already accepted on it.
func (t *Transport) CloseInputChannel(l Locator) error {
	t.mu.Lock()
	delete(t.inputReceivers[l.PhysicalPort], l.LogicalPort)

	if a, ok := t.pendingInputs[l.PhysicalPort]; ok {
		delete(t.pendingInputs, l.PhysicalPort)
		t.mu.Unlock()
		a.close()
		return nil
	}

	conns := t.inputs[l.PhysicalPort]
	delete(t.inputs, l.PhysicalPort)
	t.mu.Unlock()

	for _, c := range conns {
		c.UnregisterReceiver(l.LogicalPort)
		c.Disable()
	}
	return nil
}

// IsOutputChannelConnected reports whether l has a live bound OUTPUT Connection.
func (t *Transport) IsOutputChannelConnected(l Locator) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.boundOutputs[l]
	return ok && c.IsAlive()
}

// Send requires the locator to already be bound; if not yet bound, it
// waits a short delay and reports ErrNotConnected rather than blocking
// indefinitely, since a bind is expected to appear shortly after
// OpenOutputChannel.
func (t *Transport) Send(buf []byte, remote Locator) error {
	sendBufferSize := config.EffectiveBufferSize(t.cfg.SendBufferSize)
	if uint32(len(buf)) > sendBufferSize {
		return ErrMessageTooLarge
	}

	t.mu.Lock()
	conn, ok := t.boundOutputs[remote]
	t.mu.Unlock()

	if !ok || !conn.IsAlive() {
		time.Sleep(bindNotYetReadyDelay)
		return ErrNotConnected
	}

	if err := conn.Send(remote.LogicalPort, buf); err != nil {
		return err
	}
	t.metrics.FramesSent.Inc()
	t.metrics.BytesSent.Add(float64(len(buf)))
	return nil
}

// NormalizeLocator expands a wildcard-address locator into one locator per
// enumerated, whitelisted IPv4 interface.
func (t *Transport) NormalizeLocator(l Locator) ([]Locator, error) {
	if !l.IsAny() {
		return []Locator{l}, nil
	}

	addrs, err := t.ifaces.IPv4Addresses()
	if err != nil {
		return nil, fmt.Errorf("normalize locator: %w", err)
	}

	var out []Locator
	for _, addr := range addrs {
		if !t.interfaceAllowed(addr) {
			continue
		}
		a, ok := parseIPv4(addr)
		if !ok {
			continue
		}
		out = append(out, l.WithAddress(a))
	}
	return out, nil
}

// ShrinkLocatorLists replaces, in each input list, any locator whose
// address matches a local interface with 127.0.0.1 (physical port
// preserved), and concatenates the results.
func (t *Transport) ShrinkLocatorLists(lists [][]Locator) ([]Locator, error) {
	addrs, err := t.ifaces.IPv4Addresses()
	if err != nil {
		return nil, fmt.Errorf("shrink locator lists: %w", err)
	}
	local := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		local[a] = true
	}

	var out []Locator
	for _, list := range lists {
		for _, l := range list {
			if local[l.AddressString()] {
				out = append(out, l.WithAddress(loopbackAddress))
			} else {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

func parseIPv4(s string) ([4]byte, bool) {
	ip := net.ParseIP(s)
	if ip == nil {
		return [4]byte{}, false
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return [4]byte{}, false
	}
	return [4]byte{ip4[0], ip4[1], ip4[2], ip4[3]}, true
}

// resetAndReconnect handles a peer-closed error for an OUTPUT Connection:
// it captures the peer locator and receiver sink, closes the output
// channel, and opens a fresh one targeting the same locator, preserving
// the receiver identity across the reconnect.
func (t *Transport) resetAndReconnect(c *Connection, err error) {
	if c.Role() != RoleOutput {
		return
	}
	locator := c.outputTarget
	receiver := c.outputReceiver
	if receiver == nil {
		return
	}

	logger.InfoCtx(t.baseCtx, "reconnecting after peer reset",
		logger.ConnectionID(c.ID()), logger.Locator(locator.String()), logger.Err(err))
	t.metrics.Reconnects.Inc()

	_ = t.CloseOutputChannel(locator)
	if openErr := t.OpenOutputChannel(locator, receiver); openErr != nil {
		logger.WarnCtx(t.baseCtx, "reconnect failed", logger.Locator(locator.String()), logger.Err(openErr))
	}
}

func (t *Transport) effectiveMaxMessageSize() uint32 {
	if t.cfg.MaxMessageSize == 0 {
		return config.MaxMessageSizeCeiling
	}
	return t.cfg.MaxMessageSize
}

// Shutdown tears down every Acceptor, Connector, and Connection and waits
// for their goroutines to exit.
func (t *Transport) Shutdown() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true

	acceptors := make([]*acceptor, 0, len(t.pendingInputs))
	for _, a := range t.pendingInputs {
		acceptors = append(acceptors, a)
	}
	connectors := make([]*connector, 0, len(t.pendingOutputs))
	for _, cn := range t.pendingOutputs {
		connectors = append(connectors, cn)
	}
	var conns []*Connection
	conns = append(conns, t.outputs...)
	for _, list := range t.inputs {
		conns = append(conns, list...)
	}
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
	for _, a := range acceptors {
		a.close()
	}
	for _, cn := range connectors {
		cn.close()
	}
	for _, c := range conns {
		c.Disable()
	}
	t.wg.Wait()
}
