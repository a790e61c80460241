package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rtps-tcp/transport/internal/logger"
)

// acceptor owns a listening TCP socket bound to one local physical port.
// It hands accepted connections to the Transport, which wraps each into an
// INPUT Connection in state WaitingForBind.
type acceptor struct {
	physicalPort uint16
	listener     net.Listener
	transport    *Transport

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newAcceptor(ln net.Listener, physicalPort uint16, t *Transport) *acceptor {
	return &acceptor{physicalPort: physicalPort, listener: ln, transport: t}
}

// run drives the accept loop until the acceptor is closed. Errors other
// than "listener closed" are logged at Info; the acceptor keeps accepting.
func (a *acceptor) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	defer a.wg.Done()

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			a.transport.metrics.AcceptErrors.Inc()
			logger.InfoCtx(ctx, "accept error", logger.PhysicalPort(a.physicalPort), logger.Err(err))
			continue
		}
		a.transport.onAccepted(ctx, conn, a.physicalPort)
	}
}

// close stops the accept loop and closes the listening socket.
func (a *acceptor) close() {
	if a.cancel != nil {
		a.cancel()
	}
	_ = a.listener.Close()
	a.wg.Wait()
}

// listenTCP binds a listening socket on the given local physical port,
// wrapping bind failures in ErrBind.
func listenTCP(physicalPort uint16) (net.Listener, error) {
	ln, err := net.Listen("tcp4", fmt.Sprintf(":%d", physicalPort))
	if err != nil {
		return nil, fmt.Errorf("%w: port %d: %v", ErrBind, physicalPort, err)
	}
	return ln, nil
}
