package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rtps-tcp/transport/internal/logger"
)

// connectorRetryInterval is the fixed delay between failed connect
// attempts.
const connectorRetryInterval = 100 * time.Millisecond

// connector attempts an outbound connect to a remote (IP, physical port)
// and retries unbounded on failure until cancelled.
type connector struct {
	target    Locator
	receiver  Receiver
	transport *Transport

	cancel context.CancelFunc
	done   chan struct{}
}

func newConnector(target Locator, receiver Receiver, t *Transport) *connector {
	return &connector{target: target, receiver: receiver, transport: t, done: make(chan struct{})}
}

// run dials target in a loop: on success, promotes itself into an OUTPUT
// Connection via the Transport; on failure, sleeps connectorRetryInterval
// and retries with a fresh socket.
func (cn *connector) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	cn.cancel = cancel
	defer close(cn.done)

	addr := fmt.Sprintf("%s:%d", cn.target.AddressString(), cn.target.PhysicalPort)

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp4", addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.InfoCtx(ctx, "connect attempt failed",
				logger.Locator(cn.target.String()), logger.Attempt(attempt), logger.Err(err))
			select {
			case <-time.After(connectorRetryInterval):
				continue
			case <-ctx.Done():
				return
			}
		}

		cn.transport.onConnected(ctx, conn, cn.target, cn.receiver)
		return
	}
}

// close cancels an in-flight dial or retry wait and waits for run to return.
func (cn *connector) close() {
	if cn.cancel != nil {
		cn.cancel()
	}
	<-cn.done
}
