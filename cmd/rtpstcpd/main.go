// Command rtpstcpd runs the TCPv4 transport as a standalone daemon: it
// opens the configured Acceptors, logs inbound frames through a demo
// receiver, and exposes Prometheus metrics until signalled to stop.
package main

import (
	"os"

	"github.com/rtps-tcp/transport/cmd/rtpstcpd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
