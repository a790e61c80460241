// Package metrics exposes Prometheus instrumentation for the transport:
// connection counts by role, frame and RTCP message throughput, and
// reconnect/error counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder records transport-level events as Prometheus metrics.
type Recorder struct {
	ActiveConnections *prometheus.GaugeVec
	FramesSent        prometheus.Counter
	FramesReceived    prometheus.Counter
	BytesSent         prometheus.Counter
	BytesReceived     prometheus.Counter
	RtcpMessages      *prometheus.CounterVec
	Reconnects        prometheus.Counter
	AcceptErrors      prometheus.Counter
	BindErrors        prometheus.Counter
	BadFrames         prometheus.Counter
}

// NewRecorder constructs a Recorder and registers its collectors with reg.
// Pass prometheus.NewRegistry() in tests to avoid collisions with the
// global default registry across parallel test runs.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rtpstcp",
			Name:      "active_connections",
			Help:      "Number of live Connections by role.",
		}, []string{"role"}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpstcp",
			Name:      "frames_sent_total",
			Help:      "Total frames written to the wire.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpstcp",
			Name:      "frames_received_total",
			Help:      "Total frames read from the wire.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpstcp",
			Name:      "bytes_sent_total",
			Help:      "Total payload bytes sent, excluding frame headers.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpstcp",
			Name:      "bytes_received_total",
			Help:      "Total payload bytes received, excluding frame headers.",
		}),
		RtcpMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtpstcp",
			Name:      "rtcp_messages_total",
			Help:      "Total RTCP control messages processed, by kind.",
		}, []string{"kind"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpstcp",
			Name:      "reconnects_total",
			Help:      "Total ResetAndReconnect invocations.",
		}),
		AcceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpstcp",
			Name:      "accept_errors_total",
			Help:      "Total Acceptor errors other than listener-closed.",
		}),
		BindErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpstcp",
			Name:      "bind_errors_total",
			Help:      "Total OpenInputChannel bind failures.",
		}),
		BadFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpstcp",
			Name:      "bad_frames_total",
			Help:      "Total frames rejected for length or parse errors.",
		}),
	}

	reg.MustRegister(
		r.ActiveConnections,
		r.FramesSent,
		r.FramesReceived,
		r.BytesSent,
		r.BytesReceived,
		r.RtcpMessages,
		r.Reconnects,
		r.AcceptErrors,
		r.BindErrors,
		r.BadFrames,
	)

	return r
}

// NoopRecorder returns a Recorder registered against a private registry,
// for callers (tests, CLI subcommands without a metrics server) that need
// a Recorder to satisfy an API but don't care about its readings.
func NoopRecorder() *Recorder {
	return NewRecorder(prometheus.NewRegistry())
}
