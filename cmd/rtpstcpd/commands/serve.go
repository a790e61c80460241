package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rtps-tcp/transport/internal/logger"
	"github.com/rtps-tcp/transport/pkg/config"
	"github.com/rtps-tcp/transport/pkg/metrics"
	"github.com/rtps-tcp/transport/pkg/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transport daemon",
	RunE:  runServe,
}

// runServe loads configuration, constructs the Transport, opens the
// configured input channels, and blocks until SIGINT/SIGTERM, then shuts
// down gracefully.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := logger.Init(logger.Config{Level: "INFO", Format: "json"}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(registry)

	t, err := transport.New(*cfg, nil, recorder)
	if err != nil {
		return fmt.Errorf("constructing transport: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t.Start(ctx)

	var metricsServer *http.Server
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.MetricsAddress, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", logger.Err(err))
			}
		}()
		logger.Info("metrics server listening", logger.Address(cfg.MetricsAddress))
	}

	receiver := demoReceiver()
	for _, port := range cfg.ListenPhysicalPorts {
		l := transport.NewLocator(0, 0, 0, 0, port, cfg.DefaultLogicalPort)
		if err := t.OpenInputChannel(l, receiver); err != nil {
			return fmt.Errorf("opening input channel on port %d: %w", port, err)
		}
		logger.Info("input channel opened", logger.PhysicalPort(port), logger.LogicalPort(cfg.DefaultLogicalPort))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	logger.Info("rtpstcpd running, press ctrl+c to stop")
	<-sigCh
	signal.Stop(sigCh)

	logger.Info("shutdown signal received")
	cancel()
	t.Shutdown()
	if metricsServer != nil {
		_ = metricsServer.Close()
	}
	return nil
}

// demoReceiver logs every frame delivered to the daemon's default logical
// port; a real participant would hand payload bytes to its RTPS message
// receiver instead.
func demoReceiver() transport.Receiver {
	return func(ctx context.Context, locator transport.Locator, payload []byte) {
		logger.InfoCtx(ctx, "frame received", logger.Locator(locator.String()), logger.PayloadSize(len(payload)))
	}
}
