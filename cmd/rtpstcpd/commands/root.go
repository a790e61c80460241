// Package commands implements the rtpstcpd CLI commands.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "rtpstcpd",
	Short: "TCPv4 transport daemon",
	Long: `rtpstcpd runs the RTPS TCPv4 transport core as a standalone daemon:
it binds Acceptors on the configured physical ports and serves Prometheus
metrics until stopped. It opens no outbound channels.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default: env/defaults only)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
