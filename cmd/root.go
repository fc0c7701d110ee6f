package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pwnrelay",
	Short: "Relay a WiFi auditing unit's plugin callbacks to Home Assistant and a companion app",
	Long: `pwnrelay runs next to the unit's plugin runtime. The runtime writes its
callbacks to pwnrelay's stdin as JSON lines; pwnrelay fans them out to its
plugins:

  - homeassistant   status sensor and handshake events over the REST API
  - companion       WebSocket channel for the companion mobile app

Host callbacks never wait on the network: each plugin queues records for a
single worker that performs the I/O.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
