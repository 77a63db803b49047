package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/beacon/cmd/gen"
)

var RootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Beacon speaks the Redis serialization protocol",
	Long: `Beacon reads and writes RESP2 frames over TCP and websockets.

Usage
	beacon start
	beacon send PING
`,
	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(StartCmd)
	RootCmd.AddCommand(SendCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the command named on the command line and exits non zero if
// it fails.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
