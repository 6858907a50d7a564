package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagAddress    string
	flagServerPath string
)

var rootCmd = &cobra.Command{
	Use:     "daplink",
	Short:   "Client for the daplinkd CMSIS-DAP broker",
	Version: "1.0.0",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAddress, "address", "/tmp/daplinkd.sock", "daplinkd unix socket path or host:port")
	rootCmd.PersistentFlags().StringVar(&flagServerPath, "server-path", "", "daplinkd binary to auto-spawn if the broker isn't running")
}
