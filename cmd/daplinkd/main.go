// Command daplinkd is the CMSIS-DAP broker daemon: it listens on a unix
// or TCP socket and serves pkg/broker's wire protocol to any number of
// clients, serializing access to each physical probe.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/otj-daplink/daplinkd/pkg/broker"
	"github.com/otj-daplink/daplinkd/pkg/config"
)

var (
	flagAddress     string
	flagTemporary   bool
	flagConfig      string
	flagMetricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "daplinkd",
	Short: "Multi-client broker for CMSIS-DAP debug probes",
	Long: `daplinkd exposes CMSIS-DAP USB-HID debug probes on a local socket to any
number of client processes, serializing access to each physical probe and
batching SWD/JTAG transfers into CMSIS-DAP USB packets.`,
	Version: "1.0.0",
	RunE:    runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAddress, "address", "/tmp/daplinkd.sock", "unix socket path or host:port to listen on")
	rootCmd.PersistentFlags().BoolVar(&flagTemporary, "temporary", false, "exit once the client count returns to zero after serving at least one")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "optional YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-address", "", "if set, serve Prometheus metrics on this host:port")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgFile, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	address := flagAddress
	if !cmd.Flags().Changed("address") && cfgFile.Address != "" {
		address = cfgFile.Address
	}
	temporary := cfgFile.Temporary
	if cmd.Flags().Changed("temporary") {
		temporary = flagTemporary
	}

	if flagMetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(flagMetricsAddr, mux); err != nil {
				glog.Warningf("daplinkd: metrics listener: %v", err)
			}
		}()
	}

	b := broker.New(broker.Config{Address: address, Temporary: temporary})
	return b.Run()
}

func main() {
	defer glog.Flush()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
