package cmd

import (
	"fmt"

	"github.com/otj-daplink/daplinkd/pkg/hidtransport"
	"github.com/spf13/cobra"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List CMSIS-DAP adapters visible on the host's USB bus",
	Long: `Scan raw USB descriptors for known CMSIS-DAP VID/PID pairs (DAPLink,
J-Link, PicoProbe) without claiming any device. Use this to check connectivity
before running "daplink boards", which opens the HID path instead.`,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	found, err := hidtransport.ClassifyUSBDevices()
	if err != nil {
		return fmt.Errorf("classify usb devices: %w", err)
	}
	if len(found) == 0 {
		fmt.Println("No CMSIS-DAP adapters found.")
		return nil
	}
	fmt.Println("Detected CMSIS-DAP adapters:")
	for _, k := range found {
		fmt.Printf("  - %s (VID:PID %04X:%04X)\n", k.Description, k.VID, k.PID)
	}
	return nil
}
