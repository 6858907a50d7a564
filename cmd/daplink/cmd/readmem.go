package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	flagReadMemID   uint16
	flagReadMemAddr uint32
	flagReadMemMode string
)

var readMemCmd = &cobra.Command{
	Use:   "read-mem",
	Short: "Read one 32-bit word from a target over a selected board",
	RunE:  runReadMem,
}

func init() {
	readMemCmd.Flags().Uint16Var(&flagReadMemID, "id", 0, "board id from \"daplink boards\"")
	readMemCmd.Flags().Uint32Var(&flagReadMemAddr, "addr", 0, "target memory address")
	readMemCmd.Flags().StringVar(&flagReadMemMode, "mode", "swd", "debug port mode: swd or jtag")
	rootCmd.AddCommand(readMemCmd)
}

func runReadMem(cmd *cobra.Command, args []string) error {
	c, err := dialBroker()
	if err != nil {
		return fmt.Errorf("connect to daplinkd: %w", err)
	}
	defer c.Close()

	board, err := c.Attach(flagReadMemID)
	if err != nil {
		return fmt.Errorf("board_select %d: %w", flagReadMemID, err)
	}
	defer board.Close()

	if err := board.Init(flagReadMemMode, 1_000_000); err != nil {
		return fmt.Errorf("dap_init: %w", err)
	}
	defer board.Uninit()

	value, err := board.ReadMem32(flagReadMemAddr)
	if err != nil {
		return fmt.Errorf("read_32 0x%08x: %w", flagReadMemAddr, err)
	}
	fmt.Printf("0x%08x: 0x%08x\n", flagReadMemAddr, value)
	return nil
}
