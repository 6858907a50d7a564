package cmd

import (
	"fmt"

	"github.com/otj-daplink/daplinkd/pkg/client"
	"github.com/spf13/cobra"
)

var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "List probes the daplinkd broker currently knows about",
	RunE:  runBoards,
}

func init() {
	rootCmd.AddCommand(boardsCmd)
}

func dialBroker() (*client.Client, error) {
	return client.Init(client.Config{
		Address:    flagAddress,
		ServerPath: flagServerPath,
	})
}

func runBoards(cmd *cobra.Command, args []string) error {
	c, err := dialBroker()
	if err != nil {
		return fmt.Errorf("connect to daplinkd: %w", err)
	}
	defer c.Close()

	boards, err := c.Enumerate()
	if err != nil {
		return fmt.Errorf("board_enumerate: %w", err)
	}
	if len(boards) == 0 {
		fmt.Println("No boards known to daplinkd.")
		return nil
	}
	for _, b := range boards {
		fmt.Printf("  id=%-3d %04X:%04X  %s %s (%s)\n", b.ID, b.VendorID, b.ProductID, b.Manufacturer, b.Product, b.Serial)
	}
	return nil
}
