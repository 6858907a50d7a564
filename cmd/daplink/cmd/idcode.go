package cmd

import (
	"fmt"

	"github.com/otj-daplink/daplinkd/pkg/idcode"
	"github.com/otj-daplink/daplinkd/pkg/idcode/deviceinfo"
	"github.com/spf13/cobra"
)

var flagIDCodeID uint16

var idcodeCmd = &cobra.Command{
	Use:   "idcode",
	Short: "Read a target's JTAG IDCODE and decorate it with manufacturer/device info",
	RunE:  runIDCode,
}

func init() {
	idcodeCmd.Flags().Uint16Var(&flagIDCodeID, "id", 0, "board id from \"daplink boards\"")
	rootCmd.AddCommand(idcodeCmd)
}

func runIDCode(cmd *cobra.Command, args []string) error {
	c, err := dialBroker()
	if err != nil {
		return fmt.Errorf("connect to daplinkd: %w", err)
	}
	defer c.Close()

	board, err := c.Attach(flagIDCodeID)
	if err != nil {
		return fmt.Errorf("board_select %d: %w", flagIDCodeID, err)
	}
	defer board.Close()

	if err := board.Init("jtag", 1_000_000); err != nil {
		return fmt.Errorf("dap_init: %w", err)
	}
	defer board.Uninit()

	raw, err := board.Command("read_dp", map[string]interface{}{"addr": 0x00})
	if err != nil {
		return fmt.Errorf("read_dp idcode: %w", err)
	}
	words, _ := raw.([]interface{})
	if len(words) == 0 {
		return fmt.Errorf("no IDCODE returned")
	}
	rawID := uint32(words[0].(float64))

	id := idcode.ParseIDCode(rawID)
	info := deviceinfo.Lookup(rawID)
	fmt.Printf("IDCODE 0x%08x  version=%d part=0x%03x manufacturer=%s (%s)\n",
		id.Raw, id.Version, id.PartNumber, info.Manufacturer.Name, info.Manufacturer.Abbreviation)
	if info.Name != "" {
		fmt.Printf("  device: %s (%s)\n", info.Name, info.Description)
	}
	return nil
}
