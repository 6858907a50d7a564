// Command daplink is the CLI client for the daplinkd broker: it can list
// USB-visible CMSIS-DAP adapters, list the boards a running broker knows
// about, and drive simple memory accesses through a selected board.
package main

import "github.com/otj-daplink/daplinkd/cmd/daplink/cmd"

func main() {
	cmd.Execute()
}
