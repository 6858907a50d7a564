package dap

// Debug Port register offsets (A[3:2] field). Note these are NOT shifted:
// the CMSIS-DAP request byte packs them directly into its A32 field
// (bits [3:2]).
const (
	DPIDCode  = 0x00
	DPAbort   = 0x00
	DPCtrlStat = 0x04
	DPSelect  = 0x08
)

// Access Port register offsets (AP_REG).
const (
	APCSW = 0x00
	APTAR = 0x04
	APDRW = 0x0C
	APIDR = 0xFC
)

const (
	a32Mask      = 0x0c
	apselMask    = 0xff000000
	apbankselMask = 0x000000f0
)

// AP.CSW bit definitions.
const (
	cswSize8     = 0x00000000
	cswSize16    = 0x00000001
	cswSize32    = 0x00000002
	cswSAddrInc  = 0x00000010
	cswDbgStat   = 0x00000040
	cswHProt     = 0x02000000
	cswMstrDbg   = 0x20000000
	cswReserved  = 0x01000000

	cswValue = cswReserved | cswMstrDbg | cswHProt | cswDbgStat | cswSAddrInc
)

var transferSizeField = map[int]uint32{8: cswSize8, 16: cswSize16, 32: cswSize32}

// DP.CTRL_STAT sticky bits.
const (
	ctrlStatStickyOrun = 0x00000002
	ctrlStatStickyCmp  = 0x00000010
	ctrlStatStickyErr  = 0x00000020
)

// DP.ABORT clear mask: STKCMPCLR | STKERRCLR | WDERRCLR | ORUNERRCLR.
// These are ABORT register bit positions, distinct from (and not to be
// confused with) the CTRL_STAT sticky bit positions above.
const abortClearSticky = 0x1e

// commandsPerTransfer bounds a single DAP_Transfer batch.
const commandsPerTransfer = 12
