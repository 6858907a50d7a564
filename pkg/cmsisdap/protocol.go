// Package cmsisdap encodes and decodes CMSIS-DAP command packets: the
// DAP_Connect / DAP_Transfer / DAP_TransferBlock / DAP_SWJ_* / DAP_Info
// family the debug-port engine drives over a fixed-size HID transport.
package cmsisdap

import (
	"encoding/binary"
	"fmt"
)

// Command IDs, extended with the register-transfer and pin/abort commands
// the debug-port engine needs that a boundary-scan-only tool never uses.
const (
	CmdInfo              = 0x00
	CmdHostStatus        = 0x01
	CmdConnect           = 0x02
	CmdDisconnect        = 0x03
	CmdTransferConfigure = 0x04
	CmdTransfer          = 0x05
	CmdTransferBlock     = 0x06
	CmdWriteAbort        = 0x08
	CmdDelay             = 0x09
	CmdResetTarget       = 0x0A
	CmdSWJPins           = 0x10
	CmdSWJClock          = 0x11
	CmdSWJSequence       = 0x12
	CmdSWDConfigure      = 0x13
	CmdJTAGSequence      = 0x14
	CmdJTAGConfigure     = 0x15
	CmdJTAGIDCODE        = 0x16
)

// DAP_Info info IDs.
const (
	InfoVendorID        = 0x01
	InfoProductID       = 0x02
	InfoSerialNumber    = 0x03
	InfoFirmwareVersion = 0x04
	InfoTargetVendor    = 0x05
	InfoTargetName      = 0x06
	InfoCapabilities    = 0xF0
	InfoPacketCount     = 0xFE
	InfoPacketSize      = 0xFF
)

var knownInfoIDs = map[byte]bool{
	InfoVendorID: true, InfoProductID: true, InfoSerialNumber: true,
	InfoFirmwareVersion: true, InfoTargetVendor: true, InfoTargetName: true,
	InfoCapabilities: true, InfoPacketCount: true, InfoPacketSize: true,
}

// Connection ports / modes.
const (
	PortDefault = 0
	PortSWD     = 1
	PortJTAG    = 2
)

const (
	statusOK = 0x00
)

// Request bit fields for DAP_Transfer: a 6-bit field packed
// into one byte per transfer.
const (
	ReqAPnDP      = 1 << 0
	ReqRnW        = 1 << 1
	ReqA32Mask    = 0x0c
	ReqValueMatch = 1 << 4
	ReqMatchMask  = 1 << 5
)

// TransferError is returned by Transfer/TransferBlock when the probe
// reports a partial/failed batch.
type TransferError struct {
	CountExpected int
	CountExecuted int
	Ack           byte
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("cmsisdap: transfer failed (executed %d/%d, ack 0x%02x)",
		e.CountExecuted, e.CountExpected, e.Ack)
}

// Codec builds and parses CMSIS-DAP command frames. It holds no transport
// state; callers pair it with a transport that performs the raw HID
// exchange (see pkg/hidtransport).
type Codec struct {
	PacketSize int
}

func NewCodec(packetSize int) *Codec {
	return &Codec{PacketSize: packetSize}
}

// EncodeConnect builds DAP_Connect. port is PortDefault to let the probe
// pick (SWD preferred, falling back to JTAG), or an explicit port.
func (c *Codec) EncodeConnect(port byte) []byte {
	return []byte{CmdConnect, port}
}

// DecodeConnect returns the mode the probe actually connected in.
func (c *Codec) DecodeConnect(resp []byte) (byte, error) {
	if len(resp) < 2 {
		return 0, fmt.Errorf("cmsisdap: connect response too short")
	}
	if resp[1] == PortDefault {
		return 0, fmt.Errorf("cmsisdap: connect failed (no SWD/JTAG capability)")
	}
	return resp[1], nil
}

func (c *Codec) EncodeDisconnect() []byte {
	return []byte{CmdDisconnect}
}

func (c *Codec) DecodeDisconnect(resp []byte) error {
	return checkStatus(resp, "disconnect")
}

// EncodeInfo builds DAP_Info. Unknown ids are still encoded (the probe is
// the authority on what it supports); DecodeInfo surfaces an error for
// them rather than the caller guessing in advance.
func (c *Codec) EncodeInfo(id byte) []byte {
	return []byte{CmdInfo, id}
}

// InfoValue is either a string, an integer, or absent (null on the wire)
// depending on which DAP_Info id was requested.
type InfoValue struct {
	Str     string
	Int     int64
	IsInt   bool
	Present bool
}

// DecodeInfo parses a DAP_Info reply. Integer-valued ids (capabilities,
// packet count, packet size) decode to a numeric InfoValue; everything
// else is treated as a length-prefixed ASCII string, matching how
// CMSIS-DAP firmware actually answers DAP_Info.
func (c *Codec) DecodeInfo(id byte, resp []byte) (InfoValue, error) {
	if !knownInfoIDs[id] {
		return InfoValue{}, fmt.Errorf("cmsisdap: unknown DAP_Info id 0x%02x", id)
	}
	if len(resp) < 2 {
		return InfoValue{}, fmt.Errorf("cmsisdap: info response too short")
	}
	n := int(resp[1])
	if len(resp) < 2+n {
		return InfoValue{}, fmt.Errorf("cmsisdap: incomplete info payload")
	}
	payload := resp[2 : 2+n]

	switch id {
	case InfoPacketCount:
		if n < 1 {
			return InfoValue{}, fmt.Errorf("cmsisdap: packet count payload empty")
		}
		return InfoValue{Int: int64(payload[0]), IsInt: true, Present: true}, nil
	case InfoPacketSize:
		if n < 2 {
			return InfoValue{}, fmt.Errorf("cmsisdap: packet size payload short")
		}
		return InfoValue{Int: int64(binary.LittleEndian.Uint16(payload)), IsInt: true, Present: true}, nil
	case InfoCapabilities:
		if n < 1 {
			return InfoValue{}, fmt.Errorf("cmsisdap: capabilities payload empty")
		}
		return InfoValue{Int: int64(payload[0]), IsInt: true, Present: true}, nil
	default:
		return InfoValue{Str: string(payload), Present: n > 0}, nil
	}
}

func (c *Codec) EncodeSWJClock(hz uint32) []byte {
	cmd := make([]byte, 5)
	cmd[0] = CmdSWJClock
	binary.LittleEndian.PutUint32(cmd[1:], hz)
	return cmd
}

func (c *Codec) DecodeSWJClock(resp []byte) error {
	return checkStatus(resp, "swj_clock")
}

// EncodeSWJSequence builds DAP_SWJ_Sequence. data holds the raw bit
// pattern, LSB first within each byte; bitCount is how many of its bits
// are clocked out.
func (c *Codec) EncodeSWJSequence(bitCount int, data []byte) []byte {
	cmd := make([]byte, 2+len(data))
	cmd[0] = CmdSWJSequence
	cmd[1] = byte(bitCount)
	copy(cmd[2:], data)
	return cmd
}

func (c *Codec) DecodeSWJSequence(resp []byte) error {
	return checkStatus(resp, "swj_sequence")
}

// Symbolic SWJ pin names and their CMSIS-DAP bit positions.
const (
	PinSWCLKTCK = 1 << 0
	PinSWDIOTMS = 1 << 1
	PinTDI      = 1 << 2
	PinTDO      = 1 << 3
	PinNTRST    = 1 << 5
	PinNRESET   = 1 << 7
)

var pinByName = map[string]byte{
	"SWCLK_TCK": PinSWCLKTCK,
	"SWDIO_TMS": PinSWDIOTMS,
	"TDI":       PinTDI,
	"TDO":       PinTDO,
	"nTRST":     PinNTRST,
	"nRESET":    PinNRESET,
}

// EncodeSWJPins builds DAP_SWJ_Pins. mask names the symbolic pin to drive;
// the codec maps it to its bitmask and treats every other pin as
// don't-care (select mask bit unset).
func (c *Codec) EncodeSWJPins(output byte, mask string) ([]byte, error) {
	bit, ok := pinByName[mask]
	if !ok {
		return nil, fmt.Errorf("cmsisdap: unknown pin name %q", mask)
	}
	cmd := make([]byte, 7)
	cmd[0] = CmdSWJPins
	cmd[1] = output
	cmd[2] = bit
	binary.LittleEndian.PutUint32(cmd[3:], 0) // 0us: don't wait for the pin
	return cmd, nil
}

func (c *Codec) DecodeSWJPins(resp []byte) (byte, error) {
	if len(resp) < 2 {
		return 0, fmt.Errorf("cmsisdap: swj_pins response too short")
	}
	return resp[1], nil
}

// EncodeTransferConfigure builds DAP_TransferConfigure.
func (c *Codec) EncodeTransferConfigure(idleCycles byte, waitRetry, matchRetry uint16) []byte {
	cmd := make([]byte, 6)
	cmd[0] = CmdTransferConfigure
	cmd[1] = idleCycles
	binary.LittleEndian.PutUint16(cmd[2:], waitRetry)
	binary.LittleEndian.PutUint16(cmd[4:], matchRetry)
	return cmd
}

func (c *Codec) DecodeTransferConfigure(resp []byte) error {
	return checkStatus(resp, "transfer_configure")
}

func (c *Codec) EncodeSWDConfigure(cfg byte) []byte {
	return []byte{CmdSWDConfigure, cfg}
}

func (c *Codec) DecodeSWDConfigure(resp []byte) error {
	return checkStatus(resp, "swd_configure")
}

// EncodeJTAGConfigure builds DAP_JTAG_Configure with one IR length byte per
// device in the scan chain. The engine only ever drives a single device
// (spec Non-goals), so callers pass a one-element slice.
func (c *Codec) EncodeJTAGConfigure(irLengths []byte) []byte {
	cmd := make([]byte, 2+len(irLengths))
	cmd[0] = CmdJTAGConfigure
	cmd[1] = byte(len(irLengths))
	copy(cmd[2:], irLengths)
	return cmd
}

func (c *Codec) DecodeJTAGConfigure(resp []byte) error {
	return checkStatus(resp, "jtag_configure")
}

func (c *Codec) EncodeJTAGIDCode(deviceIndex byte) []byte {
	return []byte{CmdJTAGIDCODE, deviceIndex}
}

func (c *Codec) DecodeJTAGIDCode(resp []byte) (uint32, error) {
	if len(resp) < 6 {
		return 0, fmt.Errorf("cmsisdap: jtag_idcode response too short")
	}
	return binary.LittleEndian.Uint32(resp[2:6]), nil
}

func (c *Codec) EncodeWriteAbort(mask uint32) []byte {
	cmd := make([]byte, 5)
	cmd[0] = CmdWriteAbort
	binary.LittleEndian.PutUint32(cmd[1:], mask)
	return cmd
}

func (c *Codec) DecodeWriteAbort(resp []byte) error {
	return checkStatus(resp, "write_abort")
}

func (c *Codec) EncodeResetTarget() []byte {
	return []byte{CmdResetTarget}
}

func (c *Codec) DecodeResetTarget(resp []byte) error {
	return checkStatus(resp, "reset_target")
}

// TransferRequest is one entry in a batched DAP_Transfer.
type TransferRequest struct {
	Req  byte // packed APnDP|RnW|A32|ValueMatch|MatchMask
	Data uint32
}

// EncodeTransfer builds a batched DAP_Transfer with dapIndex 0 (single
// downstream device, per Non-goals).
func (c *Codec) EncodeTransfer(reqs []TransferRequest) []byte {
	cmd := make([]byte, 0, 3+len(reqs)*5)
	cmd = append(cmd, CmdTransfer, 0, byte(len(reqs)))
	for _, r := range reqs {
		cmd = append(cmd, r.Req)
		if r.Req&ReqRnW == 0 {
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], r.Data)
			cmd = append(cmd, buf[:]...)
		}
	}
	return cmd
}

// DecodeTransfer parses the DAP_Transfer reply, returning the raw bytes of
// every read's 4-byte result in request order (ready for the engine's
// decoder queue to consume), or a *TransferError on partial/failed batch.
func (c *Codec) DecodeTransfer(reqs []TransferRequest, resp []byte) ([]byte, error) {
	if len(resp) < 3 {
		return nil, fmt.Errorf("cmsisdap: transfer response too short")
	}
	countExecuted := int(resp[1])
	ack := resp[2]
	if countExecuted < len(reqs) || ack != statusOK {
		return nil, &TransferError{CountExpected: len(reqs), CountExecuted: countExecuted, Ack: ack}
	}
	reads := resp[3:]
	wantReadBytes := 0
	for _, r := range reqs {
		if r.Req&ReqRnW != 0 {
			wantReadBytes += 4
		}
	}
	if len(reads) < wantReadBytes {
		return nil, fmt.Errorf("cmsisdap: transfer response missing read data")
	}
	return reads[:wantReadBytes], nil
}

// EncodeTransferBlock builds DAP_TransferBlock: count operations sharing a
// single request byte, used only for aligned 32-bit block reads/writes.
func (c *Codec) EncodeTransferBlock(req byte, data []uint32) []byte {
	isRead := req&ReqRnW != 0
	count := len(data)
	cmd := make([]byte, 0, 4+1+len(data)*4)
	cmd = append(cmd, CmdTransferBlock, 0)
	var cbuf [2]byte
	binary.LittleEndian.PutUint16(cbuf[:], uint16(count))
	cmd = append(cmd, cbuf[:]...)
	cmd = append(cmd, req)
	if !isRead {
		var buf [4]byte
		for _, w := range data {
			binary.LittleEndian.PutUint32(buf[:], w)
			cmd = append(cmd, buf[:]...)
		}
	}
	return cmd
}

// DecodeTransferBlock parses a DAP_TransferBlock reply and returns the raw
// response bytes (engine decodes 32-bit words out of it).
func (c *Codec) DecodeTransferBlock(count int, resp []byte) ([]byte, error) {
	if len(resp) < 4 {
		return nil, fmt.Errorf("cmsisdap: transfer_block response too short")
	}
	countExecuted := int(binary.LittleEndian.Uint16(resp[1:3]))
	ack := resp[3]
	if countExecuted < count || ack != statusOK {
		return nil, &TransferError{CountExpected: count, CountExecuted: countExecuted, Ack: ack}
	}
	return resp[4:], nil
}

func checkStatus(resp []byte, what string) error {
	if len(resp) < 2 {
		return fmt.Errorf("cmsisdap: %s response too short", what)
	}
	if resp[1] != statusOK {
		return fmt.Errorf("cmsisdap: %s failed (status 0x%02x)", what, resp[1])
	}
	return nil
}
