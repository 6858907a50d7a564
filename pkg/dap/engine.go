// Package dap implements the debug-port engine: one instance binds to a
// single opened probe transport and drives CMSIS-DAP DP/AP register
// accesses, batching them into DAP_Transfer/DAP_TransferBlock packets and
// caching DP.SELECT and AP.CSW so repeated writes of the same value are
// elided.
package dap

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/otj-daplink/daplinkd/pkg/cmsisdap"
	"github.com/otj-daplink/daplinkd/pkg/errs"
	"github.com/otj-daplink/daplinkd/pkg/hidtransport"
	"github.com/otj-daplink/daplinkd/pkg/tap"
)

// Mode names the wire protocol the engine negotiated with the probe.
type Mode int

const (
	ModeUnspecified Mode = iota
	ModeSWD
	ModeJTAG
)

func (m Mode) String() string {
	switch m {
	case ModeSWD:
		return "SWD"
	case ModeJTAG:
		return "JTAG"
	default:
		return "unspecified"
	}
}

const (
	defaultIdleCycles = 0
	defaultWaitRetry  = 64
	defaultMatchRetry = 0
	defaultSWDConfig  = 0
	defaultIRLength   = 4
)

// decoderKind tags a pending read so Flush can apply it against the flat
// response byte stream without allocating a closure per queued read (the
// engine may queue many per batch).
type decoderKind int

const (
	decodeU32 decoderKind = iota
	decodeShiftedMasked
	decodeBlock32
)

type pendingDecoder struct {
	kind  decoderKind
	shift uint
	mask  uint32
	words int // decodeBlock32 only: number of 32-bit words to pull
}

// Engine is a single probe's DP/AP register-transfer state machine. It is
// not safe for concurrent use; the session layer above it serializes all
// access to a given probe.
type Engine struct {
	transport hidtransport.Device
	codec     *cmsisdap.Codec

	connected bool
	mode      Mode

	dpSelectCache *uint32
	cswCache      *uint32

	requests []cmsisdap.TransferRequest
	decoders []pendingDecoder
	response []byte
}

// New binds an engine to an already-opened probe transport.
func New(transport hidtransport.Device, packetSize int) *Engine {
	return &Engine{
		transport: transport,
		codec:     cmsisdap.NewCodec(packetSize),
	}
}

func (e *Engine) exchange(cmd []byte) ([]byte, error) {
	if err := e.transport.Write(cmd); err != nil {
		return nil, fmt.Errorf("dap: write: %w", err)
	}
	resp, err := e.transport.Read(0)
	if err != nil {
		return nil, fmt.Errorf("dap: read: %w", err)
	}
	return resp, nil
}

// Init connects to the probe in the given mode and brings the target's
// debug port into a known state. mode must
// be ModeSWD or ModeJTAG.
func (e *Engine) Init(mode Mode, frequencyHz uint32) error {
	if e.connected {
		return errs.NewCommandError("dap: engine already initialized in %s mode", e.mode)
	}
	if mode != ModeSWD && mode != ModeJTAG {
		return errs.NewCommandError("dap: init requires SWD or JTAG, got %s", mode)
	}

	port := byte(cmsisdap.PortSWD)
	if mode == ModeJTAG {
		port = cmsisdap.PortJTAG
	}
	resp, err := e.exchange(e.codec.EncodeConnect(port))
	if err != nil {
		return err
	}
	if _, err := e.codec.DecodeConnect(resp); err != nil {
		return errs.NewCommandError("dap: connect: %v", err)
	}

	if err := e.setClock(frequencyHz); err != nil {
		return err
	}

	resp, err = e.exchange(e.codec.EncodeTransferConfigure(defaultIdleCycles, defaultWaitRetry, defaultMatchRetry))
	if err != nil {
		return err
	}
	if err := e.codec.DecodeTransferConfigure(resp); err != nil {
		return errs.NewCommandError("dap: transfer_configure: %v", err)
	}

	e.mode = mode
	e.invalidateCaches()

	// Set before the mode-specific bring-up: initSWD/initJTAG issue
	// queued DP register accesses through ReadDP/WriteDP, which assert
	// this guard. Rolled back below if bring-up fails.
	e.connected = true

	var bringupErr error
	switch mode {
	case ModeSWD:
		bringupErr = e.initSWD()
	case ModeJTAG:
		bringupErr = e.initJTAG()
	}
	if bringupErr != nil {
		e.connected = false
		e.mode = ModeUnspecified
		return bringupErr
	}

	return nil
}

func (e *Engine) initSWD() error {
	resp, err := e.exchange(e.codec.EncodeSWDConfigure(defaultSWDConfig))
	if err != nil {
		return err
	}
	if err := e.codec.DecodeSWDConfigure(resp); err != nil {
		return errs.NewCommandError("dap: swd_configure: %v", err)
	}

	// JTAG-to-SWD line reset: 7 bytes of 1s, the 0xe79e escape (sent LSB
	// first), 7 more bytes of 1s, then a single idle byte.
	ones := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	seq := append(append(append(append([]byte{}, ones...), 0x9e, 0xe7), ones...), 0x00)
	resp, err = e.exchange(e.codec.EncodeSWJSequence(len(seq)*8, seq))
	if err != nil {
		return err
	}
	if err := e.codec.DecodeSWJSequence(resp); err != nil {
		return errs.NewCommandError("dap: swj_sequence (line reset): %v", err)
	}

	if err := e.ReadDP(DPIDCode); err != nil {
		return err
	}
	results, err := e.ReadResults()
	if err != nil {
		return err
	}
	glog.V(1).Infof("dap: SWD IDCODE 0x%08x", results[0])

	if err := e.WriteAbort(abortClearSticky); err != nil {
		return err
	}
	return e.Flush()
}

// packTMSBits packs a tap.Sequence's TMS bit list into DAP_SWJ_Sequence's
// wire format: bits clocked LSB-first within each byte.
func packTMSBits(bits []bool) (bitCount int, data []byte) {
	data = make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			data[i/8] |= 1 << uint(i%8)
		}
	}
	return len(bits), data
}

func (e *Engine) initJTAG() error {
	resp, err := e.exchange(e.codec.EncodeJTAGConfigure([]byte{defaultIRLength}))
	if err != nil {
		return err
	}
	if err := e.codec.DecodeJTAGConfigure(resp); err != nil {
		return errs.NewCommandError("dap: jtag_configure: %v", err)
	}

	// Drive the TAP to Test-Logic-Reset: the tap package's state machine
	// tells us exactly how many TMS=1 clocks that takes and tracks where
	// DAP_SWJ_Sequence leaves the physical TAP controller.
	tm := tap.NewStateMachine()
	resetSeq := tm.Reset()
	bitCount, seqData := packTMSBits(resetSeq.TMS)
	resp, err = e.exchange(e.codec.EncodeSWJSequence(bitCount, seqData))
	if err != nil {
		return err
	}
	if err := e.codec.DecodeSWJSequence(resp); err != nil {
		return errs.NewCommandError("dap: swj_sequence (TLR): %v", err)
	}
	glog.V(2).Infof("dap: TAP now in %s", tm.State())

	resp, err = e.exchange(e.codec.EncodeJTAGIDCode(0))
	if err != nil {
		return err
	}
	idcode, err := e.codec.DecodeJTAGIDCode(resp)
	if err != nil {
		return errs.NewCommandError("dap: jtag_idcode: %v", err)
	}
	glog.V(1).Infof("dap: JTAG IDCODE 0x%08x", idcode)

	return e.clearStickyErr()
}

// Uninit releases the target and returns the engine to its pre-Init state
// It is idempotent.
func (e *Engine) Uninit() error {
	if !e.connected {
		return nil
	}
	e.requests = nil
	e.decoders = nil
	e.response = nil
	resp, err := e.exchange(e.codec.EncodeDisconnect())
	e.connected = false
	e.mode = ModeUnspecified
	e.invalidateCaches()
	if err != nil {
		return err
	}
	return e.codec.DecodeDisconnect(resp)
}

// Connected reports whether Init has run without a matching Uninit.
func (e *Engine) Connected() bool { return e.connected }

// ModeOf returns the negotiated transport mode, or ModeUnspecified before
// Init.
func (e *Engine) ModeOf() Mode { return e.mode }

func (e *Engine) invalidateCaches() {
	e.dpSelectCache = nil
	e.cswCache = nil
}

func (e *Engine) requireConnected() error {
	if !e.connected {
		return errs.NewCommandError("dap: engine not initialized")
	}
	return nil
}

// SetClock reprograms the probe's SWCLK/TCK frequency. Valid at any
// time, connected or not.
func (e *Engine) SetClock(frequencyHz uint32) error {
	return e.setClock(frequencyHz)
}

func (e *Engine) setClock(frequencyHz uint32) error {
	resp, err := e.exchange(e.codec.EncodeSWJClock(frequencyHz))
	if err != nil {
		return err
	}
	if err := e.codec.DecodeSWJClock(resp); err != nil {
		return errs.NewCommandError("dap: swj_clock: %v", err)
	}
	return nil
}

// clearStickyErr is the mode-specific recovery the engine runs after any
// TransferError (spec §4.3, §8): in SWD mode it writes STKERRCLR to
// DP.ABORT; in JTAG mode it queues a CTRL_STAT write of the sticky
// error/compare/overrun bits.
func (e *Engine) clearStickyErr() error {
	switch e.mode {
	case ModeSWD:
		return e.WriteAbort(1 << 2) // STKERRCLR
	case ModeJTAG:
		return e.WriteDP(DPCtrlStat, ctrlStatStickyErr|ctrlStatStickyCmp|ctrlStatStickyOrun)
	default:
		return nil
	}
}

// WriteAbort issues DAP_WriteAbort directly (bypassing the batched
// request queue: it must reach the probe immediately to recover from a
// sticky fault).
func (e *Engine) WriteAbort(mask uint32) error {
	resp, err := e.exchange(e.codec.EncodeWriteAbort(mask))
	if err != nil {
		return err
	}
	return e.codec.DecodeWriteAbort(resp)
}

// ResetTarget issues DAP_ResetTarget.
func (e *Engine) ResetTarget() error {
	if err := e.requireConnected(); err != nil {
		return err
	}
	if err := e.Flush(); err != nil {
		return err
	}
	resp, err := e.exchange(e.codec.EncodeResetTarget())
	if err != nil {
		return err
	}
	return e.codec.DecodeResetTarget(resp)
}

// AssertReset drives or releases nRESET via DAP_SWJ_Pins.
func (e *Engine) AssertReset(assert bool) error {
	if err := e.requireConnected(); err != nil {
		return err
	}
	if err := e.Flush(); err != nil {
		return err
	}
	var output byte
	if !assert {
		output = cmsisdap.PinNRESET
	}
	cmd, err := e.codec.EncodeSWJPins(output, "nRESET")
	if err != nil {
		return err
	}
	resp, err := e.exchange(cmd)
	if err != nil {
		return err
	}
	_, err = e.codec.DecodeSWJPins(resp)
	return err
}

// enqueue appends a request/decoder pair and eagerly flushes once the
// batch hits commandsPerTransfer.
func (e *Engine) enqueue(req cmsisdap.TransferRequest, dec *pendingDecoder) error {
	e.requests = append(e.requests, req)
	if dec != nil {
		e.decoders = append(e.decoders, *dec)
	}
	if len(e.requests) >= commandsPerTransfer {
		return e.flushBatch()
	}
	return nil
}

// flushBatch sends whatever is queued in e.requests, appends the raw read
// bytes to e.response, and clears the request queue. On TransferError it
// discards everything queued so far (requests, decoders, unconsumed
// response bytes), invalidates the register caches, clears the sticky
// error bits, and returns a wrapped *errs.TransferError.
func (e *Engine) flushBatch() error {
	if len(e.requests) == 0 {
		return nil
	}
	reqs := e.requests
	e.requests = nil

	resp, err := e.exchange(e.codec.EncodeTransfer(reqs))
	if err != nil {
		e.recoverFromFault()
		return err
	}
	reads, err := e.codec.DecodeTransfer(reqs, resp)
	if err != nil {
		e.recoverFromFault()
		if te, ok := err.(*cmsisdap.TransferError); ok {
			return errs.NewTransferError("%v", te)
		}
		return errs.NewTransferError("%v", err)
	}
	e.response = append(e.response, reads...)
	return nil
}

// recoverFromFault is the engine-wide cleanup run when flushBatch's
// DAP_Transfer itself fails: everything queued, including decoders and
// unconsumed response bytes from earlier successful batches, is
// discarded, since the caller can no longer trust register state.
func (e *Engine) recoverFromFault() {
	e.requests = nil
	e.decoders = nil
	e.response = nil
	e.invalidateCaches()
	if err := e.clearStickyErr(); err != nil {
		glog.Warningf("dap: clearStickyErr after fault: %v", err)
	}
}

// Flush forces out any queued transfer requests and appends their read
// data to the response buffer. It does not decode pending reads: the
// decoded 32-bit words come from ReadResults (plain DP/AP reads and
// shifted/masked memory reads each produce one; block reads produce
// their word count).
func (e *Engine) Flush() error {
	if err := e.flushBatch(); err != nil {
		return err
	}
	return nil
}

// drain applies every queued decoder against the accumulated response
// bytes, in the order they were enqueued, and returns one decoded value
// per decoder (block decoders contribute their full word slice flattened
// into the result in place).
func (e *Engine) drain() ([]uint32, error) {
	if err := e.Flush(); err != nil {
		return nil, err
	}
	var out []uint32
	off := 0
	for _, d := range e.decoders {
		switch d.kind {
		case decodeU32:
			if off+4 > len(e.response) {
				return nil, errs.NewCommandError("dap: response underrun")
			}
			out = append(out, leUint32(e.response[off:off+4]))
			off += 4
		case decodeShiftedMasked:
			if off+4 > len(e.response) {
				return nil, errs.NewCommandError("dap: response underrun")
			}
			v := leUint32(e.response[off : off+4])
			out = append(out, (v>>d.shift)&d.mask)
			off += 4
		case decodeBlock32:
			for i := 0; i < d.words; i++ {
				if off+4 > len(e.response) {
					return nil, errs.NewCommandError("dap: response underrun")
				}
				out = append(out, leUint32(e.response[off:off+4]))
				off += 4
			}
		}
	}
	e.decoders = nil
	e.response = nil
	return out, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// ReadResults runs Flush followed by drain, the shape the session layer
// calls once per wire command that queued one or more reads.
func (e *Engine) ReadResults() ([]uint32, error) {
	return e.drain()
}

// WriteDP queues a DP register write, eliding it if it repeats the cached
// value of DP.SELECT.
func (e *Engine) WriteDP(addr byte, value uint32) error {
	if err := e.requireConnected(); err != nil {
		return err
	}
	if addr == DPSelect {
		if e.dpSelectCache != nil && *e.dpSelectCache == value {
			return nil
		}
		v := value
		e.dpSelectCache = &v
	}
	// APnDP=0 (DP access), RnW=0 (write).
	req := cmsisdap.TransferRequest{Req: byte(addr & a32Mask), Data: value}
	return e.enqueue(req, nil)
}

// ReadDP queues a DP register read; call Flush/ReadResults to retrieve it.
func (e *Engine) ReadDP(addr byte) error {
	if err := e.requireConnected(); err != nil {
		return err
	}
	req := cmsisdap.TransferRequest{Req: byte(addr&a32Mask) | cmsisdap.ReqRnW}
	return e.enqueue(req, &pendingDecoder{kind: decodeU32})
}

func (e *Engine) selectAP(addr uint32) error {
	want := (addr & apselMask) | (addr & apbankselMask)
	return e.WriteDP(DPSelect, want)
}

// WriteAP queues an AP register write, first selecting its AP/bank via
// DP.SELECT and eliding repeats of AP.CSW the same way WriteDP elides
// DP.SELECT.
func (e *Engine) WriteAP(addr uint32, value uint32) error {
	if err := e.requireConnected(); err != nil {
		return err
	}
	if err := e.selectAP(addr); err != nil {
		return err
	}
	reg := byte(addr) & a32Mask
	if reg == APCSW {
		if e.cswCache != nil && *e.cswCache == value {
			return nil
		}
		v := value
		e.cswCache = &v
	}
	req := cmsisdap.TransferRequest{Req: cmsisdap.ReqAPnDP | reg, Data: value}
	return e.enqueue(req, nil)
}

// ReadAP queues an AP register read.
func (e *Engine) ReadAP(addr uint32) error {
	if err := e.requireConnected(); err != nil {
		return err
	}
	if err := e.selectAP(addr); err != nil {
		return err
	}
	reg := byte(addr) & a32Mask
	req := cmsisdap.TransferRequest{Req: cmsisdap.ReqAPnDP | cmsisdap.ReqRnW | reg}
	return e.enqueue(req, &pendingDecoder{kind: decodeU32})
}

// WriteMem queues a memory-mapped write of size 8, 16, or 32 bits,
// shifting the value into its byte lane the way the target's AHB-AP
// expects for sub-word accesses.
func (e *Engine) WriteMem(addr uint32, value uint32, size int) error {
	sizeField, ok := transferSizeField[size]
	if !ok {
		return errs.NewCommandError("dap: unsupported memory access size %d", size)
	}
	if err := e.WriteAP(APCSW, cswValue|sizeField); err != nil {
		return err
	}
	if err := e.WriteAP(APTAR, addr); err != nil {
		return err
	}
	shifted := value
	switch size {
	case 8:
		shifted = value << ((addr & 0x3) * 8)
	case 16:
		shifted = value << ((addr & 0x2) * 8)
	}
	return e.WriteAP(APDRW, shifted)
}

// ReadMem queues a memory-mapped read of size 8, 16, or 32 bits. The
// decoded value returned by ReadResults has already been shifted back
// down and masked to the access width.
func (e *Engine) ReadMem(addr uint32, size int) error {
	sizeField, ok := transferSizeField[size]
	if !ok {
		return errs.NewCommandError("dap: unsupported memory access size %d", size)
	}
	if err := e.WriteAP(APCSW, cswValue|sizeField); err != nil {
		return err
	}
	if err := e.WriteAP(APTAR, addr); err != nil {
		return err
	}
	if err := e.requireConnected(); err != nil {
		return err
	}
	if err := e.selectAP(APDRW); err != nil {
		return err
	}
	req := cmsisdap.TransferRequest{Req: cmsisdap.ReqAPnDP | cmsisdap.ReqRnW | (APDRW & a32Mask)}

	var shift uint
	var mask uint32 = 0xffffffff
	switch size {
	case 8:
		shift = uint((addr & 0x3) * 8)
		mask = 0xff
	case 16:
		shift = uint((addr & 0x2) * 8)
		mask = 0xffff
	}
	return e.enqueue(req, &pendingDecoder{kind: decodeShiftedMasked, shift: shift, mask: mask})
}

// WriteBlock32 writes a run of aligned 32-bit words starting at addr via
// DAP_TransferBlock. It flushes any queued individual transfers first,
// then sends the block transfer immediately outside the normal batching
// discipline. A TransferError here only clears the sticky
// bits and re-raises: the preceding Flush already ran the full recovery
// if the queued transfers themselves failed.
func (e *Engine) WriteBlock32(addr uint32, words []uint32) error {
	if err := e.requireConnected(); err != nil {
		return err
	}
	if err := e.WriteAP(APCSW, cswValue|cswSize32); err != nil {
		return err
	}
	if err := e.WriteAP(APTAR, addr); err != nil {
		return err
	}
	if err := e.Flush(); err != nil {
		return err
	}
	req := cmsisdap.ReqAPnDP | (APDRW & a32Mask)
	resp, err := e.exchange(e.codec.EncodeTransferBlock(byte(req), words))
	if err != nil {
		e.clearStickyErr()
		return err
	}
	if _, err := e.codec.DecodeTransferBlock(len(words), resp); err != nil {
		e.clearStickyErr()
		return errs.NewTransferError("%v", err)
	}
	return nil
}

// ReadBlock32 queues a run of aligned 32-bit word reads via
// DAP_TransferBlock, sent immediately like WriteBlock32. The read words
// are appended to the response queue and a single decodeBlock32 decoder
// is enqueued so ReadResults returns them alongside any individual reads
// queued before or after, in call order.
func (e *Engine) ReadBlock32(addr uint32, count int) error {
	if err := e.requireConnected(); err != nil {
		return err
	}
	if err := e.WriteAP(APCSW, cswValue|cswSize32); err != nil {
		return err
	}
	if err := e.WriteAP(APTAR, addr); err != nil {
		return err
	}
	if err := e.Flush(); err != nil {
		return err
	}
	req := cmsisdap.ReqAPnDP | cmsisdap.ReqRnW | (APDRW & a32Mask)
	resp, err := e.exchange(e.codec.EncodeTransferBlock(byte(req), make([]uint32, count)))
	if err != nil {
		e.clearStickyErr()
		return err
	}
	reads, err := e.codec.DecodeTransferBlock(count, resp)
	if err != nil {
		e.clearStickyErr()
		return errs.NewTransferError("%v", err)
	}
	if len(reads) < count*4 {
		return errs.NewCommandError("dap: transfer_block response missing read data")
	}
	e.response = append(e.response, reads[:count*4]...)
	e.decoders = append(e.decoders, pendingDecoder{kind: decodeBlock32, words: count})
	return nil
}
