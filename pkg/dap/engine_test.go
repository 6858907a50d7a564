package dap

import (
	"testing"
	"time"

	"github.com/otj-daplink/daplinkd/pkg/cmsisdap"
)

// fakeDevice is a scripted hidtransport.Device: it hands back one canned
// response per Write, in order, and records every command it was given.
type fakeDevice struct {
	responses [][]byte
	written   [][]byte
	idx       int
}

func (f *fakeDevice) Write(data []byte) error {
	cp := append([]byte(nil), data...)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeDevice) Read(_ time.Duration) ([]byte, error) {
	if f.idx >= len(f.responses) {
		panic("fakeDevice: out of scripted responses")
	}
	r := f.responses[f.idx]
	f.idx++
	return r, nil
}

func (f *fakeDevice) Close() error { return nil }

func statusResp(cmd byte) []byte { return []byte{cmd, 0x00} }

func newSWDInitScript() *fakeDevice {
	idcode := []byte{cmsisdap.CmdTransfer, 1, 0x00, 0x04, 0x0B, 0xA0, 0x2B} // 4 le bytes
	return &fakeDevice{responses: [][]byte{
		{cmsisdap.CmdConnect, cmsisdap.PortSWD},
		statusResp(cmsisdap.CmdSWJClock),
		statusResp(cmsisdap.CmdTransferConfigure),
		statusResp(cmsisdap.CmdSWDConfigure),
		statusResp(cmsisdap.CmdSWJSequence),
		idcode,
		statusResp(cmsisdap.CmdWriteAbort),
	}}
}

func TestEngineInitSWD(t *testing.T) {
	dev := newSWDInitScript()
	e := New(dev, 64)

	if err := e.Init(ModeSWD, 1_000_000); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !e.Connected() {
		t.Fatal("expected engine to report connected")
	}
	if e.ModeOf() != ModeSWD {
		t.Fatalf("mode = %v, want SWD", e.ModeOf())
	}
	if len(dev.written) != 7 {
		t.Fatalf("wrote %d commands, want 7", len(dev.written))
	}
}

func TestEngineInitRejectsDoubleInit(t *testing.T) {
	dev := newSWDInitScript()
	e := New(dev, 64)
	if err := e.Init(ModeSWD, 1_000_000); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := e.Init(ModeSWD, 1_000_000); err == nil {
		t.Fatal("expected error on double Init")
	}
}

func TestEngineWriteDPElidesRepeatedSelect(t *testing.T) {
	dev := newSWDInitScript()
	e := New(dev, 64)
	if err := e.Init(ModeSWD, 1_000_000); err != nil {
		t.Fatalf("Init: %v", err)
	}
	before := len(dev.written)

	if err := e.WriteDP(DPSelect, 0x10); err != nil {
		t.Fatalf("WriteDP: %v", err)
	}
	// Queued, not yet sent: no new command written.
	if len(dev.written) != before {
		t.Fatalf("expected request to stay queued, written = %d", len(dev.written))
	}

	// Repeating the same SELECT value must be elided entirely, even
	// after a flush of the first one.
	dev.responses = append(dev.responses, []byte{cmsisdap.CmdTransfer, 1, 0x00})
	if err := e.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	afterFirstFlush := len(dev.written)

	if err := e.WriteDP(DPSelect, 0x10); err != nil {
		t.Fatalf("WriteDP (repeat): %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(dev.written) != afterFirstFlush {
		t.Fatalf("repeated DP.SELECT write should have been elided, written = %d, want %d",
			len(dev.written), afterFirstFlush)
	}
}

func TestEngineReadDPDecodesResult(t *testing.T) {
	dev := newSWDInitScript()
	e := New(dev, 64)
	if err := e.Init(ModeSWD, 1_000_000); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := e.ReadDP(DPCtrlStat); err != nil {
		t.Fatalf("ReadDP: %v", err)
	}
	dev.responses = append(dev.responses, []byte{
		cmsisdap.CmdTransfer, 1, 0x00, 0xef, 0xbe, 0xad, 0xde,
	})
	results, err := e.ReadResults()
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	if len(results) != 1 || results[0] != 0xdeadbeef {
		t.Fatalf("results = %#v, want [0xdeadbeef]", results)
	}
}

func TestEngineTransferErrorRecovers(t *testing.T) {
	dev := newSWDInitScript()
	e := New(dev, 64)
	if err := e.Init(ModeSWD, 1_000_000); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := e.ReadDP(DPCtrlStat); err != nil {
		t.Fatalf("ReadDP: %v", err)
	}
	// Probe reports a faulted transfer: executed=0, ack=fault.
	dev.responses = append(dev.responses, []byte{cmsisdap.CmdTransfer, 0, 0x02})
	// clearStickyErr's WriteAbort response.
	dev.responses = append(dev.responses, statusResp(cmsisdap.CmdWriteAbort))

	_, err := e.ReadResults()
	if err == nil {
		t.Fatal("expected TransferError")
	}

	if len(e.requests) != 0 || len(e.decoders) != 0 || len(e.response) != 0 {
		t.Fatal("expected queues to be cleared after a fault")
	}
	if e.dpSelectCache != nil || e.cswCache != nil {
		t.Fatal("expected register caches to be invalidated after a fault")
	}
}

func TestEngineRejectsCommandsBeforeInit(t *testing.T) {
	e := New(&fakeDevice{}, 64)
	if err := e.WriteDP(DPSelect, 0); err == nil {
		t.Fatal("expected error writing DP before Init")
	}
	if err := e.ReadAP(APCSW); err == nil {
		t.Fatal("expected error reading AP before Init")
	}
}

func TestPackTMSBits(t *testing.T) {
	bits := []bool{true, true, true, true, true}
	n, data := packTMSBits(bits)
	if n != 5 {
		t.Fatalf("bit count = %d, want 5", n)
	}
	if len(data) != 1 || data[0] != 0x1f {
		t.Fatalf("packed = %v, want [0x1f]", data)
	}
}
