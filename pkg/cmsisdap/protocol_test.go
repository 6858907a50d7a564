package cmsisdap

import "testing"

func TestEncodeDecodeConnect(t *testing.T) {
	c := NewCodec(64)
	cmd := c.EncodeConnect(PortSWD)
	if cmd[0] != CmdConnect || cmd[1] != PortSWD {
		t.Fatalf("EncodeConnect = %v", cmd)
	}

	port, err := c.DecodeConnect([]byte{CmdConnect, PortSWD})
	if err != nil {
		t.Fatalf("DecodeConnect: %v", err)
	}
	if port != PortSWD {
		t.Fatalf("port = %d, want %d", port, PortSWD)
	}

	if _, err := c.DecodeConnect([]byte{CmdConnect, PortDefault}); err == nil {
		t.Fatal("expected error for PortDefault response")
	}
}

func TestDecodeInfoInteger(t *testing.T) {
	c := NewCodec(64)
	resp := []byte{CmdInfo, 1, 0x40}
	v, err := c.DecodeInfo(InfoPacketCount, resp)
	if err != nil {
		t.Fatalf("DecodeInfo: %v", err)
	}
	if !v.IsInt || v.Int != 0x40 {
		t.Fatalf("DecodeInfo = %+v", v)
	}
}

func TestDecodeInfoString(t *testing.T) {
	c := NewCodec(64)
	resp := append([]byte{CmdInfo, 5}, []byte("1.0.0")...)
	v, err := c.DecodeInfo(InfoFirmwareVersion, resp)
	if err != nil {
		t.Fatalf("DecodeInfo: %v", err)
	}
	if v.Str != "1.0.0" {
		t.Fatalf("DecodeInfo.Str = %q, want %q", v.Str, "1.0.0")
	}
}

func TestDecodeInfoUnknownID(t *testing.T) {
	c := NewCodec(64)
	if _, err := c.DecodeInfo(0x7f, []byte{CmdInfo, 0}); err == nil {
		t.Fatal("expected error for unknown info id")
	}
}

func TestTransferRoundTrip(t *testing.T) {
	c := NewCodec(64)
	reqs := []TransferRequest{
		{Req: ReqRnW, Data: 0},          // a read
		{Req: 0, Data: 0xdeadbeef},      // a write
		{Req: ReqRnW | ReqA32Mask, Data: 0}, // a second read
	}
	cmd := c.EncodeTransfer(reqs)
	if cmd[0] != CmdTransfer {
		t.Fatalf("EncodeTransfer command byte = 0x%02x", cmd[0])
	}
	if cmd[2] != byte(len(reqs)) {
		t.Fatalf("EncodeTransfer count byte = %d, want %d", cmd[2], len(reqs))
	}

	resp := []byte{CmdTransfer, byte(len(reqs)), statusOK}
	resp = append(resp, 0x11, 0x22, 0x33, 0x44) // first read
	resp = append(resp, 0x55, 0x66, 0x77, 0x88) // second read
	reads, err := c.DecodeTransfer(reqs, resp)
	if err != nil {
		t.Fatalf("DecodeTransfer: %v", err)
	}
	if len(reads) != 8 {
		t.Fatalf("reads len = %d, want 8", len(reads))
	}
}

func TestTransferPartialFailure(t *testing.T) {
	c := NewCodec(64)
	reqs := []TransferRequest{{Req: ReqRnW}}
	resp := []byte{CmdTransfer, 0, 0x02} // executed=0, ack=fault
	_, err := c.DecodeTransfer(reqs, resp)
	if err == nil {
		t.Fatal("expected TransferError")
	}
	if _, ok := err.(*TransferError); !ok {
		t.Fatalf("err type = %T, want *TransferError", err)
	}
}

func TestEncodeSWJPinsUnknownName(t *testing.T) {
	c := NewCodec(64)
	if _, err := c.EncodeSWJPins(0, "bogus"); err == nil {
		t.Fatal("expected error for unknown pin name")
	}
}

func TestTransferBlockRoundTrip(t *testing.T) {
	c := NewCodec(64)
	data := []uint32{1, 2, 3}
	cmd := c.EncodeTransferBlock(ReqAPnDP, data)
	if cmd[0] != CmdTransferBlock {
		t.Fatalf("command byte = 0x%02x", cmd[0])
	}

	resp := []byte{CmdTransferBlock, 3, 0, statusOK}
	reads, err := c.DecodeTransferBlock(3, resp)
	if err != nil {
		t.Fatalf("DecodeTransferBlock: %v", err)
	}
	if len(reads) != 0 {
		t.Fatalf("write-block response carried %d extra bytes", len(reads))
	}
}
