package client

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/otj-daplink/daplinkd/pkg/errs"
	"github.com/otj-daplink/daplinkd/pkg/wire"
)

// serveOnce accepts a single connection and answers every request with a
// canned response keyed by command name, closing once the client
// disconnects. It stands in for a real broker so this package's tests
// don't depend on hidtransport/dap hardware.
func serveOnce(t *testing.T, addr string, responses map[string]wire.Response) {
	t.Helper()
	ln, err := net.Listen("unix", addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		dec := wire.NewDecoder(conn)
		enc := wire.NewEncoder(conn)
		for {
			req, err := dec.ReadRequest()
			if err != nil {
				return
			}
			resp, ok := responses[req.Command]
			if !ok {
				resp = wire.Fail("CommandError", "unexpected command in test fake: "+req.Command)
			}
			if err := enc.WriteResponse(resp); err != nil {
				return
			}
		}
	}()
}

func TestInitFetchesServerInfo(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "daplinkd.sock")
	serveOnce(t, addr, map[string]wire.Response{
		"server_info": wire.Ok(map[string]interface{}{"version": "1.0.0"}),
	})

	c, err := Init(Config{Address: addr})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Close()
}

func TestCommandSurfacesTransferError(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "daplinkd.sock")
	serveOnce(t, addr, map[string]wire.Response{
		"server_info": wire.Ok(map[string]interface{}{"version": "1.0.0"}),
		"read_dp":     wire.Fail("TransferError", "sticky fault"),
	})

	c, err := Init(Config{Address: addr})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Close()

	_, err = c.command("read_dp", map[string]interface{}{"addr": float64(0)})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*errs.TransferError); !ok {
		t.Fatalf("err type = %T, want *errs.TransferError", err)
	}
}

func TestEnumerateParsesBoardList(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "daplinkd.sock")
	serveOnce(t, addr, map[string]wire.Response{
		"server_info": wire.Ok(map[string]interface{}{"version": "1.0.0"}),
		"board_enumerate": wire.Ok([]interface{}{
			map[string]interface{}{
				"id": float64(1), "vendor_id": float64(0x0d28), "product_id": float64(0x0204),
				"manufacturer": "ARM", "product": "DAPLink", "serial": "abc",
			},
		}),
	})

	c, err := Init(Config{Address: addr})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Close()

	boards, err := c.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(boards) != 1 || boards[0].ID != 1 || boards[0].Manufacturer != "ARM" {
		t.Fatalf("boards = %+v", boards)
	}
}
