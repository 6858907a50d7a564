package session

import (
	"testing"

	"github.com/otj-daplink/daplinkd/pkg/selection"
	"github.com/otj-daplink/daplinkd/pkg/wire"
)

func TestUnknownCommand(t *testing.T) {
	s := New(selection.New())
	resp := s.Handle(wire.Request{Command: "not_a_real_command"})
	if !resp.IsError() {
		t.Fatal("expected error response for unknown command")
	}
	if resp.ErrorKind != "CommandError" {
		t.Fatalf("ErrorKind = %q, want CommandError", resp.ErrorKind)
	}
}

func TestServerInfo(t *testing.T) {
	s := New(selection.New())
	resp := s.Handle(wire.Request{Command: "server_info"})
	if resp.IsError() {
		t.Fatalf("unexpected error: %s", resp.ErrorMsg)
	}
	obj, ok := resp.Result.(map[string]interface{})
	if !ok || obj["version"] != ServerVersion {
		t.Fatalf("result = %#v", resp.Result)
	}
}

func TestBoardSelectUnknownID(t *testing.T) {
	s := New(selection.New())
	resp := s.Handle(wire.Request{Command: "board_select", Args: map[string]interface{}{"id": float64(7)}})
	if !resp.IsError() {
		t.Fatal("expected error selecting an unregistered id")
	}
}

func TestDapInitRequiresSelection(t *testing.T) {
	s := New(selection.New())
	resp := s.Handle(wire.Request{Command: "dap_init", Args: map[string]interface{}{"mode": "swd"}})
	if !resp.IsError() {
		t.Fatal("expected error: dap_init before board_select")
	}
}

func TestFlushRequiresEngine(t *testing.T) {
	s := New(selection.New())
	resp := s.Handle(wire.Request{Command: "flush"})
	if !resp.IsError() {
		t.Fatal("expected error: flush before dap_init")
	}
}

func TestBoardDeselectRequiresSelection(t *testing.T) {
	s := New(selection.New())
	resp := s.Handle(wire.Request{Command: "board_deselect"})
	if !resp.IsError() {
		t.Fatal("expected error: board_deselect with no selection")
	}
}

func TestSessionImplementsOwnerAlive(t *testing.T) {
	s := New(selection.New())
	if !s.Alive() {
		t.Fatal("new session should be alive")
	}
	s.Close()
	if s.Alive() {
		t.Fatal("session should be dead after Close")
	}
}

func TestReadDPRequiresEngine(t *testing.T) {
	s := New(selection.New())
	resp := s.Handle(wire.Request{Command: "read_dp"})
	if !resp.IsError() {
		t.Fatal("expected error: read_dp requires an engine regardless of args")
	}
}
