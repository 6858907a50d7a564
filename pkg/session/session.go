// Package session implements one client connection's command handler and
// state machine: FRESH -> HAS_SELECTION -> HAS_PROBE -> HAS_ENGINE, and
// back down again on dap_uninit/board_deselect, until the connection
// closes.
package session

import (
	"fmt"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/otj-daplink/daplinkd/pkg/cmsisdap"
	"github.com/otj-daplink/daplinkd/pkg/dap"
	"github.com/otj-daplink/daplinkd/pkg/errs"
	"github.com/otj-daplink/daplinkd/pkg/hidtransport"
	"github.com/otj-daplink/daplinkd/pkg/selection"
	"github.com/otj-daplink/daplinkd/pkg/wire"
)

// State names where a session sits in its board-selection/engine
// lifecycle.
type State int

const (
	StateFresh State = iota
	StateHasSelection
	StateHasProbe
	StateHasEngine
)

// ServerVersion is reported by server_info and checked by clients against
// their own build; a mismatch is logged as a warning, not a hard failure.
const ServerVersion = "1.0.0"

// Session holds one client connection's state against a shared probe
// registry. It implements selection.Owner so the registry can tell a
// stale lock from a live one.
type Session struct {
	registry *selection.Registry

	state  State
	id     uint16
	probe  hidtransport.Probe
	device hidtransport.Device
	engine *dap.Engine

	alive int32
}

// New returns a fresh session bound to registry. The caller marks it
// dead (via Close) when the client disconnects.
func New(registry *selection.Registry) *Session {
	s := &Session{registry: registry}
	atomic.StoreInt32(&s.alive, 1)
	return s
}

// Alive implements selection.Owner.
func (s *Session) Alive() bool {
	return atomic.LoadInt32(&s.alive) != 0
}

// Close tears down any held engine/device/selection and marks the
// session dead, called once per connection by the broker's per-client
// goroutine when the client disconnects.
func (s *Session) Close() {
	if s.engine != nil {
		s.engine.Uninit()
	}
	if s.device != nil {
		s.device.Close()
	}
	if s.state >= StateHasSelection {
		s.registry.Deselect(s.id, s)
	}
	atomic.StoreInt32(&s.alive, 0)
}

// Handle dispatches one decoded request and returns the reply to encode.
// A failure becomes an error frame: *errs.CommandError and
// *errs.TransferError under their own kind, any other error under its Go
// type name. Handle never panics on a malformed or state-violating
// request.
func (s *Session) Handle(req wire.Request) wire.Response {
	result, err := s.dispatch(req)
	if err != nil {
		return errorResponse(err)
	}
	return wire.Ok(result)
}

func errorResponse(err error) wire.Response {
	if k, ok := err.(errs.Kinder); ok {
		return wire.Fail(k.Kind(), err.Error())
	}
	return wire.Fail(fmt.Sprintf("%T", err), err.Error())
}

func (s *Session) dispatch(req wire.Request) (interface{}, error) {
	switch req.Command {
	case "server_info":
		return s.serverInfo()
	case "board_enumerate":
		return s.boardEnumerate()
	case "board_select":
		return nil, s.boardSelect(req.Args)
	case "board_deselect":
		return nil, s.boardDeselect()
	case "board_info":
		return s.boardInfo()
	case "dap_init":
		return nil, s.dapInit(req.Args)
	case "dap_uninit":
		return nil, s.dapUninit()
	case "dap_clock":
		return nil, s.dapClock(req.Args)
	case "dap_info":
		return s.dapInfo(req.Args)
	case "reset":
		return nil, s.withEngine(func(e *dap.Engine) error { return e.ResetTarget() })
	case "reset_assert":
		return nil, s.withEngine(func(e *dap.Engine) error { return e.AssertReset(true) })
	case "reset_deassert":
		return nil, s.withEngine(func(e *dap.Engine) error { return e.AssertReset(false) })
	case "write_dp":
		return nil, s.writeDP(req.Args)
	case "read_dp":
		return s.readDP(req.Args)
	case "write_ap":
		return nil, s.writeAP(req.Args)
	case "read_ap":
		return s.readAP(req.Args)
	case "write_8", "write_16", "write_32":
		return nil, s.writeMem(req.Command, req.Args)
	case "read_8", "read_16", "read_32":
		return s.readMem(req.Command, req.Args)
	case "write_block":
		return nil, s.writeBlock(req.Args)
	case "read_block":
		return s.readBlock(req.Args)
	case "flush":
		return s.flush()
	default:
		return nil, errs.NewCommandError("session: unknown command %q", req.Command)
	}
}

func (s *Session) serverInfo() (interface{}, error) {
	return map[string]interface{}{"version": ServerVersion}, nil
}

func (s *Session) boardEnumerate() (interface{}, error) {
	probes, err := hidtransport.EnumerateKnown()
	if err != nil {
		return nil, errs.NewCommandError("session: enumerate: %v", err)
	}
	ids := s.registry.Enumerate(probes)
	out := make([]map[string]interface{}, 0, len(ids))
	for id, p := range ids {
		out = append(out, map[string]interface{}{
			"id":           id,
			"vendor_id":    p.VID,
			"product_id":   p.PID,
			"manufacturer": p.Manufacturer,
			"product":      p.Product,
			"serial":       p.Serial,
		})
	}
	return out, nil
}

func (s *Session) boardSelect(args map[string]interface{}) error {
	if s.state != StateFresh {
		return errs.NewCommandError("session: board_select requires FRESH state")
	}
	id, err := argUint16(args, "id")
	if err != nil {
		return err
	}
	probe, err := s.registry.Select(id, s)
	if err != nil {
		return err
	}
	s.id = id
	s.probe = probe
	s.state = StateHasSelection
	return nil
}

func (s *Session) boardDeselect() error {
	if s.state < StateHasSelection {
		return errs.NewCommandError("session: board_deselect requires a selection")
	}
	if s.state >= StateHasProbe {
		return errs.NewCommandError("session: board_deselect requires the probe to be closed first")
	}
	s.registry.Deselect(s.id, s)
	s.state = StateFresh
	return nil
}

func (s *Session) boardInfo() (interface{}, error) {
	if s.state < StateHasSelection {
		return nil, errs.NewCommandError("session: board_info requires a selection")
	}
	return map[string]interface{}{
		"id":           s.id,
		"vendor_id":    s.probe.VID,
		"product_id":   s.probe.PID,
		"manufacturer": s.probe.Manufacturer,
		"product":      s.probe.Product,
		"serial":       s.probe.Serial,
	}, nil
}

func (s *Session) dapInit(args map[string]interface{}) error {
	if s.state != StateHasSelection {
		return errs.NewCommandError("session: dap_init requires a board selection")
	}
	modeStr, _ := args["mode"].(string)
	var mode dap.Mode
	switch modeStr {
	case "swd", "SWD", "":
		mode = dap.ModeSWD
	case "jtag", "JTAG":
		mode = dap.ModeJTAG
	default:
		return errs.NewCommandError("session: unknown dap_init mode %q", modeStr)
	}
	freq, err := argUint32(args, "frequency_hz")
	if err != nil {
		freq = 1_000_000
	}

	device, err := hidtransport.Open(s.probe)
	if err != nil {
		return errs.NewCommandError("session: open probe: %v", err)
	}
	s.device = device
	s.state = StateHasProbe

	engine := dap.New(device, hidtransport.ReportSize)
	if err := engine.Init(mode, freq); err != nil {
		device.Close()
		s.device = nil
		s.state = StateHasSelection
		return err
	}
	s.engine = engine
	s.state = StateHasEngine
	glog.V(1).Infof("session: dap_init id=%d mode=%s freq=%d", s.id, mode, freq)
	return nil
}

func (s *Session) dapUninit() error {
	if s.state != StateHasEngine {
		return errs.NewCommandError("session: dap_uninit requires an initialized engine")
	}
	err := s.engine.Uninit()
	s.engine = nil
	if closeErr := s.device.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	s.device = nil
	s.state = StateHasSelection
	return err
}

func (s *Session) dapClock(args map[string]interface{}) error {
	return s.withEngine(func(e *dap.Engine) error {
		freq, err := argUint32(args, "frequency_hz")
		if err != nil {
			return err
		}
		return e.SetClock(freq)
	})
}

func (s *Session) dapInfo(args map[string]interface{}) (interface{}, error) {
	if s.state < StateHasProbe {
		return nil, errs.NewCommandError("session: dap_info requires an open probe")
	}
	idByte, err := argByte(args, "id")
	if err != nil {
		return nil, err
	}
	codec := cmsisdap.NewCodec(hidtransport.ReportSize)
	if err := s.device.Write(codec.EncodeInfo(idByte)); err != nil {
		return nil, errs.NewCommandError("session: dap_info: %v", err)
	}
	resp, err := s.device.Read(0)
	if err != nil {
		return nil, errs.NewCommandError("session: dap_info: %v", err)
	}
	v, err := codec.DecodeInfo(idByte, resp)
	if err != nil {
		return nil, errs.NewCommandError("session: dap_info: %v", err)
	}
	if v.IsInt {
		return v.Int, nil
	}
	if !v.Present {
		return nil, nil
	}
	return v.Str, nil
}

func (s *Session) withEngine(fn func(e *dap.Engine) error) error {
	if s.state != StateHasEngine {
		return errs.NewCommandError("session: command requires an initialized engine")
	}
	return fn(s.engine)
}

func (s *Session) writeDP(args map[string]interface{}) error {
	return s.withEngine(func(e *dap.Engine) error {
		addr, err := argByte(args, "addr")
		if err != nil {
			return err
		}
		value, err := argUint32(args, "value")
		if err != nil {
			return err
		}
		return e.WriteDP(addr, value)
	})
}

func (s *Session) readDP(args map[string]interface{}) (interface{}, error) {
	if err := s.withEngine(func(e *dap.Engine) error {
		addr, err := argByte(args, "addr")
		if err != nil {
			return err
		}
		return e.ReadDP(addr)
	}); err != nil {
		return nil, err
	}
	return s.flush()
}

func (s *Session) writeAP(args map[string]interface{}) error {
	return s.withEngine(func(e *dap.Engine) error {
		addr, err := argUint32(args, "addr")
		if err != nil {
			return err
		}
		value, err := argUint32(args, "value")
		if err != nil {
			return err
		}
		return e.WriteAP(addr, value)
	})
}

func (s *Session) readAP(args map[string]interface{}) (interface{}, error) {
	if err := s.withEngine(func(e *dap.Engine) error {
		addr, err := argUint32(args, "addr")
		if err != nil {
			return err
		}
		return e.ReadAP(addr)
	}); err != nil {
		return nil, err
	}
	return s.flush()
}

func memSize(command string) int {
	switch command {
	case "write_8", "read_8":
		return 8
	case "write_16", "read_16":
		return 16
	default:
		return 32
	}
}

func (s *Session) writeMem(command string, args map[string]interface{}) error {
	return s.withEngine(func(e *dap.Engine) error {
		addr, err := argUint32(args, "addr")
		if err != nil {
			return err
		}
		value, err := argUint32(args, "value")
		if err != nil {
			return err
		}
		return e.WriteMem(addr, value, memSize(command))
	})
}

func (s *Session) readMem(command string, args map[string]interface{}) (interface{}, error) {
	if err := s.withEngine(func(e *dap.Engine) error {
		addr, err := argUint32(args, "addr")
		if err != nil {
			return err
		}
		return e.ReadMem(addr, memSize(command))
	}); err != nil {
		return nil, err
	}
	return s.flush()
}

func (s *Session) writeBlock(args map[string]interface{}) error {
	return s.withEngine(func(e *dap.Engine) error {
		addr, err := argUint32(args, "addr")
		if err != nil {
			return err
		}
		words, err := argUint32Slice(args, "data")
		if err != nil {
			return err
		}
		return e.WriteBlock32(addr, words)
	})
}

func (s *Session) readBlock(args map[string]interface{}) (interface{}, error) {
	if err := s.withEngine(func(e *dap.Engine) error {
		addr, err := argUint32(args, "addr")
		if err != nil {
			return err
		}
		count, err := argInt(args, "count")
		if err != nil {
			return err
		}
		if count < 0 {
			return errs.NewCommandError("session: argument %q must not be negative", "count")
		}
		return e.ReadBlock32(addr, count)
	}); err != nil {
		return nil, err
	}
	return s.flush()
}

func (s *Session) flush() (interface{}, error) {
	if s.state != StateHasEngine {
		return nil, errs.NewCommandError("session: flush requires an initialized engine")
	}
	results, err := s.engine.ReadResults()
	if err != nil {
		return nil, err
	}
	return results, nil
}
