// Package client implements the daplinkd client stub: it dials (or
// auto-spawns) a broker, speaks the wire.Request/wire.Response protocol
// over a single connection, and exposes a typed Board handle per
// selected probe.
package client

import (
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/golang/glog"
	hcversion "github.com/hashicorp/go-version"

	"github.com/otj-daplink/daplinkd/pkg/errs"
	"github.com/otj-daplink/daplinkd/pkg/session"
	"github.com/otj-daplink/daplinkd/pkg/wire"
)

// Config controls how Init locates or spawns a broker.
type Config struct {
	// Address matches the broker's own Config.Address (unix path or
	// host:port).
	Address string
	// ServerPath, when set, is the daplinkd binary Init spawns (detached)
	// if dialing Address fails on the first attempt.
	ServerPath string
	// ServerArgs are appended to the spawned daplinkd invocation.
	ServerArgs []string
	// DialRetries bounds how many times Init retries dialing after a
	// spawn.
	DialRetries int
	// RetryInterval is the pause between dial attempts.
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialRetries == 0 {
		c.DialRetries = 10
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 200 * time.Millisecond
	}
	return c
}

// Client is one connection to a broker.
type Client struct {
	cfg  Config
	conn net.Conn
	dec  *wire.Decoder
	enc  *wire.Encoder
}

func dialNetwork(addr string) string {
	if strings.Contains(addr, ":") && !strings.HasPrefix(addr, "/") {
		return "tcp"
	}
	return "unix"
}

// Init dials cfg.Address, spawning a detached daplinkd first if the
// initial dial fails and cfg.ServerPath is set. It then fetches
// server_info and logs (but does not fail on) a version mismatch.
func Init(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	network := dialNetwork(cfg.Address)

	conn, err := net.Dial(network, cfg.Address)
	if err != nil && cfg.ServerPath != "" {
		if spawnErr := spawnDetached(cfg.ServerPath, cfg.ServerArgs); spawnErr != nil {
			return nil, fmt.Errorf("client: spawn daplinkd: %w", spawnErr)
		}
		for attempt := 0; attempt < cfg.DialRetries; attempt++ {
			time.Sleep(cfg.RetryInterval)
			conn, err = net.Dial(network, cfg.Address)
			if err == nil {
				break
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", cfg.Address, err)
	}

	c := &Client{
		cfg:  cfg,
		conn: conn,
		dec:  wire.NewDecoder(conn),
		enc:  wire.NewEncoder(conn),
	}

	info, err := c.command("server_info", nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.warnOnVersionMismatch(info)
	return c, nil
}

func (c *Client) warnOnVersionMismatch(info interface{}) {
	obj, ok := info.(map[string]interface{})
	if !ok {
		return
	}
	remote, ok := obj["version"].(string)
	if !ok {
		return
	}
	remoteVer, err := hcversion.NewVersion(remote)
	if err != nil {
		return
	}
	localVer, err := hcversion.NewVersion(session.ServerVersion)
	if err != nil {
		return
	}
	if !remoteVer.Equal(localVer) {
		glog.Warningf("client: server version %s does not match client version %s", remoteVer, localVer)
	}
}

// spawnDetached starts path as a background process the client does not
// wait on.
func spawnDetached(path string, args []string) error {
	cmd := exec.Command(path, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = detachedSysProcAttr()
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// command sends one request and waits for its matching reply. The
// connection carries exactly one in-flight request at a time, so callers
// needing concurrency should open additional connections (see
// Dedicated), matching the one-board-per-connection model the broker
// enforces server-side.
func (c *Client) command(name string, args map[string]interface{}) (interface{}, error) {
	if err := c.enc.WriteRequest(wire.Request{Command: name, Args: args}); err != nil {
		return nil, fmt.Errorf("client: write %s: %w", name, err)
	}
	resp, err := c.dec.ReadResponse()
	if err != nil {
		return nil, fmt.Errorf("client: read reply to %s: %w", name, err)
	}
	if resp.IsError() {
		switch resp.ErrorKind {
		case "TransferError":
			return nil, errs.NewTransferError("%s", resp.ErrorMsg)
		default:
			return nil, errs.NewCommandError("%s: %s", resp.ErrorKind, resp.ErrorMsg)
		}
	}
	return resp.Result, nil
}

// BoardInfo mirrors the board_enumerate response shape.
type BoardInfo struct {
	ID           uint16
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	Serial       string
}

// Enumerate lists every probe the broker currently knows about.
func (c *Client) Enumerate() ([]BoardInfo, error) {
	result, err := c.command("board_enumerate", nil)
	if err != nil {
		return nil, err
	}
	raw, ok := result.([]interface{})
	if !ok {
		return nil, errs.NewCommandError("client: unexpected board_enumerate reply")
	}
	boards := make([]BoardInfo, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		boards = append(boards, BoardInfo{
			ID:           uint16(obj["id"].(float64)),
			VendorID:     uint16(obj["vendor_id"].(float64)),
			ProductID:    uint16(obj["product_id"].(float64)),
			Manufacturer: obj["manufacturer"].(string),
			Product:      obj["product"].(string),
			Serial:       obj["serial"].(string),
		})
	}
	return boards, nil
}

// Board is a selected probe bound either to this Client's own connection
// (Attach) or to an independent connection opened just for it
// (Dedicated).
type Board struct {
	client    *Client
	ownsConn  bool
	id        uint16
}

// Attach selects id on this Client's existing connection. The returned
// Board shares the connection: closing it deselects but does not close
// the connection underneath other Board handles drawn from the same
// Client.
func (c *Client) Attach(id uint16) (*Board, error) {
	if _, err := c.command("board_select", map[string]interface{}{"id": id}); err != nil {
		return nil, err
	}
	return &Board{client: c, id: id}, nil
}

// Dedicated opens a brand-new connection to the same broker and selects
// id on it, so the returned Board can be driven concurrently with the
// Client it was created from.
func (c *Client) Dedicated(id uint16) (*Board, error) {
	dedicated, err := Init(Config{Address: c.cfg.Address})
	if err != nil {
		return nil, err
	}
	if _, err := dedicated.command("board_select", map[string]interface{}{"id": id}); err != nil {
		dedicated.Close()
		return nil, err
	}
	return &Board{client: dedicated, ownsConn: true, id: id}, nil
}

// ID returns the probe id this Board was selected for.
func (b *Board) ID() uint16 { return b.id }

// Command issues a raw wire command against this board's connection,
// for callers that want direct access to the full command set beyond
// the typed helpers below.
func (b *Board) Command(name string, args map[string]interface{}) (interface{}, error) {
	return b.client.command(name, args)
}

// Init brings up the debug port in the given mode ("swd" or "jtag") at
// frequencyHz.
func (b *Board) Init(mode string, frequencyHz uint32) error {
	_, err := b.Command("dap_init", map[string]interface{}{"mode": mode, "frequency_hz": frequencyHz})
	return err
}

// Uninit releases the debug port.
func (b *Board) Uninit() error {
	_, err := b.Command("dap_uninit", nil)
	return err
}

// ReadMem32 reads one 32-bit word from target memory.
func (b *Board) ReadMem32(addr uint32) (uint32, error) {
	result, err := b.Command("read_32", map[string]interface{}{"addr": addr})
	if err != nil {
		return 0, err
	}
	return firstWord(result)
}

// WriteMem32 writes one 32-bit word to target memory.
func (b *Board) WriteMem32(addr, value uint32) error {
	_, err := b.Command("write_32", map[string]interface{}{"addr": addr, "value": value})
	return err
}

func firstWord(result interface{}) (uint32, error) {
	words, ok := result.([]interface{})
	if !ok || len(words) == 0 {
		return 0, errs.NewCommandError("client: expected at least one result word")
	}
	f, ok := words[0].(float64)
	if !ok {
		return 0, errs.NewCommandError("client: result word is not a number")
	}
	return uint32(f), nil
}

// Close deselects the board, and if this Board owns a dedicated
// connection, closes it too.
func (b *Board) Close() error {
	_, err := b.client.command("board_deselect", nil)
	if b.ownsConn {
		if closeErr := b.client.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

