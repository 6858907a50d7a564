// Package hidtransport implements the fixed-size 64-byte HID IN/OUT
// exchange with a CMSIS-DAP probe identified by (VID, PID, path), plus
// USB descriptor classification used to identify candidate devices
// before a HID handle is opened.
package hidtransport

import (
	"fmt"
	"time"

	"github.com/cesanta/hid"
	"github.com/google/gousb"
)

const (
	// ReportSize is the CMSIS-DAP v1 HID report payload size.
	ReportSize = 64
)

// Probe is the immutable identity of a discovered CMSIS-DAP HID device,
// plus the descriptive strings the broker surfaces via board_info.
// Equality is by HID path so replugging the same port survives across
// enumerate() calls.
type Probe struct {
	VID          uint16
	PID          uint16
	Path         string
	Manufacturer string
	Product      string
	Serial       string
}

// Equal compares probes by HID path.
func (p Probe) Equal(other Probe) bool {
	return p.Path == other.Path
}

// Device is the live, opened handle to a probe. It is blocking: a caller
// must impose its own request/response ordering.
type Device interface {
	Write(data []byte) error
	Read(timeout time.Duration) ([]byte, error)
	Close() error
}

// Enumerate lists every connected HID device matching (vid, pid).
func Enumerate(vid, pid uint16) ([]Probe, error) {
	infos, err := hid.Devices()
	if err != nil {
		return nil, fmt.Errorf("hidtransport: enumerate: %w", err)
	}

	var probes []Probe
	for _, di := range infos {
		if di.VendorID != vid || di.ProductID != pid {
			continue
		}
		probes = append(probes, Probe{
			VID:          di.VendorID,
			PID:          di.ProductID,
			Path:         di.Path,
			Manufacturer: di.Manufacturer,
			Product:      di.Product,
			Serial:       di.Serial,
		})
	}
	return probes, nil
}

// Open claims the HID device at the given path for exclusive use.
func Open(p Probe) (Device, error) {
	infos, err := hid.Devices()
	if err != nil {
		return nil, fmt.Errorf("hidtransport: open %s: %w", p.Path, err)
	}
	for _, di := range infos {
		if di.Path != p.Path {
			continue
		}
		d, err := di.Open()
		if err != nil {
			return nil, fmt.Errorf("hidtransport: open %s: %w", p.Path, err)
		}
		return &hidDevice{d: d}, nil
	}
	return nil, fmt.Errorf("hidtransport: probe %s no longer present", p.Path)
}

// hidDevice adapts github.com/cesanta/hid's channel-based reads to the
// blocking Read(timeout) contract a report-based transport requires.
type hidDevice struct {
	d hid.Device
}

// Write pads the command to ReportSize payload bytes and prepends the
// leading report-id byte of 0.
func (h *hidDevice) Write(data []byte) error {
	packet := make([]byte, 1+ReportSize)
	copy(packet[1:], data)
	return h.d.Write(packet)
}

func (h *hidDevice) Read(timeout time.Duration) ([]byte, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}
	select {
	case resp, ok := <-h.d.ReadCh():
		if !ok {
			return nil, fmt.Errorf("hidtransport: read failed: %w", h.d.ReadError())
		}
		return resp, nil
	case <-timeoutCh:
		return nil, fmt.Errorf("hidtransport: read timed out after %s", timeout)
	}
}

func (h *hidDevice) Close() error {
	return h.d.Close()
}

// EnumerateKnown lists every connected HID device matching one of the
// known CMSIS-DAP VID/PID pairs below, used by board_enumerate so the
// broker never has to be told which adapters exist in advance.
func EnumerateKnown() ([]Probe, error) {
	var all []Probe
	for _, known := range knownProbes {
		probes, err := Enumerate(known.VID, known.PID)
		if err != nil {
			return nil, err
		}
		all = append(all, probes...)
	}
	return all, nil
}

// KnownProbe names a CMSIS-DAP adapter family by its VID/PID, used by the
// `daplink interfaces` CLI to classify raw USB devices before a HID open
// is attempted.
type KnownProbe struct {
	VID         uint16
	PID         uint16
	Description string
}

var knownProbes = []KnownProbe{
	{VID: 0x0d28, PID: 0x0204, Description: "DAPLink CMSIS-DAP"},
	{VID: 0x1366, PID: 0x0101, Description: "SEGGER J-Link CMSIS-DAP"},
	{VID: 0x2e8a, PID: 0x000c, Description: "Raspberry Pi Pico CMSIS-DAP (PicoProbe)"},
}

// ClassifyUSBDevices uses gousb's descriptor enumeration (no exclusive
// claim) to list candidate CMSIS-DAP adapters by VID/PID before a client
// opens one of them for real via the HID path above.
func ClassifyUSBDevices() ([]KnownProbe, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var found []KnownProbe
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		for _, known := range knownProbes {
			if uint16(desc.Vendor) == known.VID && uint16(desc.Product) == known.PID {
				found = append(found, known)
			}
		}
		return false
	})
	if err != nil && err != gousb.ErrorAccess {
		return found, err
	}
	return found, nil
}
