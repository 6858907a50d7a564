package hidtransport

import "testing"

func TestProbeEqualByPath(t *testing.T) {
	a := Probe{VID: 0x0d28, PID: 0x0204, Path: "/dev/hidraw0", Serial: "1"}
	b := Probe{VID: 0x0d28, PID: 0x0204, Path: "/dev/hidraw0", Serial: "2"}
	if !a.Equal(b) {
		t.Fatal("probes at the same path should be equal regardless of other fields")
	}

	c := Probe{VID: 0x0d28, PID: 0x0204, Path: "/dev/hidraw1"}
	if a.Equal(c) {
		t.Fatal("probes at different paths should not be equal")
	}
}
