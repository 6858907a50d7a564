package selection

import (
	"testing"

	"github.com/otj-daplink/daplinkd/pkg/hidtransport"
)

type fakeOwner struct{ alive bool }

func (f *fakeOwner) Alive() bool { return f.alive }

func TestEnumerateAssignsStableIDs(t *testing.T) {
	r := New()
	p1 := hidtransport.Probe{Path: "/dev/hid0"}
	p2 := hidtransport.Probe{Path: "/dev/hid1"}

	first := r.Enumerate([]hidtransport.Probe{p1, p2})
	if len(first) != 2 {
		t.Fatalf("got %d ids, want 2", len(first))
	}

	var id1 uint16
	for id, p := range first {
		if p.Path == p1.Path {
			id1 = id
		}
	}

	// Re-enumerating with the same probes must return the same ids.
	second := r.Enumerate([]hidtransport.Probe{p1, p2})
	if second[id1].Path != p1.Path {
		t.Fatalf("id %d reassigned to a different probe on re-enumerate", id1)
	}
}

func TestEnumerateAssignsLowestFreeIDs(t *testing.T) {
	r := New()
	probes := []hidtransport.Probe{{Path: "a"}, {Path: "b"}, {Path: "c"}}
	ids := r.Enumerate(probes)
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}
	for _, want := range []uint16{1, 2, 3} {
		if _, ok := ids[want]; !ok {
			t.Fatalf("ids = %v, want 1, 2 and 3", ids)
		}
	}
}

func TestSelectRejectsUnknownID(t *testing.T) {
	r := New()
	if _, err := r.Select(99, &fakeOwner{alive: true}); err == nil {
		t.Fatal("expected error selecting an unknown id")
	}
}

func TestSelectRejectsLiveOwner(t *testing.T) {
	r := New()
	r.Enumerate([]hidtransport.Probe{{Path: "a"}})
	var id uint16
	for i := range r.byID {
		id = i
	}

	owner1 := &fakeOwner{alive: true}
	if _, err := r.Select(id, owner1); err != nil {
		t.Fatalf("Select: %v", err)
	}
	owner2 := &fakeOwner{alive: true}
	if _, err := r.Select(id, owner2); err == nil {
		t.Fatal("expected error selecting an id already owned by a live session")
	}
}

func TestSelectReclaimsFromDeadOwner(t *testing.T) {
	r := New()
	r.Enumerate([]hidtransport.Probe{{Path: "a"}})
	var id uint16
	for i := range r.byID {
		id = i
	}

	owner1 := &fakeOwner{alive: true}
	if _, err := r.Select(id, owner1); err != nil {
		t.Fatalf("Select: %v", err)
	}
	owner1.alive = false

	owner2 := &fakeOwner{alive: true}
	if _, err := r.Select(id, owner2); err != nil {
		t.Fatalf("Select should reclaim from a dead owner: %v", err)
	}
}

func TestDeselectIsIdempotent(t *testing.T) {
	r := New()
	r.Enumerate([]hidtransport.Probe{{Path: "a"}})
	var id uint16
	for i := range r.byID {
		id = i
	}
	owner := &fakeOwner{alive: true}
	r.Select(id, owner)
	r.Deselect(id, owner)
	r.Deselect(id, owner) // no panic, no error return to check
	if r.Owned(id) {
		t.Fatal("expected id to be unowned after Deselect")
	}
}
