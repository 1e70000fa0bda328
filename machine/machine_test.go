package machine

import (
	"testing"

	"github.com/rcornwell/rvvm/mmio"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := New(0x80000000, 0x100000, 1, 64, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Free)
	return m
}

func TestReadWriteRAMRoundTrip(t *testing.T) {
	m := newTestMachine(t)
	want := []byte{1, 2, 3, 4}
	if !m.WriteRAM(0x80000000, want) {
		t.Fatal("WriteRAM failed")
	}
	got := make([]byte, 4)
	if !m.ReadRAM(0x80000000, got) {
		t.Fatal("ReadRAM failed")
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestReadWriteRAMOutOfBounds(t *testing.T) {
	m := newTestMachine(t)
	buf := make([]byte, 4)
	if m.ReadRAM(0x7FFFFFFC, buf) {
		t.Fatal("expected failure reading below RAM base")
	}
	if m.WriteRAM(m.MemBase()+m.MemSize()-2, buf) {
		t.Fatal("expected failure writing past RAM end")
	}
}

func TestReadWritePTERoundTrip(t *testing.T) {
	m := newTestMachine(t)
	if !m.WritePTE(0x80001000, 8, 0xDEADBEEFCAFEBABE) {
		t.Fatal("WritePTE failed")
	}
	v, ok := m.ReadPTE(0x80001000, 8)
	if !ok {
		t.Fatal("ReadPTE failed")
	}
	if v != 0xDEADBEEFCAFEBABE {
		t.Fatalf("pte = %#x, want 0xDEADBEEFCAFEBABE", v)
	}
}

func TestRAMPageReturnsContainingPage(t *testing.T) {
	m := newTestMachine(t)
	m.WriteRAM(0x80000010, []byte{0x55})
	host, ok := m.RAMPage(0x80000010)
	if !ok {
		t.Fatal("expected RAMPage hit")
	}
	if host[0x10] != 0x55 {
		t.Fatalf("page byte = %#x, want 0x55", host[0x10])
	}
}

type fakeDevice struct {
	reads, writes, updates, resets, removes int
	backing                                 [16]byte
}

func (d *fakeDevice) Read(region *mmio.Region, dst []byte, offset uint64, size int) bool {
	d.reads++
	copy(dst, d.backing[offset:offset+uint64(size)])
	return true
}

func (d *fakeDevice) Write(region *mmio.Region, src []byte, offset uint64, size int) bool {
	d.writes++
	copy(d.backing[offset:offset+uint64(size)], src)
	return true
}

func (d *fakeDevice) Reset(region *mmio.Region)  { d.resets++ }
func (d *fakeDevice) Remove(region *mmio.Region) { d.removes++ }
func (d *fakeDevice) Update(region *mmio.Region) { d.updates++ }

func TestAttachDetachMMIOZoneReuse(t *testing.T) {
	m := newTestMachine(t)
	dev := &fakeDevice{}
	r := &mmio.Region{Base: 0x10000000, Size: 0x100, MinOpSize: 1, MaxOpSize: 4, Dev: dev}

	if err := m.AttachMMIO(r); err != nil {
		t.Fatalf("AttachMMIO: %v", err)
	}
	if got, ok := m.GetMMIO(0x10000010); !ok || got != r {
		t.Fatal("expected GetMMIO to find the attached region")
	}

	m.DetachMMIO(r)
	if dev.removes != 1 {
		t.Fatalf("removes = %d, want 1", dev.removes)
	}
	if _, ok := m.GetMMIO(0x10000010); ok {
		t.Fatal("expected region gone after detach")
	}

	zone := m.MMIOZoneAuto(0x10000000, 0x100)
	if zone != 0x10000000 {
		t.Fatalf("zone = %#x, want reused base 0x10000000", zone)
	}
}

func TestAttachMMIORejectsRAMOverlap(t *testing.T) {
	m := newTestMachine(t)
	r := &mmio.Region{Base: m.MemBase(), Size: 0x100}
	if err := m.AttachMMIO(r); err != ErrZoneCollision {
		t.Fatalf("err = %v, want ErrZoneCollision", err)
	}
}

func TestAttachMMIORejectsOverlap(t *testing.T) {
	m := newTestMachine(t)
	a := &mmio.Region{Base: 0x20000000, Size: 0x1000}
	b := &mmio.Region{Base: 0x20000800, Size: 0x1000}
	if err := m.AttachMMIO(a); err != nil {
		t.Fatalf("AttachMMIO(a): %v", err)
	}
	if err := m.AttachMMIO(b); err != ErrZoneCollision {
		t.Fatalf("err = %v, want ErrZoneCollision", err)
	}
}

func TestMMIOAccessDirectMapping(t *testing.T) {
	m := newTestMachine(t)
	mapping := make([]byte, 0x1000)
	r := &mmio.Region{Base: 0x30000000, Size: 0x1000, Mapping: mapping}
	if err := m.AttachMMIO(r); err != nil {
		t.Fatalf("AttachMMIO: %v", err)
	}
	if _, ok := m.MMIOPage(0x30000010); !ok {
		t.Fatal("expected MMIOPage hit on direct-mapped region")
	}

	buf := []byte{0xAA, 0xBB}
	if !m.MMIOAccess(0x30000020, buf, true) {
		t.Fatal("MMIOAccess write failed")
	}
	if mapping[0x20] != 0xAA || mapping[0x21] != 0xBB {
		t.Fatal("direct mapping was not updated")
	}
}

func TestMMIOAccessCallbackRMW(t *testing.T) {
	m := newTestMachine(t)
	dev := &fakeDevice{}
	r := &mmio.Region{Base: 0x40000000, Size: 0x100, MinOpSize: 1, MaxOpSize: 4, Dev: dev}
	if err := m.AttachMMIO(r); err != nil {
		t.Fatalf("AttachMMIO: %v", err)
	}

	// A 4-byte store at offset 2 is not aligned to its own size, so the
	// region's declared max op size (4) forces an aligned RMW: read
	// [0,4), merge in the two bytes that land in [2,4), write [0,4).
	buf := []byte{0x11, 0x22, 0x33, 0x44}
	if !m.MMIOAccess(0x40000002, buf, true) {
		t.Fatal("MMIOAccess write failed")
	}
	if dev.reads != 1 || dev.writes != 1 {
		t.Fatalf("reads=%d writes=%d, want 1/1 for an RMW", dev.reads, dev.writes)
	}
	if dev.backing[2] != 0x11 || dev.backing[3] != 0x22 {
		t.Fatal("RMW did not merge bytes at the right offset")
	}
}
