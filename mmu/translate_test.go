package mmu

import "testing"

// fakeMem is a flat byte array addressed by guest physical address,
// standing in for the machine package's RAM during page-table walks.
type fakeMem struct {
	buf []byte
}

func newFakeMem(size int) *fakeMem { return &fakeMem{buf: make([]byte, size)} }

func (m *fakeMem) ReadPTE(addr uint64, size int) (uint64, bool) {
	if int(addr)+size > len(m.buf) {
		return 0, false
	}
	return DecodePTE(m.buf[addr:addr+uint64(size)], size), true
}

func (m *fakeMem) WritePTE(addr uint64, size int, value uint64) bool {
	if int(addr)+size > len(m.buf) {
		return false
	}
	if size == 4 {
		putLE32(m.buf[addr:], uint32(value))
	} else {
		putLE64(m.buf[addr:], value)
	}
	return true
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// setPTE64 writes an Sv39/48/57-shaped PTE at the given table physical
// address and index.
func setPTE64(m *fakeMem, tableBase uint64, idx uint64, pte uint64) {
	m.WritePTE(tableBase+idx*8, 8, pte)
}

func TestTranslateBarePassthrough(t *testing.T) {
	m := newFakeMem(4096)
	paddr, fault := Translate(m, 0, 64, 0, 0xDEADBEEF, AccessRead, false, false)
	if fault != FaultNone {
		t.Fatalf("bare mode faulted: %v", fault)
	}
	if paddr != 0xDEADBEEF {
		t.Fatalf("paddr = %#x, want identity", paddr)
	}
}

// sv39Fixture builds a two-level walk (root -> mid) terminating in a 2MiB
// superpage leaf at the mid level, for vaddr 0. dataPage must already be
// 2MiB-aligned so the misaligned-superpage check passes.
func sv39Fixture(dataPage uint64, extraLeafBits uint64) (*fakeMem, uint64) {
	m := newFakeMem(2 * PageSize)
	rootBase := uint64(0)
	midTableBase := uint64(PageSize)

	setPTE64(m, rootBase, 0, (midTableBase>>12)<<10|pteV)
	leafPTE := (dataPage>>12)<<10 | pteV | extraLeafBits
	setPTE64(m, midTableBase, 0, leafPTE)

	satp := uint64(8) << 60 // Sv39, root PPN 0
	return m, satp
}

func TestTranslateSv39SuperpageLeaf(t *testing.T) {
	dataPage := uint64(0x200000) // 2MiB-aligned
	m, satp := sv39Fixture(dataPage, pteR|pteW|pteU)

	paddr, fault := Translate(m, satp, 64, 0, 0, AccessRead, false, false)
	if fault != FaultNone {
		t.Fatalf("unexpected fault: %v", fault)
	}
	if paddr != dataPage {
		t.Fatalf("paddr = %#x, want %#x", paddr, dataPage)
	}
}

func TestTranslateMisalignedSuperpageFaults(t *testing.T) {
	// Not 2MiB-aligned: low bits of the PPN field must be zero for a
	// level-1 leaf and are not here.
	dataPage := uint64(0x201000)
	m, satp := sv39Fixture(dataPage, pteR|pteW|pteU)

	_, fault := Translate(m, satp, 64, 0, 0, AccessRead, false, false)
	if fault != FaultPage {
		t.Fatalf("fault = %v, want FaultPage (misaligned superpage)", fault)
	}
}

func TestTranslateInvalidPTEPageFaults(t *testing.T) {
	m := newFakeMem(PageSize)
	satp := uint64(8) << 60 // Sv39, root at physical 0, all-zero (V=0)

	_, fault := Translate(m, satp, 64, 0, 0x1000, AccessRead, false, false)
	if fault != FaultPage {
		t.Fatalf("fault = %v, want FaultPage", fault)
	}
}

func TestTranslateSetsAccessedAndDirtyBits(t *testing.T) {
	dataPage := uint64(0x200000)
	m, satp := sv39Fixture(dataPage, pteR|pteW|pteU)

	_, fault := Translate(m, satp, 64, 0, 0, AccessWrite, false, false)
	if fault != FaultNone {
		t.Fatalf("unexpected fault: %v", fault)
	}

	midTableBase := uint64(PageSize)
	updated, _ := m.ReadPTE(midTableBase, 8)
	if updated&pteA == 0 {
		t.Fatal("accessed bit was not set")
	}
	if updated&pteD == 0 {
		t.Fatal("dirty bit was not set on a write access")
	}
}

func TestTranslateUserPageDeniedInSupervisorWithoutSUM(t *testing.T) {
	dataPage := uint64(0x200000)
	m, satp := sv39Fixture(dataPage, pteR|pteW|pteU)

	_, fault := Translate(m, satp, 64, 1 /* S */, 0, AccessRead, false, false)
	if fault != FaultPage {
		t.Fatalf("fault = %v, want FaultPage (SUM not set)", fault)
	}

	_, fault = Translate(m, satp, 64, 1, 0, AccessRead, false, true /* sum */)
	if fault != FaultNone {
		t.Fatalf("unexpected fault with SUM set: %v", fault)
	}
}

func TestTranslateMXRAllowsExecOnlyLeafForRead(t *testing.T) {
	dataPage := uint64(0x200000)
	m, satp := sv39Fixture(dataPage, pteX) // exec-only, no R

	_, fault := Translate(m, satp, 64, 1, 0, AccessRead, false, true)
	if fault != FaultPage {
		t.Fatalf("fault = %v, want FaultPage without MXR", fault)
	}

	_, fault = Translate(m, satp, 64, 1, 0, AccessRead, true /* mxr */, true)
	if fault != FaultNone {
		t.Fatalf("unexpected fault with MXR set: %v", fault)
	}
}
