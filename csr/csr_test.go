package csr

import "testing"

func TestNewResetState(t *testing.T) {
	f := New(64, 3)
	if f.HartID() != 3 {
		t.Fatalf("HartID = %d, want 3", f.HartID())
	}
	if f.XLEN() != 64 {
		t.Fatalf("XLEN = %d, want 64", f.XLEN())
	}
}

func TestMisaReportsIMAFDC(t *testing.T) {
	f := New(64, 0)
	misa, err := f.Read(Misa)
	if err != nil {
		t.Fatalf("Read(Misa): %v", err)
	}
	for _, c := range "IMAFDC" {
		bit := uint64(1) << uint(c-'A')
		if misa&bit == 0 {
			t.Fatalf("misa missing extension %c: %#x", c, misa)
		}
	}
	if misa>>62 != 2 {
		t.Fatalf("misa MXL = %d, want 2 for RV64", misa>>62)
	}
}

func TestMstatusWARLMasking(t *testing.T) {
	f := New(64, 0)
	// Attempt to set every bit; only MstatusMask bits (plus FS) should
	// stick.
	if err := f.Write(Mstatus, OpSwap, ^uint64(0)); err != nil {
		t.Fatalf("Write(Mstatus): %v", err)
	}
	got, _ := f.Read(Mstatus)
	if got&^(MstatusMask) != 0 {
		t.Fatalf("mstatus has bits outside WARL mask: %#x", got)
	}
}

func TestReadOnlyCSRsRejectWrites(t *testing.T) {
	f := New(64, 0)
	for _, id := range []int{Mhartid, Cycle, Time, Instret} {
		if err := f.Write(id, OpSwap, 1); err != ErrIllegal {
			t.Fatalf("Write(%#x) = %v, want ErrIllegal", id, err)
		}
	}
}

func TestCyclehIllegalOnRV64(t *testing.T) {
	f := New(64, 0)
	if _, err := f.Read(Cycleh); err != ErrIllegal {
		t.Fatalf("Read(Cycleh) on RV64 = %v, want ErrIllegal", err)
	}
}

func TestCyclehLegalOnRV32(t *testing.T) {
	f := New(32, 0)
	f.AdvanceCounters(1) // ensure cycle has a nonzero high word eventually
	if _, err := f.Read(Cycleh); err != nil {
		t.Fatalf("Read(Cycleh) on RV32: %v", err)
	}
}

func TestMipOrAndAreAtomicSafe(t *testing.T) {
	f := New(64, 0)
	f.OrIP(1 << IrqMTI)
	if f.MIP()&(1<<IrqMTI) == 0 {
		t.Fatal("OrIP did not set the bit")
	}
	f.AndIP(^uint64(1 << IrqMTI))
	if f.MIP()&(1<<IrqMTI) != 0 {
		t.Fatal("AndIP did not clear the bit")
	}
}

func TestSeedIllegalWithoutSSEED(t *testing.T) {
	f := New(64, 0)
	if _, err := f.Read(Seed); err != ErrIllegal {
		t.Fatalf("Read(Seed) without SSEED = %v, want ErrIllegal", err)
	}
	if err := f.Write(Mseccfg, OpSet, 0x1); err != nil {
		t.Fatalf("Write(Mseccfg): %v", err)
	}
	if _, err := f.Read(Seed); err != nil {
		t.Fatalf("Read(Seed) with SSEED set: %v", err)
	}
}

func TestStubbedPMPAcceptsAndIgnoresWrites(t *testing.T) {
	f := New(64, 0)
	if err := f.Write(0x3A0, OpSwap, 0xFF); err != nil {
		t.Fatalf("Write(pmpcfg0): %v", err)
	}
	v, err := f.Read(0x3A0)
	if err != nil {
		t.Fatalf("Read(pmpcfg0): %v", err)
	}
	if v != 0 {
		t.Fatalf("pmpcfg0 = %#x, want 0 (stubbed)", v)
	}
}

func TestMinPrivForAndReadOnly(t *testing.T) {
	if MinPrivFor(Sstatus) != S {
		t.Fatalf("MinPrivFor(Sstatus) = %d, want S", MinPrivFor(Sstatus))
	}
	if MinPrivFor(Mstatus) != M {
		t.Fatalf("MinPrivFor(Mstatus) = %d, want M", MinPrivFor(Mstatus))
	}
	if !ReadOnly(Cycle) {
		t.Fatal("Cycle should be read-only by address encoding")
	}
	if ReadOnly(Mstatus) {
		t.Fatal("Mstatus should not be read-only by address encoding")
	}
}
