package vma

import "testing"

func TestAllocRoundsUpToPage(t *testing.T) {
	r, err := Alloc(1, ProtRead|ProtWrite, 0)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer r.Free()

	if len(r.Bytes())%4096 != 0 {
		t.Fatalf("len = %d, not page-aligned", len(r.Bytes()))
	}
	if len(r.Bytes()) == 0 {
		t.Fatal("allocated zero bytes")
	}
}

func TestAllocZeroSizeFails(t *testing.T) {
	if _, err := Alloc(0, ProtRead, 0); err == nil {
		t.Fatal("expected error allocating zero bytes")
	}
}

func TestRegionReadWrite(t *testing.T) {
	r, err := Alloc(4096, ProtRead|ProtWrite, 0)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer r.Free()

	r.Bytes()[10] = 0x55
	if r.Bytes()[10] != 0x55 {
		t.Fatal("write did not stick")
	}
}

func TestCleanZeroesRegion(t *testing.T) {
	r, err := Alloc(4096, ProtRead|ProtWrite, 0)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer r.Free()

	r.Bytes()[0] = 0xFF
	r.Clean()
	if r.Bytes()[0] != 0 {
		t.Fatal("Clean left nonzero bytes")
	}
}

func TestProtectNarrowsToReadOnly(t *testing.T) {
	r, err := Alloc(4096, ProtRead|ProtWrite, 0)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer r.Free()

	if err := r.Protect(ProtRead); err != nil {
		t.Fatalf("Protect: %v", err)
	}
}

func TestFreeIsIdempotent(t *testing.T) {
	r, err := Alloc(4096, ProtRead, 0)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := r.Free(); err != nil {
		t.Fatalf("first Free: %v", err)
	}
	if err := r.Free(); err != nil {
		t.Fatalf("second Free: %v", err)
	}
}
