package mmio

import "testing"

func TestRegionContains(t *testing.T) {
	r := &Region{Base: 0x1000, Size: 0x100}
	if !r.Contains(0x1000, 4) {
		t.Fatal("expected start of region to be contained")
	}
	if !r.Contains(0x10FC, 4) {
		t.Fatal("expected end of region to be contained")
	}
	if r.Contains(0x10FD, 4) {
		t.Fatal("access crossing region end must not be contained")
	}
	if r.Contains(0x0FFC, 4) {
		t.Fatal("access before region start must not be contained")
	}
}

func TestRegionContainsZeroSize(t *testing.T) {
	r := Placeholder(0x2000)
	if r.Contains(0x2000, 1) {
		t.Fatal("a zero-size placeholder must never contain an access")
	}
}

func TestRegionCoversPage(t *testing.T) {
	r := &Region{Base: 0x1000, Size: 0x1000}
	if !r.CoversPage(0x1050, 0x1000) {
		t.Fatal("expected region to cover its own page")
	}
	small := &Region{Base: 0x1000, Size: 0x10}
	if small.CoversPage(0x1000, 0x1000) {
		t.Fatal("a region smaller than a page must not cover the page")
	}
}

func TestNormalizeRoundsToPowerOfTwo(t *testing.T) {
	r := &Region{MinOpSize: 3, MaxOpSize: 5}
	r.Normalize()
	if r.MinOpSize != 4 {
		t.Fatalf("MinOpSize = %d, want 4", r.MinOpSize)
	}
	if r.MaxOpSize != 8 {
		t.Fatalf("MaxOpSize = %d, want 8", r.MaxOpSize)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	r := &Region{}
	r.Normalize()
	if r.MinOpSize != 1 || r.MaxOpSize != 8 {
		t.Fatalf("defaults = [%d,%d], want [1,8]", r.MinOpSize, r.MaxOpSize)
	}
}

func TestNormalizeClampsMinAboveMax(t *testing.T) {
	r := &Region{MinOpSize: 8, MaxOpSize: 2}
	r.Normalize()
	if r.MinOpSize > r.MaxOpSize {
		t.Fatalf("min %d > max %d after normalize", r.MinOpSize, r.MaxOpSize)
	}
}
