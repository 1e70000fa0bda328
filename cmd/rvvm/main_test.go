package main

import (
	"testing"

	"github.com/rcornwell/rvvm/config"
)

func TestBootBuildsMachineAndHartsFromConfig(t *testing.T) {
	cfg := &config.Config{HartCount: 2, MemSize: 4 << 20, MaxCPUPercent: 100}
	m, harts, err := boot(cfg, nil)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	if len(harts) != 2 {
		t.Fatalf("len(harts) = %d, want 2", len(harts))
	}
	if m.MemSize() != 4<<20 {
		t.Fatalf("MemSize = %#x", m.MemSize())
	}
	m.RequestPowerOff()
	m.Free()
}

func TestBootSynthesizesADTBWhenNoneConfigured(t *testing.T) {
	cfg := &config.Config{HartCount: 1, MemSize: 4 << 20, MaxCPUPercent: 100}
	m, _, err := boot(cfg, nil)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	// The synthesized DTB is written to RAM by the reset pass, not
	// directly observable here without advancing the event loop, but
	// boot must at least succeed without a dtb= option or Bootrom/Kernel.
	m.RequestPowerOff()
	m.Free()
}

func TestAddrOrDefaultAddsColonToBarePort(t *testing.T) {
	if got := addrOrDefault("2323"); got != ":2323" {
		t.Fatalf("addrOrDefault(2323) = %q, want %q", got, ":2323")
	}
	if got := addrOrDefault("127.0.0.1:2323"); got != "127.0.0.1:2323" {
		t.Fatalf("addrOrDefault passthrough = %q", got)
	}
}
