package config

import (
	"strings"
	"testing"
)

func TestParsePositionalHartCountAndMemSize(t *testing.T) {
	cfg, err := Parse(strings.NewReader("4 256M\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.HartCount != 4 {
		t.Fatalf("HartCount = %d, want 4", cfg.HartCount)
	}
	if cfg.MemSize != 256<<20 {
		t.Fatalf("MemSize = %#x, want %#x", cfg.MemSize, 256<<20)
	}
}

func TestParseOptionLines(t *testing.T) {
	src := `# boot configuration
1 128M
bootrom=firmware.bin
kernel=vmlinux
dtb=guest.dtb
cmdline="console=ttyS0 root=/dev/vda"
jit=0
jit_cache=16M
jit_harvard=1
max_cpu_percent=75
reset_pc=0x80000000
hw_imitate=1
`
	cfg, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	switch {
	case cfg.Bootrom != "firmware.bin":
		t.Errorf("Bootrom = %q", cfg.Bootrom)
	case cfg.Kernel != "vmlinux":
		t.Errorf("Kernel = %q", cfg.Kernel)
	case cfg.DTB != "guest.dtb":
		t.Errorf("DTB = %q", cfg.DTB)
	case cfg.Cmdline != "console=ttyS0 root=/dev/vda":
		t.Errorf("Cmdline = %q", cfg.Cmdline)
	case cfg.JIT:
		t.Errorf("JIT = true, want false")
	case cfg.JITCache != 16<<20:
		t.Errorf("JITCache = %#x", cfg.JITCache)
	case !cfg.JITHarvard:
		t.Errorf("JITHarvard = false, want true")
	case cfg.MaxCPUPercent != 75:
		t.Errorf("MaxCPUPercent = %d", cfg.MaxCPUPercent)
	case cfg.ResetPC != 0x80000000:
		t.Errorf("ResetPC = %#x", cfg.ResetPC)
	case !cfg.HWImitate:
		t.Errorf("HWImitate = false, want true")
	}
}

func TestParseIgnoresCommentsAndBlankLines(t *testing.T) {
	cfg, err := Parse(strings.NewReader("# just a comment\n\n   \n2 64M # trailing comment\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.HartCount != 2 || cfg.MemSize != 64<<20 {
		t.Fatalf("got hart=%d mem=%#x", cfg.HartCount, cfg.MemSize)
	}
}

func TestParseRejectsUnknownOption(t *testing.T) {
	_, err := Parse(strings.NewReader("1 64M\nbogus_option=1\n"))
	if err == nil {
		t.Fatal("expected an error for an unrecognised option")
	}
}

func TestParseRejectsBadMaxCPUPercent(t *testing.T) {
	_, err := Parse(strings.NewReader("1 64M\nmax_cpu_percent=200\n"))
	if err == nil {
		t.Fatal("expected an error for max_cpu_percent out of [1,100]")
	}
}

func TestMaxCPUPercentDefaultsTo100(t *testing.T) {
	cfg, err := Parse(strings.NewReader("1 64M\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.MaxCPUPercent != 100 {
		t.Fatalf("MaxCPUPercent = %d, want 100", cfg.MaxCPUPercent)
	}
}

func TestLaterLinesOverrideEarlierOnesForTheSameOption(t *testing.T) {
	cfg, err := Parse(strings.NewReader("1 64M\ncmdline=first\ncmdline=second\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Cmdline != "second" {
		t.Fatalf("Cmdline = %q, want %q", cfg.Cmdline, "second")
	}
}
