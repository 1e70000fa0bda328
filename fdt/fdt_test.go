package fdt

import "testing"

func TestSizeMatchesSerializeWhenRoomIsSufficient(t *testing.T) {
	root, soc, err := Build(Params{
		Model:      "rvvm,virt",
		Compatible: "rvvm,virt",
		MemBase:    0x80000000,
		MemSize:    0x8000000,
		Bootargs:   "console=ttyS0",
		CPUs:       []CPU{{ISA: "rv64imafdc", MMUType: "riscv,sv39"}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_ = soc

	want := Size(root)
	buf := make([]byte, want)
	got, err := Serialize(root, buf, want, 0)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if got != want {
		t.Fatalf("Serialize returned %d, Size returned %d", got, want)
	}
}

func TestSerializeReportsRequiredSizeWithoutWritingWhenTooSmall(t *testing.T) {
	root, _, err := Build(Params{MemBase: 0x80000000, MemSize: 0x1000000, Bootargs: "quiet"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	need := Size(root)
	got, err := Serialize(root, make([]byte, need), need-1, 0)
	if err != nil {
		t.Fatalf("Serialize with a query-mode size should not error: %v", err)
	}
	if got != need {
		t.Fatalf("Serialize = %d, want %d", got, need)
	}
}

func TestBootargsRoundTripThroughSerializedBlob(t *testing.T) {
	const cmdline = "console=ttyS0 root=/dev/vda rw"
	root, _, err := Build(Params{
		MemBase:  0x80000000,
		MemSize:  0x4000000,
		Bootargs: cmdline,
		CPUs:     []CPU{{ISA: "rv64imafdc"}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	size := Size(root)
	buf := make([]byte, size)
	if _, err := Serialize(root, buf, size, 0); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := GetBootargsFromFDT(buf)
	if err != nil {
		t.Fatalf("GetBootargsFromFDT: %v", err)
	}
	if got != cmdline {
		t.Fatalf("bootargs = %q, want %q", got, cmdline)
	}
}

func TestSerializedBlobStartsWithMagic(t *testing.T) {
	root, _, err := Build(Params{MemBase: 0x80000000, MemSize: 0x1000, Bootargs: ""})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	size := Size(root)
	buf := make([]byte, size)
	if _, err := Serialize(root, buf, size, 0); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if buf[0] != 0xd0 || buf[1] != 0x0d || buf[2] != 0xfe || buf[3] != 0xed {
		t.Fatalf("blob does not start with the FDT magic, got % x", buf[0:4])
	}
}

func TestPhandleAllocationIsUniquePerRoot(t *testing.T) {
	root := NewRoot("")
	a := root.AddChild("a")
	b := root.AddChild("b")
	pa := a.AllocPhandle()
	pb := b.AllocPhandle()
	if pa == pb {
		t.Fatalf("expected distinct phandles, got %d and %d", pa, pb)
	}
	if pa == 0 || pb == 0 {
		t.Fatalf("phandle 0 is reserved, got %d and %d", pa, pb)
	}
}

func TestMultiHartFDTGetsOneCPUNodePerHart(t *testing.T) {
	root, _, err := Build(Params{
		MemBase: 0x80000000,
		MemSize: 0x1000000,
		CPUs: []CPU{
			{ISA: "rv64imafdc"},
			{ISA: "rv64imafdc"},
			{ISA: "rv64imafdc"},
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var cpus *Node
	for _, c := range root.children {
		if c.Name == "cpus" {
			cpus = c
		}
	}
	if cpus == nil {
		t.Fatal("no cpus node")
	}
	if len(cpus.children) != 3 {
		t.Fatalf("cpus has %d children, want 3", len(cpus.children))
	}
}
