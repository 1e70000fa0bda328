package fdt

import (
	"crypto/rand"
	"strconv"
)

// CPU describes one hart for Build's cpus node.
type CPU struct {
	ISA     string // e.g. "rv64imafdc", from csr.File.ISAString()
	MMUType string // e.g. "riscv,sv39"
}

// Params is everything Build needs to render the root/chosen/memory/cpus
// tree spec.md §6's FDT paragraph describes. Concrete MMIO device nodes
// under "soc" are appended by the caller via the returned root's SoC
// child, since device models are out of this package's scope.
type Params struct {
	Model      string
	Compatible string
	MemBase    uint64
	MemSize    uint64
	Bootargs   string
	CPUs       []CPU
}

// Build renders the root/chosen/memory/cpus nodes and returns both the
// root (for Size/Serialize) and the "soc" node (for the caller to attach
// MMIO device nodes to, per spec.md's "soc child node... contains all
// MMIO device nodes added by attached devices").
func Build(p Params) (root, soc *Node, err error) {
	root = NewRoot("")
	root.AddPropU32("#address-cells", 2)
	root.AddPropU32("#size-cells", 2)
	if p.Model != "" {
		root.AddPropString("model", p.Model)
	}
	if p.Compatible != "" {
		root.AddPropString("compatible", p.Compatible)
	}

	chosen := root.AddChild("chosen")
	seed := make([]byte, 64)
	if _, err := rand.Read(seed); err != nil {
		return nil, nil, err
	}
	chosen.AddProp("rng-seed", seed)
	chosen.AddPropString("bootargs", p.Bootargs)

	mem := root.AddChild(memoryNodeName(p.MemBase))
	mem.AddPropString("device_type", "memory")
	mem.AddPropCells("reg", cells64(p.MemBase, p.MemSize))

	cpus := root.AddChild("cpus")
	cpus.AddPropU32("#address-cells", 1)
	cpus.AddPropU32("#size-cells", 0)
	for i, c := range p.CPUs {
		cpu := cpus.AddChild(cpuNodeName(i))
		cpu.AddPropString("device_type", "cpu")
		cpu.AddPropU32("reg", uint32(i))
		cpu.AddPropString("status", "okay")
		cpu.AddPropString("compatible", "riscv")
		cpu.AddPropString("riscv,isa", c.ISA)
		if c.MMUType != "" {
			cpu.AddPropString("mmu-type", c.MMUType)
		}
		intc := cpu.AddChild("interrupt-controller")
		intc.AddPropU32("#interrupt-cells", 1)
		intc.AddPropEmpty("interrupt-controller")
		intc.AddPropString("compatible", "riscv,cpu-intc")
		intc.AllocPhandle()
	}

	soc = root.AddChild("soc")
	soc.AddPropU32("#address-cells", 2)
	soc.AddPropU32("#size-cells", 2)
	soc.AddPropStringList("compatible", []string{"simple-bus"})
	soc.AddPropEmpty("ranges")

	return root, soc, nil
}

func cells64(vals ...uint64) []uint32 {
	out := make([]uint32, 0, len(vals)*2)
	for _, v := range vals {
		out = append(out, uint32(v>>32), uint32(v))
	}
	return out
}

func memoryNodeName(base uint64) string {
	return "memory@" + strconv.FormatUint(base, 16)
}

func cpuNodeName(i int) string {
	return "cpu@" + strconv.FormatUint(uint64(i), 16)
}
