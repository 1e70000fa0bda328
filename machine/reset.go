package machine

// kernelOffset is the guest-physical offset of the kernel image relative
// to mem_base, per spec.md §6: 0x200000 on RV64, 0x400000 on RV32.
func (m *Machine) kernelOffset() uint64 {
	if m.xlen == 32 {
		return 0x400000
	}
	return 0x200000
}

// ResetImage describes where reset should place bootrom/kernel/DTB and
// where each hart should start executing. It is computed once by
// buildResetImage and handed to every hart's Reset call.
type ResetImage struct {
	PC      uint64
	DTBAddr uint64
}

// buildResetImage copies bootrom, kernel and DTB bytes into RAM per the
// layout in spec.md §6, and returns the values each hart seeds a0/a1/PC
// with. Must be called with the machine paused.
func (m *Machine) buildResetImage(resetPC uint64, dtbAddrOpt uint64) ResetImage {
	m.mu.Lock()
	bootrom := m.bootrom
	kernel := m.kernel
	dtbBytes := m.dtb
	base := m.memBase
	size := m.memSize
	m.mu.Unlock()

	clearRAM := make([]byte, size)
	m.WriteRAM(base, clearRAM)

	if len(bootrom) > 0 {
		n := len(bootrom)
		if uint64(n) > size {
			n = int(size)
		}
		m.WriteRAM(base, bootrom[:n])
	}

	if len(kernel) > 0 {
		off := m.kernelOffset()
		if off < size {
			avail := size - off
			n := uint64(len(kernel))
			if n > avail {
				n = avail
			}
			m.WriteRAM(base+off, kernel[:n])
		}
	}

	dtbAddr := dtbAddrOpt
	if dtbAddr == 0 && len(dtbBytes) > 0 {
		end := base + size
		dtbAddr = (end - uint64(len(dtbBytes))) &^ 0x7
	}
	if dtbAddr != 0 && len(dtbBytes) > 0 {
		m.WriteRAM(dtbAddr, dtbBytes)
	}

	return ResetImage{PC: resetPC, DTBAddr: dtbAddr}
}
