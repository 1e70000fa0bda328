package hart

import "github.com/rcornwell/rvvm/csr"

// registerSystem wires ECALL/EBREAK/xRET/WFI/SFENCE.VMA and the Zicsr
// instructions, all sharing the SYSTEM major opcode (spec.md §4.3).
func registerSystem() {
	register(opSystem, 0, -1, execPriv)
	register(opSystem, 1, -1, execCsrrw)
	register(opSystem, 2, -1, execCsrrs)
	register(opSystem, 3, -1, execCsrrc)
	register(opSystem, 5, -1, execCsrrwi)
	register(opSystem, 6, -1, execCsrrsi)
	register(opSystem, 7, -1, execCsrrci)
}

// execPriv handles the funct3==0 SYSTEM subgroup, distinguished by the
// full instruction word rather than funct7 (ECALL/EBREAK/xRET/WFI all
// carry rs1=rd=0).
func execPriv(h *Hart, instr uint32) bool {
	switch instr {
	case 0x00000073: // ECALL
		cause := uint64(csr.CauseEcallU)
		switch h.priv {
		case csr.S:
			cause = csr.CauseEcallS
		case csr.M:
			cause = csr.CauseEcallM
		}
		h.raiseTrap(cause, 0)
		return true
	case 0x00100073: // EBREAK
		h.raiseTrap(csr.CauseBreakpoint, h.pc)
		return true
	case 0x10200073: // SRET
		return execXret(h, csr.S)
	case 0x30200073: // MRET
		return execXret(h, csr.M)
	case 0x10500073: // WFI
		if h.priv == csr.S && h.csr.TWSet() {
			return false
		}
		h.wfiBlocked = true
		h.advance(4)
		return true
	}
	if funct7(instr) == 0x09 { // SFENCE.VMA
		if h.priv == csr.S && h.csr.TVMSet() {
			return false
		}
		if rs1(instr) == 0 {
			h.mmu.TLB().Flush()
		} else {
			h.mmu.TLB().InvalidatePage(h.X(rs1(instr)))
		}
		h.advance(4)
		return true
	}
	return false
}

func execXret(h *Hart, fromPriv int) bool {
	if fromPriv != h.priv {
		return false
	}
	if fromPriv == csr.S && h.priv < csr.M && h.csr.TSRSet() {
		return false
	}
	priv, pc, crossed := h.csr.Ret(fromPriv)
	h.priv = priv
	h.pc = pc
	if crossed {
		h.mmu.TLB().Flush()
	}
	return true
}

func execCsrrw(h *Hart, instr uint32) bool { return csrOp(h, instr, csr.OpSwap, h.X(rs1(instr)), true) }
func execCsrrs(h *Hart, instr uint32) bool { return csrOp(h, instr, csr.OpSet, h.X(rs1(instr)), rs1(instr) != 0) }
func execCsrrc(h *Hart, instr uint32) bool { return csrOp(h, instr, csr.OpClear, h.X(rs1(instr)), rs1(instr) != 0) }
func execCsrrwi(h *Hart, instr uint32) bool {
	return csrOp(h, instr, csr.OpSwap, uint64(rs1(instr)), true)
}
func execCsrrsi(h *Hart, instr uint32) bool {
	return csrOp(h, instr, csr.OpSet, uint64(rs1(instr)), rs1(instr) != 0)
}
func execCsrrci(h *Hart, instr uint32) bool {
	return csrOp(h, instr, csr.OpClear, uint64(rs1(instr)), rs1(instr) != 0)
}

// csrOp implements the shared CSRRx sequence: read-then-write, skipping
// the write entirely when it would have no effect (rs1==0 for the
// register forms, uimm==0 for the immediate forms) so that read-only
// CSRs can still be read by e.g. CSRRS x,csr,x0.
func csrOp(h *Hart, instr uint32, op csr.Op, value uint64, doWrite bool) bool {
	id := int(instr>>20) & 0xFFF

	// id[9:8] encodes the minimum privilege required to access the CSR
	// at all; id[11:10]==0b11 marks it read-only, rejecting any op that
	// would actually change its bits (spec.md §4.3).
	if csr.MinPrivFor(id) > h.priv {
		return false
	}
	if doWrite && csr.ReadOnly(id) {
		return false
	}
	if doWrite && id == csr.Satp && h.priv == csr.S && h.csr.TVMSet() {
		return false
	}

	// time/timeh are the hart's wall-clock comparator (see nowTime),
	// kept independent of the retirement-based cycle/instret counters
	// so it keeps advancing while the hart is blocked in WFI.
	switch id {
	case csr.Time:
		h.SetX(rd(instr), h.nowTime())
		h.advance(4)
		return true
	case csr.Timeh:
		if h.xlen != 32 {
			return false
		}
		h.SetX(rd(instr), h.nowTime()>>32)
		h.advance(4)
		return true
	}

	old, err := h.csr.Read(id)
	if err != nil {
		return false
	}
	if doWrite {
		if err := h.csr.Write(id, op, value); err != nil {
			return false
		}
		if id == csr.Satp && h.csr.SatpModeChanged(old) {
			h.mmu.TLB().Flush()
		}
	}
	h.SetX(rd(instr), old)
	h.advance(4)
	return true
}
