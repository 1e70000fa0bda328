package hart

import (
	"github.com/rcornwell/rvvm/csr"
	"github.com/rcornwell/rvvm/mmu"
)

// instrFunc executes one decoded instruction and reports whether the
// encoding was recognised. Handlers that raise a trap return true (the
// trap has already been delivered) — false means "illegal instruction",
// handled uniformly by dispatchLoop.
type instrFunc func(h *Hart, instr uint32) bool

// table512 is the primary dispatch table for 32-bit instructions,
// generalizing the teacher's cpu.table [256]func(*stepInfo) uint16
// (emu/cpu/cpu.go, createTable) from a single opcode byte to RISC-V's
// composite opcode[6:2]/funct3/funct7[5] key, per spec.md §4.1.
var table512 [512]instrFunc

// table32 is a table for 16-bit compressed instructions, keyed by
// quadrant (bits 1:0) and funct3 (bits 15:13). Nothing registers into it
// and dispatchLoop does not consult it: execCompressed decodes compressed
// instructions directly.
var table32 [32]instrFunc

func idx512(opcode5, funct3, funct7bit int) int {
	return (opcode5 << 4) | (funct3 << 1) | funct7bit
}

func idx32(quadrant, funct3 int) int {
	return (quadrant << 3) | funct3
}

// register installs fn for every combination matching the given
// (possibly wildcarded, -1) funct3/funct7bit selectors.
func register(opcode5, funct3, funct7bit int, fn instrFunc) {
	f3lo, f3hi := funct3, funct3
	if funct3 < 0 {
		f3lo, f3hi = 0, 7
	}
	fblo, fbhi := funct7bit, funct7bit
	if funct7bit < 0 {
		fblo, fbhi = 0, 1
	}
	for f3 := f3lo; f3 <= f3hi; f3++ {
		for fb := fblo; fb <= fbhi; fb++ {
			table512[idx512(opcode5, f3, fb)] = fn
		}
	}
}

func registerC(quadrant, funct3 int, fn instrFunc) {
	table32[idx32(quadrant, funct3)] = fn
}

// Instruction field extraction, RISC-V base ISA encodings.

func opcode5(instr uint32) int { return int((instr >> 2) & 0x1F) }
func rd(instr uint32) int      { return int((instr >> 7) & 0x1F) }
func funct3(instr uint32) int  { return int((instr >> 12) & 0x7) }
func rs1(instr uint32) int     { return int((instr >> 15) & 0x1F) }
func rs2(instr uint32) int     { return int((instr >> 20) & 0x1F) }
func funct7(instr uint32) int  { return int((instr >> 25) & 0x7F) }
func funct7bit(instr uint32) int {
	return int((instr >> 30) & 0x1)
}

func immI(instr uint32) int64 { return int64(int32(instr) >> 20) }

func immS(instr uint32) int64 {
	v := ((instr >> 25) << 5) | ((instr >> 7) & 0x1F)
	return int64(int32(v<<20) >> 20)
}

func immB(instr uint32) int64 {
	v := ((instr >> 31) << 12) | (((instr >> 7) & 0x1) << 11) |
		(((instr >> 25) & 0x3F) << 5) | (((instr >> 8) & 0xF) << 1)
	return int64(int32(v<<19) >> 19)
}

func immU(instr uint32) int64 { return int64(int32(instr & 0xFFFFF000)) }

func immJ(instr uint32) int64 {
	v := ((instr >> 31) << 20) | (((instr >> 12) & 0xFF) << 12) |
		(((instr >> 20) & 0x1) << 11) | (((instr >> 21) & 0x3FF) << 1)
	return int64(int32(v<<11) >> 11)
}

// effPriv returns the privilege level memory accesses should be checked
// against: MPP when mstatus.MPRV is set and the access is not an
// instruction fetch, else the hart's current privilege.
func (h *Hart) effPriv(access mmu.Access) int {
	if access == mmu.AccessExec {
		return h.priv
	}
	if set, mpp := h.csr.MPRV(); set {
		return mpp
	}
	return h.priv
}

// raiseTrap delivers a synchronous trap and arranges for the outer loop
// to resume at the resulting PC.
func (h *Hart) raiseTrap(cause, tval uint64) {
	priv, pc := h.csr.Trap(h.priv, cause, tval, h.pc)
	h.priv = priv
	h.trapPC = pc
	h.trap = true
}

// fetch32 reads one 32-bit (or the low half-word of a compressed)
// instruction word at h.pc through the MMU, faulting on a failed walk.
func (h *Hart) fetch32() (uint32, bool) {
	var buf [4]byte
	res := h.mmu.Access(h.csr.Satp(), h.priv, h.pc, mmu.AccessExec, buf[:2], false, h.csr.MXR(), h.csr.SUM())
	if res.Fault != mmu.FaultNone {
		h.raiseTrap(causeFetchFault(res.Fault), h.pc)
		return 0, false
	}
	low := uint32(buf[0]) | uint32(buf[1])<<8
	if low&0x3 != 0x3 {
		// 16-bit compressed instruction; caller expands it separately.
		return low, true
	}
	res = h.mmu.Access(h.csr.Satp(), h.priv, h.pc+2, mmu.AccessExec, buf[2:4], false, h.csr.MXR(), h.csr.SUM())
	if res.Fault != mmu.FaultNone {
		h.raiseTrap(causeFetchFault(res.Fault), res.Addr)
		return 0, false
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, true
}

func causeFetchFault(f mmu.Fault) uint64 {
	if f == mmu.FaultAccess {
		return csr.CauseInstrAccessFault
	}
	return csr.CauseInstrPageFault
}

// dispatchLoop runs instructions until a trap occurs, WFI blocks, or a
// pause/preempt event is observed, yielding control back to the outer
// loop (spec.md §4.5). Control is yielded every quantum instructions so
// a QueuePause from another goroutine is noticed promptly.
const quantum = 4096

func (h *Hart) dispatchLoop() {
	for i := 0; i < quantum; i++ {
		if h.pendingEvents.Load() != 0 {
			return
		}
		instr, ok := h.fetch32()
		if !ok {
			return
		}
		if instr&0x3 != 0x3 {
			if !h.execCompressed(uint16(instr)) {
				h.raiseTrap(csr.CauseIllegalInstruction, uint64(instr))
				return
			}
		} else {
			fn := table512[idx512(opcode5(instr), funct3(instr), funct7bit(instr))]
			if fn == nil || !fn(h, instr) {
				h.raiseTrap(csr.CauseIllegalInstruction, uint64(instr))
				return
			}
		}
		h.csr.AdvanceCounters(1)
		if h.trap || h.wfiBlocked {
			return
		}
	}
}
