package csr

// Cause numbers, per the RISC-V privileged spec. The interrupt bit (the
// XLEN-dependent MSB) is applied by DeliverInterrupt, not baked into
// these constants.
const (
	CauseInstrAddrMisaligned = 0
	CauseInstrAccessFault    = 1
	CauseIllegalInstruction  = 2
	CauseBreakpoint          = 3
	CauseLoadAddrMisaligned  = 4
	CauseLoadAccessFault     = 5
	CauseStoreAddrMisaligned = 6
	CauseStoreAccessFault    = 7
	CauseEcallU              = 8
	CauseEcallS              = 9
	CauseEcallM              = 11
	CauseInstrPageFault      = 12
	CauseLoadPageFault       = 13
	CauseStorePageFault      = 15
)

// InterruptBit returns cause with the XLEN-dependent MSB set, marking it
// as an interrupt rather than an exception in xcause.
func InterruptBit(xlen int) uint64 {
	if xlen == 32 {
		return 1 << 31
	}
	return 1 << 63
}

// Trap delivers a synchronous trap for cause/tval, taken at the
// instruction whose PC is pc. It returns the privilege the trap was
// taken at and the PC the dispatch loop should resume at (xtvec, masked
// to exclude the low vector-mode bits for a synchronous trap, which is
// always non-vectored).
//
// curPriv is the hart's privilege before the trap; the returned privilege
// becomes the hart's new current privilege.
func (f *File) Trap(curPriv int, cause uint64, tval, pc uint64) (newPriv int, newPC uint64) {
	target := f.delegatedTarget(curPriv, cause, f.medeleg)
	return f.enter(curPriv, target, cause, tval, pc, false, 0)
}

// DeliverInterrupt delivers an asynchronous interrupt with the given
// (unshifted) irq bit number. Returns ok=false if the interrupt is
// pending but not presently deliverable (spec.md §4.4: "if target ==
// current, take only when xIE in mstatus is set").
func (f *File) DeliverInterrupt(curPriv int, irq int, pc uint64) (newPriv int, newPC uint64, ok bool) {
	target := f.delegatedTarget(curPriv, uint64(irq), f.mideleg)
	if target < curPriv {
		return curPriv, pc, false
	}
	if target == curPriv {
		enabled := false
		switch curPriv {
		case M:
			enabled = f.m.status&StatusMIE != 0
		case S:
			enabled = f.m.status&StatusSIE != 0
		}
		if !enabled {
			return curPriv, pc, false
		}
	}
	cause := uint64(irq) | InterruptBit(f.xlen)
	p, newPC := f.enter(curPriv, target, cause, 0, pc, true, irq)
	return p, newPC, true
}

// delegatedTarget picks the privilege a trap is taken to: always M when
// curPriv is M, otherwise S if causeBit is set in delegMask, else M. The
// same rule serves medeleg for exceptions and mideleg for interrupts.
func (f *File) delegatedTarget(curPriv int, causeBit uint64, delegMask uint64) int {
	if curPriv == M {
		return M
	}
	bit := causeBit
	if bit < 64 && (delegMask>>bit)&1 != 0 {
		return S
	}
	return M
}

func (f *File) enter(curPriv, target int, cause, tval, pc uint64, vectored bool, irqBit int) (int, uint64) {
	switch target {
	case M:
		f.m.epc = pc & f.xlenMask()
		f.m.cause = cause
		f.m.tval = tval
		mie := f.m.status&StatusMIE != 0
		f.m.status &^= StatusMPIE
		if mie {
			f.m.status |= StatusMPIE
		}
		f.m.status &^= StatusMIE
		f.m.status = (f.m.status &^ uint64(StatusMPPMask)) | (uint64(curPriv) << StatusMPPShift)
		base := f.m.tvec &^ 0x3
		if vectored && f.m.tvec&0x1 != 0 {
			return M, base + uint64(irqBit)*4
		}
		return M, base
	default: // S
		f.m.status &^= StatusSPP
		if curPriv == S {
			f.m.status |= StatusSPP
		}
		sie := f.m.status&StatusSIE != 0
		f.m.status &^= StatusSPIE
		if sie {
			f.m.status |= StatusSPIE
		}
		f.m.status &^= StatusSIE
		f.s.epc = pc & f.xlenMask()
		f.s.cause = cause
		f.s.tval = tval
		base := f.s.tvec &^ 0x3
		if vectored && f.s.tvec&0x1 != 0 {
			return S, base + uint64(irqBit)*4
		}
		return S, base
	}
}

// Ret pops the trap frame for mret/sret. fromPriv is M or S (the
// instruction's own privilege level, which is also checked by the caller
// for TSR before calling Ret for sret). Returns the new privilege and the
// PC to resume at, plus whether the privilege transition crosses the
// M/H<->S/U boundary (forcing a full TLB flush per spec.md §4.2/§4.4).
func (f *File) Ret(fromPriv int) (newPriv int, newPC uint64, crossedBoundary bool) {
	switch fromPriv {
	case M:
		mpp := int((f.m.status & StatusMPPMask) >> StatusMPPShift)
		mpie := f.m.status&StatusMPIE != 0
		f.m.status &^= StatusMIE
		if mpie {
			f.m.status |= StatusMIE
		}
		f.m.status = (f.m.status &^ uint64(StatusMPPMask)) | (uint64(U) << StatusMPPShift)
		f.m.status |= StatusMPIE
		crossed := wasHighPriv(fromPriv) != wasHighPriv(mpp)
		return mpp, f.m.epc, crossed
	default: // S
		spp := U
		if f.m.status&StatusSPP != 0 {
			spp = S
		}
		spie := f.m.status&StatusSPIE != 0
		f.m.status &^= StatusSIE
		if spie {
			f.m.status |= StatusSIE
		}
		f.m.status &^= StatusSPP
		f.m.status |= StatusSPIE
		crossed := wasHighPriv(fromPriv) != wasHighPriv(spp)
		return spp, f.s.epc, crossed
	}
}

// wasHighPriv classifies a privilege as M/H (true) or S/U (false), the
// boundary whose crossing invalidates PRV-dependent TLB state.
func wasHighPriv(p int) bool {
	return p == M || p == H
}

// TSRSet reports mstatus.TSR, which makes sret illegal outside M-mode.
func (f *File) TSRSet() bool { return f.m.status&StatusTSR != 0 }

// TVMSet reports mstatus.TVM, which makes sfence.vma/satp writes illegal
// in S-mode.
func (f *File) TVMSet() bool { return f.m.status&StatusTVM != 0 }

// TWSet reports mstatus.TW.
func (f *File) TWSet() bool { return f.m.status&StatusTW != 0 }

// MPRV reports mstatus.MPRV and the effective privilege it selects.
func (f *File) MPRV() (set bool, mpp int) {
	set = f.m.status&StatusMPRV != 0
	mpp = int((f.m.status & StatusMPPMask) >> StatusMPPShift)
	return
}

// SUM reports mstatus.SUM.
func (f *File) SUM() bool { return f.m.status&StatusSUM != 0 }

// MXR reports mstatus.MXR.
func (f *File) MXR() bool { return f.m.status&StatusMXR != 0 }

// PendingEnabled returns mip & mie, the set of interrupts that are both
// pending and individually enabled (but not yet filtered by delegation
// or global xIE, which DeliverInterrupt applies).
func (f *File) PendingEnabled() uint64 {
	return f.ip.Load() & f.ieAtomic.Load()
}
