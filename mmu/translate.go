package mmu

import "encoding/binary"

// Mode selects the SATP translation scheme.
type Mode int

const (
	Bare Mode = iota
	Sv32
	Sv39
	Sv48
	Sv57
)

// ModeFromSatp extracts the translation mode from a satp value, given
// the hart's XLEN.
func ModeFromSatp(satp uint64, xlen int) Mode {
	if xlen == 32 {
		if satp>>31 == 0 {
			return Bare
		}
		return Sv32
	}
	switch satp >> 60 {
	case 8:
		return Sv39
	case 9:
		return Sv48
	case 10:
		return Sv57
	default:
		return Bare
	}
}

func rootPPN(satp uint64, mode Mode) uint64 {
	if mode == Sv32 {
		return satp & 0x3FFFFF
	}
	return satp & 0x0FFFFFFFFFFF // 44-bit PPN field shared by Sv39/48/57
}

// levelInfo describes one level of a page-table walk.
type levelInfo struct {
	levels    int
	vpnBits   int
	pteBytes  int
}

func levelsFor(mode Mode) levelInfo {
	switch mode {
	case Sv32:
		return levelInfo{levels: 2, vpnBits: 10, pteBytes: 4}
	case Sv39:
		return levelInfo{levels: 3, vpnBits: 9, pteBytes: 8}
	case Sv48:
		return levelInfo{levels: 4, vpnBits: 9, pteBytes: 8}
	case Sv57:
		return levelInfo{levels: 5, vpnBits: 9, pteBytes: 8}
	}
	return levelInfo{}
}

// PTE bit positions, shared by 32- and 64-bit formats.
const (
	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4
	pteG = 1 << 5
	pteA = 1 << 6
	pteD = 1 << 7
)

// PhysMemory lets the translator read guest physical memory to walk page
// tables, and perform the A/D-bit update on a successful leaf lookup.
// Implemented by the machine package against RAM; a PTE that falls
// inside an MMIO region is architecturally undefined in real hardware
// and is treated here as a fault (ReadPTE returns false), matching the
// common "page tables only live in RAM" assumption real guests rely on.
type PhysMemory interface {
	ReadPTE(addr uint64, size int) (uint64, bool)
	WritePTE(addr uint64, size int, value uint64) bool
}

// Fault identifies why a translation failed.
type Fault int

const (
	FaultNone Fault = iota
	FaultPage
	FaultAccess
)

// Translate walks the page table for vaddr under satp/mode at the given
// effective privilege and access kind, per spec.md §4.2. mxr/sum are the
// current mstatus.MXR/SUM bits.
func Translate(mem PhysMemory, satp uint64, xlen int, effPriv int, vaddr uint64, access Access, mxr, sum bool) (paddr uint64, fault Fault) {
	mode := ModeFromSatp(satp, xlen)
	if mode == Bare {
		return vaddr, FaultNone
	}
	li := levelsFor(mode)

	if xlen == 64 {
		// Require canonical sign-extension of the VA's upper bits.
		vaBits := li.levels*li.vpnBits + PageShift
		top := vaddr >> (vaBits - 1)
		if top != 0 && top != (^uint64(0))>>(vaBits-1) {
			return 0, FaultPage
		}
	}

	ppn := rootPPN(satp, mode)
	level := li.levels - 1
	var pteAddr uint64
	var pte uint64
	var ok bool

	for {
		vpnShift := PageShift + level*li.vpnBits
		vpnMask := uint64(1)<<li.vpnBits - 1
		vpn := (vaddr >> vpnShift) & vpnMask

		pteAddr = ppn<<PageShift + vpn*uint64(li.pteBytes)
		pte, ok = mem.ReadPTE(pteAddr, li.pteBytes)
		if !ok {
			return 0, FaultAccess
		}
		if pte&pteV == 0 || (pte&pteW != 0 && pte&pteR == 0) {
			return 0, FaultPage
		}
		if pte&(pteR|pteX) != 0 {
			break // leaf
		}
		// Non-leaf pointer: W must be 0 as a pointer, as required above.
		ppn = (pte >> 10)
		level--
		if level < 0 {
			return 0, FaultPage
		}
	}

	// Leaf checks, in the order spec.md §4.2 lists them.
	isUser := pte&pteU != 0
	if effPriv == 0 { // U
		if !isUser {
			return 0, FaultPage
		}
	} else { // S or M acting as S via MPRV
		if isUser {
			allowed := sum && access != AccessExec
			if !allowed {
				return 0, FaultPage
			}
		}
	}

	var permitted bool
	switch access {
	case AccessRead:
		permitted = pte&pteR != 0 || (mxr && pte&pteX != 0)
	case AccessWrite:
		permitted = pte&pteW != 0
	case AccessExec:
		permitted = pte&pteX != 0
	}
	if !permitted {
		return 0, FaultPage
	}

	// Misaligned-superpage check: PPN bits below the current level must
	// be zero.
	ppnField := pte >> 10
	for l := 0; l < level; l++ {
		shift := uint(l * li.vpnBits)
		mask := uint64(1)<<li.vpnBits - 1
		if (ppnField>>shift)&mask != 0 {
			return 0, FaultPage
		}
	}

	newPTE := pte | pteA
	if access == AccessWrite {
		newPTE |= pteD
	}
	if newPTE != pte {
		// Best-effort update; a lost race against a concurrent walker is
		// accepted per spec.md's open-question note.
		_ = mem.WritePTE(pteAddr, li.pteBytes, newPTE)
	}

	offsetBits := PageShift + level*li.vpnBits
	offsetMask := uint64(1)<<offsetBits - 1
	paddr = (ppnField << PageShift) | (vaddr & offsetMask)
	return paddr, FaultNone
}

// DecodePTE decodes a 4- or 8-byte little-endian PTE; it is exposed for
// tests that want to read raw PTE bytes without importing
// binary.LittleEndian directly.
func DecodePTE(buf []byte, size int) uint64 {
	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(buf))
	}
	return binary.LittleEndian.Uint64(buf)
}
