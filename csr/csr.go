/*
 * rvvm - CSR file: per-privilege status/trap registers and WARL masking
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package csr implements the RISC-V control-and-status register file:
// the per-privilege status/trap banks, WARL write masking, and the
// privilege/read-only access checks spec.md §4.3 describes. Trap and
// interrupt delivery built on top of this file live in trap.go.
package csr

import (
	"fmt"
	"sync/atomic"
)

// Privilege levels, matching the 2-bit encoding used in mstatus.MPP etc.
const (
	U = 0
	S = 1
	H = 2 // reserved, never entered
	M = 3
)

// Well-known CSR addresses (the ones spec.md §4.3 requires at minimum).
const (
	Fflags = 0x001
	Frm    = 0x002
	Fcsr   = 0x003

	Sstatus    = 0x100
	Sie        = 0x104
	Stvec      = 0x105
	Scounteren = 0x106
	Senvcfg    = 0x10A
	Sscratch   = 0x140
	Sepc       = 0x141
	Scause     = 0x142
	Stval      = 0x143
	Sip        = 0x144
	Stimecmp   = 0x14D
	Satp       = 0x180

	Mstatus    = 0x300
	Misa       = 0x301
	Medeleg    = 0x302
	Mideleg    = 0x303
	Mie        = 0x304
	Mtvec      = 0x305
	Mcounteren = 0x306
	Menvcfg    = 0x30A
	Mscratch   = 0x340
	Mepc       = 0x341
	Mcause     = 0x342
	Mtval      = 0x343
	Mip        = 0x344
	Mseccfg    = 0x747
	Seed       = 0x015

	Mhartid = 0xF14

	Cycle    = 0xC00
	Time     = 0xC01
	Instret  = 0xC02
	Cycleh   = 0xC80
	Timeh    = 0xC81
	Instreth = 0xC82
)

// Op identifies the CSR instruction's read-modify-write kind.
type Op int

const (
	OpSwap Op = iota
	OpSet
	OpClear
)

// WARL masks, copied from spec.md §4.3.
const (
	MstatusMask = 0x00000000007E79AA | 0x6000 // + FS field
	SstatusMask = 0x00000000000C6122
	MedelegMask = 0xB109
	MidelegMask = 0x0222
)

// mstatus bit positions used outside this package.
const (
	StatusSIE  = 1 << 1
	StatusMIE  = 1 << 3
	StatusSPIE = 1 << 5
	StatusMPIE = 1 << 7
	StatusSPP  = 1 << 8
	StatusMPPShift = 11
	StatusMPPMask  = 0x3 << StatusMPPShift
	StatusFSShift  = 13
	StatusFSMask   = 0x3 << StatusFSShift
	StatusMPRV     = 1 << 17
	StatusSUM      = 1 << 18
	StatusMXR      = 1 << 19
	StatusTVM      = 1 << 20
	StatusTW       = 1 << 21
	StatusTSR      = 1 << 22
)

// Interrupt bit numbers in mip/mie/sip/sie.
const (
	IrqSSI = 1 // supervisor software interrupt
	IrqMSI = 3 // machine software interrupt
	IrqSTI = 5 // supervisor timer interrupt
	IrqMTI = 7 // machine timer interrupt
	IrqSEI = 9 // supervisor external interrupt
	IrqMEI = 11
)

// bank holds the trap-control registers replicated at each
// delegable privilege level (S and M; U only when Sstc/N-extension traps
// are in play, which this module does not implement).
type bank struct {
	status uint64
	tvec   uint64
	scratch uint64
	epc    uint64
	cause  uint64
	tval   uint64
	ie     uint64
	envcfg uint64
	counteren uint32
}

// File is a hart's complete CSR bundle. ip/ie use atomic operations
// because interrupt sources mutate ip from other goroutines concurrently
// with the owning hart reading it (spec.md §5).
type File struct {
	xlen int // 32 or 64

	s bank
	m bank

	satp     uint64
	misa     uint64
	medeleg  uint64
	mideleg  uint64
	mseccfg  uint64
	hartid   uint64
	stimecmp uint64

	ip atomic.Uint64 // mip, mutated by external interrupt sources
	// ie mirrors mie; kept alongside m.ie for atomic cross-goroutine reads
	ieAtomic atomic.Uint64

	fflags uint32
	frm    uint32

	// free-running counters; a real machine ties these to a shared
	// monotonic clock, but each hart keeps its own view so cycle/instret
	// can be WARL-stubbed independently in tests.
	cycle   uint64
	instret uint64
}

// New builds a CSR file reset to its power-on state for the given XLEN
// (32 or 64) and hart index.
func New(xlen int, hartID uint64) *File {
	f := &File{xlen: xlen, hartid: hartID}
	f.misa = defaultMisa(xlen)
	f.m.status = 0
	return f
}

func defaultMisa(xlen int) uint64 {
	// IMAFDC, reported in the low 26 bits; MXL in the top two bits.
	extBits := uint64(0)
	for _, c := range "IMAFDC" {
		extBits |= 1 << uint(c-'A')
	}
	var mxl uint64
	switch xlen {
	case 32:
		mxl = 1
	case 64:
		mxl = 2
	}
	shift := uint(xlen - 2)
	return (mxl << shift) | extBits
}

// ISAString renders misa as the "riscv,isa" device-tree string, e.g.
// "rv64imafdc", for the fdt package to embed in each cpu@<i> node.
func (f *File) ISAString() string {
	s := fmt.Sprintf("rv%d", f.xlen)
	for c := 'A'; c <= 'Z'; c++ {
		if f.misa&(1<<uint(c-'A')) != 0 {
			s += string(c - 'A' + 'a')
		}
	}
	return s
}

// HartID returns the value exposed by mhartid (read-only).
func (f *File) HartID() uint64 { return f.hartid }

// XLEN returns 32 or 64.
func (f *File) XLEN() int { return f.xlen }

func (f *File) xlenMask() uint64 {
	if f.xlen == 32 {
		return 0xFFFFFFFF
	}
	return ^uint64(0)
}

// MinPrivFor returns the minimum privilege required to access id, per
// spec.md §4.3: "the minimum privilege required equals id[9:8]".
func MinPrivFor(id int) int {
	return (id >> 8) & 0x3
}

// ReadOnly reports whether id[11:10] == 0b11, marking the CSR read-only.
func ReadOnly(id int) bool {
	return (id>>10)&0x3 == 0x3
}

// MIP returns the current mip value (atomic load).
func (f *File) MIP() uint64 { return f.ip.Load() }

// OrIP atomically ORs bits into mip; used by external interrupt sources.
func (f *File) OrIP(bits uint64) {
	for {
		old := f.ip.Load()
		if f.ip.CompareAndSwap(old, old|bits) {
			return
		}
	}
}

// AndIP atomically ANDs mip with mask (used to clear software-settable
// bits and to clear a spurious timer bit the outer loop detected was not
// really expired).
func (f *File) AndIP(mask uint64) {
	for {
		old := f.ip.Load()
		if f.ip.CompareAndSwap(old, old&mask) {
			return
		}
	}
}

// MIE returns mie.
func (f *File) MIE() uint64 { return f.ieAtomic.Load() }

func (f *File) setMIE(v uint64) { f.ieAtomic.Store(v) }

// StatusMIE/StatusSIE/etc. accessors used by the trap/interrupt logic in
// trap.go live there to keep this file focused on storage and masking.
