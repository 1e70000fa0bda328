/*
 * rvvm - software TLB
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

// Package mmu implements the soft-MMU: a direct-mapped TLB plus the
// Sv32/Sv39/Sv48/Sv57 page-table walker that fills it, grounded on the
// segment/page TLB in the teacher's cpuState.transAddr (emu/cpu/cpu.go).
package mmu

const (
	// PageShift/PageSize assume 4KiB pages throughout; Sv32's 4MiB
	// superpages and Sv39+'s 2MiB/1GiB/512GiB superpages are handled by
	// the walker installing a TLB entry for the containing 4KiB page
	// the faulting address falls in, which is sufficient for a
	// single-entry-per-page TLB.
	PageShift = 12
	PageSize  = 1 << PageShift
	pageMask  = PageSize - 1
)

// Access identifies the kind of memory operation consulting the TLB.
type Access int

const (
	AccessRead Access = iota
	AccessWrite
	AccessExec
)

// entry is one direct-mapped TLB line. Three independent tags let a
// mapping be readable without being writable or executable (and the W^X
// rule clears W whenever X is installed); a lane that is not granted
// holds sentinelTag, so it misses without perturbing the others.
type entry struct {
	tagR uint64
	tagW uint64
	tagX uint64
	host []byte // host.mem[0] corresponds to guest page base (vaddr &^ pageMask)
}

// TLB is a power-of-two-sized direct-mapped virtual-to-host cache with
// separate R/W/X tag lanes, per spec.md §3/§4.2.
type TLB struct {
	entries []entry
	mask    uint64
}

// New creates a TLB with 2^bits entries. Flush sets every tag, the zero
// entry's included, to sentinelTag, which no real VPN can equal,
// guaranteeing a lookup of address 0 always misses, per spec.md §3's
// invariant.
func New(bits int) *TLB {
	n := 1 << bits
	t := &TLB{entries: make([]entry, n), mask: uint64(n - 1)}
	t.Flush()
	return t
}

// sentinelTag is a value no real VPN (vaddr>>PageShift) can produce
// without an extremely large address space; used to force misses.
const sentinelTag = ^uint64(0)

func (t *TLB) index(vpn uint64) uint64 { return vpn & t.mask }

// Lookup attempts a fast-path translation of vaddr for the given access.
// ok is false on a tag miss; the caller must then fall back to the slow
// path (translate + install).
func (t *TLB) Lookup(vaddr uint64, access Access) (host []byte, offset uint64, ok bool) {
	vpn := vaddr >> PageShift
	e := &t.entries[t.index(vpn)]
	var tag uint64
	switch access {
	case AccessRead:
		tag = e.tagR
	case AccessWrite:
		tag = e.tagW
	case AccessExec:
		tag = e.tagX
	}
	if tag != vpn {
		return nil, 0, false
	}
	return e.host, vaddr & pageMask, true
}

// Install fills the TLB entry for vpn with a host page pointer (host[0]
// must correspond to guest address vpn<<PageShift) and the given access
// lanes. Per spec.md §3: "writing through the W lane requires the R lane
// to also match" — callers always pass canRead=true whenever canWrite is
// true. Installing an executable mapping clears W (W^X).
func (t *TLB) Install(vaddr uint64, host []byte, canRead, canWrite, canExec bool) {
	vpn := vaddr >> PageShift
	e := &t.entries[t.index(vpn)]
	e.host = host
	if canExec {
		canWrite = false
	}
	if canRead {
		e.tagR = vpn
	} else {
		e.tagR = sentinelTag
	}
	if canWrite {
		e.tagW = vpn
	} else {
		e.tagW = sentinelTag
	}
	if canExec {
		e.tagX = vpn
	} else {
		e.tagX = sentinelTag
	}
}

// InvalidatePage clears all three lanes of the single entry matching
// vaddr, per the single-page sfence.vma policy in spec.md §4.2.
func (t *TLB) InvalidatePage(vaddr uint64) {
	vpn := vaddr >> PageShift
	e := &t.entries[t.index(vpn)]
	if e.tagR == vpn || e.tagW == vpn || e.tagX == vpn {
		e.tagR, e.tagW, e.tagX = sentinelTag, sentinelTag, sentinelTag
		e.host = nil
	}
}

// Flush performs a full TLB flush: every entry's tags become sentinels,
// including (redundantly, but explicitly, to mirror spec.md's wording)
// the zero-page entry.
func (t *TLB) Flush() {
	for i := range t.entries {
		t.entries[i] = entry{tagR: sentinelTag, tagW: sentinelTag, tagX: sentinelTag}
	}
}
