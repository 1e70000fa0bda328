/*
 * rvvm - host virtual-memory allocation for guest RAM and JIT code
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

// Package vma provides a thin abstraction over page-aligned host virtual
// memory allocation: Alloc, Protect, Clean and Free. There is no remap
// operation. Guest RAM and the (out-of-scope) JIT code cache both need
// page-aligned regions with explicit protection flags; no third-party
// mmap wrapper appears anywhere in the retrieved example pack, so the
// mapping itself uses the standard library's syscall package. The Linux
// huge-page hint (vma_linux.go) uses golang.org/x/sys/unix.
package vma

import (
	"errors"
	"syscall"
)

// Prot is a bitmask of host page protections.
type Prot int

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

// Flags tune the allocation beyond simple protection.
type Flags int

const (
	// FlagShared names the W^X dual mapping (one RW and one RX view of
	// the same pages). Alloc does not act on it: the region is always a
	// single private mapping, whatever the flags.
	FlagShared Flags = 1 << iota
	// FlagHuge hints the host to back the allocation with huge pages.
	FlagHuge
)

// ErrAlloc is returned when the host allocator cannot satisfy a request.
var ErrAlloc = errors.New("vma: allocation failed")

// Region is a page-aligned host allocation.
type Region struct {
	mem  []byte
	prot Prot
}

// Alloc reserves size bytes (rounded up to a whole page) with the given
// protection and flags.
func Alloc(size int, prot Prot, flags Flags) (*Region, error) {
	if size <= 0 {
		return nil, ErrAlloc
	}
	pageSize := syscall.Getpagesize()
	size = (size + pageSize - 1) &^ (pageSize - 1)

	protFlags := syscall.PROT_NONE
	if prot&ProtRead != 0 {
		protFlags |= syscall.PROT_READ
	}
	if prot&ProtWrite != 0 {
		protFlags |= syscall.PROT_WRITE
	}
	if prot&ProtExec != 0 {
		protFlags |= syscall.PROT_EXEC
	}

	mem, err := syscall.Mmap(-1, 0, size,
		protFlags, syscall.MAP_PRIVATE|syscall.MAP_ANONYMOUS)
	if err != nil {
		return nil, ErrAlloc
	}
	r := &Region{mem: mem, prot: prot}
	adviseHuge(r, flags)
	return r, nil
}

// Bytes returns the backing slice.
func (r *Region) Bytes() []byte {
	return r.mem
}

// Protect changes the protection of an existing region (used by the JIT's
// W^X remap dance: write the block RW, then Protect it to RX before
// linking it into the code cache).
func (r *Region) Protect(prot Prot) error {
	protFlags := syscall.PROT_NONE
	if prot&ProtRead != 0 {
		protFlags |= syscall.PROT_READ
	}
	if prot&ProtWrite != 0 {
		protFlags |= syscall.PROT_WRITE
	}
	if prot&ProtExec != 0 {
		protFlags |= syscall.PROT_EXEC
	}
	if err := syscall.Mprotect(r.mem, protFlags); err != nil {
		return ErrAlloc
	}
	r.prot = prot
	return nil
}

// Clean zeroes the region without releasing it (used on machine reset).
func (r *Region) Clean() {
	clear(r.mem)
}

// Free releases the host allocation.
func (r *Region) Free() error {
	if r.mem == nil {
		return nil
	}
	err := syscall.Munmap(r.mem)
	r.mem = nil
	return err
}
