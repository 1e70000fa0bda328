/*
 * rvvm - MMIO device interface and region bookkeeping
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

// Package mmio defines the contract between the soft-MMU and memory-mapped
// devices that live outside guest RAM (UART, PLIC, CLINT, framebuffer, and
// the like). Concrete device implementations are out of scope for this
// module; this package only carries the region bookkeeping and the
// interface devices must satisfy.
package mmio

import "errors"

// Device is the interface a memory-mapped peripheral implements. A Region
// may leave Dev nil; when Dev is set, its Read/Write service the region's
// accesses even if Region.Mapping is also set.
type Device interface {
	// Read services a load of size bytes at offset into dst. offset is
	// aligned to size, and MinOpSize <= size <= MaxOpSize.
	Read(region *Region, dst []byte, offset uint64, size int) bool
	// Write services a store of size bytes from src at offset.
	Write(region *Region, src []byte, offset uint64, size int) bool
	// Reset restores power-on device state.
	Reset(region *Region)
	// Remove releases device resources; called once, at detach.
	Remove(region *Region)
	// Update is polled once per event-loop pass while the machine is on.
	Update(region *Region)
}

// Type names a device model and carries its lifecycle hooks at the type
// level (distinct from the per-instance Device methods), mirroring the
// separation spec.md draws between "region" and "region type".
type Type struct {
	Name   string
	Remove func(region *Region)
	Reset  func(region *Region)
	Update func(region *Region)
}

// Region is a half-open physical address range handled either by a direct
// host-memory mapping or by device callbacks.
type Region struct {
	Base       uint64
	Size       uint64
	MinOpSize  int // power of two, default 1
	MaxOpSize  int // power of two, default 8
	Mapping    []byte // non-nil with Dev nil => direct memory, no callbacks consulted
	Dev        Device
	Type       *Type
	Name       string // device instance name, for logging/console show
}

// ErrZeroSize marks a detached region kept only to keep external handles
// valid; it can never again satisfy a read or write.
var ErrZeroSize = errors.New("mmio: region has zero size")

// Contains reports whether [addr, addr+size) lies entirely within the
// region.
func (r *Region) Contains(addr, size uint64) bool {
	if r.Size == 0 {
		return false
	}
	return addr >= r.Base && addr+size <= r.Base+r.Size
}

// CoversPage reports whether the region fully covers the page containing
// addr, which is the condition under which a direct-mapping MMIO region
// may be cached in a hart's TLB (spec.md §4.2 step 4).
func (r *Region) CoversPage(addr uint64, pageSize uint64) bool {
	pageBase := addr &^ (pageSize - 1)
	return r.Contains(pageBase, pageSize)
}

// normalizeOpSize rounds v up to the next power of two, clamped to
// [1, 8], matching the default min/max op size window from spec.md §3.
func normalizeOpSize(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	n := 1
	for n < v {
		n <<= 1
	}
	if n > 8 {
		n = 8
	}
	return n
}

// Normalize rounds MinOpSize/MaxOpSize up to powers of two, applying the
// 1..8 default window when either is zero.
func (r *Region) Normalize() {
	r.MinOpSize = normalizeOpSize(r.MinOpSize, 1)
	r.MaxOpSize = normalizeOpSize(r.MaxOpSize, 8)
	if r.MinOpSize > r.MaxOpSize {
		r.MinOpSize = r.MaxOpSize
	}
}

// Placeholder is what a detached region becomes: zero data, zero mapping,
// zero type and no device, so outstanding Region handles held by callers
// remain valid (spec.md §4.7). It has no read/write handlers: a guest
// access to its address range fails as an access fault.
func Placeholder(base uint64) *Region {
	return &Region{Base: base, Size: 0, MinOpSize: 1, MaxOpSize: 8}
}
