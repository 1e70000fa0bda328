/*
 * rvvm - machine: owns RAM, MMIO regions and harts, and the event loop
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

// Package machine owns guest RAM, the sorted MMIO region list, the set of
// harts, and the event loop that ties timers, device update callbacks and
// power transitions together. Grounded on the teacher's emu/core.core
// type and its Start/Stop goroutine+channel lifecycle, generalized from a
// single CPU to a hart slice per spec.md §3/§4.6.
package machine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rcornwell/rvvm/mmio"
	"github.com/rcornwell/rvvm/vma"
)

// Power is the machine's power-state word.
type Power int

const (
	PowerOff Power = iota
	PowerOn
	PowerReset
)

// HartRunner is implemented by the hart package; machine does not import
// hart to avoid a cycle (hart imports machine's PhysDecoder-satisfying
// methods instead). The event loop drives harts purely through this
// narrow interface.
type HartRunner interface {
	Index() int
	PokeTimer()
	Preempt(ms int)
	QueuePause()
	Pause()
	Spawn()
	Reset(pc, a0, a1 uint64)
}

// ResetFunc may veto a reset by returning false.
type ResetFunc func(m *Machine) bool

// Machine is a guest system: RAM, MMIO, harts, and lifecycle state.
type Machine struct {
	mu sync.Mutex

	memBase uint64
	memSize uint64
	xlen    int
	ram     *vma.Region

	regions []*mmio.Region // sorted by Base; never mutated while running

	harts []HartRunner

	power   Power
	running bool

	opts map[string]uint64

	bootrom []byte
	kernel  []byte
	dtb     []byte
	cmdline string

	resetFn ResetFunc

	dirty map[uint64]bool // page-granular dirty set, JIT hook only

	log *slog.Logger
}

// ErrBadRegion reports a malformed or overlapping RAM/MMIO configuration.
var ErrBadRegion = errors.New("machine: region overlaps RAM or another region")

// ErrHartCount reports an out-of-range hart count (spec.md §7: 0 or >1024).
var ErrHartCount = errors.New("machine: hart count must be in [1,1024]")

const pageSize = 4096

// New creates a machine with RAM at [memBase, memBase+memSize), page-aligned.
// xlen (32 or 64) governs the RV32 1GiB RAM clamp and the kernel load offset.
func New(memBase, memSize uint64, hartCount, xlen int, log *slog.Logger) (*Machine, error) {
	if hartCount <= 0 || hartCount > 1024 {
		return nil, ErrHartCount
	}
	if memBase%pageSize != 0 || memSize%pageSize != 0 {
		return nil, fmt.Errorf("machine: base/size must be page-aligned")
	}
	if log == nil {
		log = slog.Default()
	}
	const oneGiB = 1 << 30
	if xlen == 32 && memSize > oneGiB {
		log.Warn("clamping RV32 RAM to 1GiB", "requested", memSize)
		memSize = oneGiB
	}
	ram, err := vma.Alloc(int(memSize), vma.ProtRead|vma.ProtWrite, 0)
	if err != nil {
		return nil, fmt.Errorf("machine: ram alloc: %w", err)
	}
	m := &Machine{
		memBase: memBase,
		memSize: uint64(len(ram.Bytes())),
		xlen:    xlen,
		ram:     ram,
		opts:    make(map[string]uint64),
		dirty:   make(map[uint64]bool),
		log:     log,
	}
	Register(m)
	return m, nil
}

// XLEN returns 32 or 64.
func (m *Machine) XLEN() int { return m.xlen }

// Recognised SetOpt/GetOpt keys, per spec.md §6's Machine API.
const (
	OptJIT           = "JIT"
	OptJITCache      = "JIT_CACHE"
	OptJITHarvard    = "JIT_HARVARD"
	OptMaxCPUPercent = "MAX_CPU_PERCENT"
	OptResetPC       = "RESET_PC"
	OptMemBase       = "MEM_BASE"
	OptMemSize       = "MEM_SIZE"
	OptHartCount     = "HART_COUNT"
	OptDTBAddr       = "DTB_ADDR"
	OptHWImitate     = "HW_IMITATE"
)

// SetOpt/GetOpt carry the named options above. Values are opaque
// uint64s; callers agree on units (bytes, Hz, a raw 0/1 for booleans).
func (m *Machine) SetOpt(opt string, value uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts[opt] = value
}

func (m *Machine) GetOpt(opt string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.opts[opt]
	return v, ok
}

// SetResetHandler installs the veto callback invoked before reset state is
// rebuilt.
func (m *Machine) SetResetHandler(fn ResetFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetFn = fn
}

// AddHart registers a hart with the machine's event loop. Harts call this
// during their own construction (hart.New takes a *Machine).
func (m *Machine) AddHart(h HartRunner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.harts = append(m.harts, h)
}

// MemBase/MemSize expose the RAM window for the reset image loader and FDT.
func (m *Machine) MemBase() uint64 { return m.memBase }
func (m *Machine) MemSize() uint64 { return m.memSize }

// SetCmdline/AppendCmdline feed the FDT chosen/bootargs property.
func (m *Machine) SetCmdline(s string)    { m.mu.Lock(); m.cmdline = s; m.mu.Unlock() }
func (m *Machine) AppendCmdline(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmdline == "" {
		m.cmdline = s
	} else {
		m.cmdline += " " + s
	}
}
func (m *Machine) Cmdline() string { m.mu.Lock(); defer m.mu.Unlock(); return m.cmdline }

// LoadBootrom/LoadKernel/LoadDTB stage image bytes for the next reset.
func (m *Machine) LoadBootrom(data []byte) { m.mu.Lock(); m.bootrom = data; m.mu.Unlock() }
func (m *Machine) LoadKernel(data []byte)  { m.mu.Lock(); m.kernel = data; m.mu.Unlock() }
func (m *Machine) LoadDTB(data []byte)     { m.mu.Lock(); m.dtb = data; m.mu.Unlock() }

// Powered reports whether the machine is currently on.
func (m *Machine) Powered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.power == PowerOn
}

// Start transitions the machine to "on" and spawns its harts. The caller
// is expected to have already run Reset once (directly or via the event
// loop's PowerReset handling) so RAM/CSR state is initialised.
func (m *Machine) Start() {
	m.mu.Lock()
	m.power = PowerOn
	m.running = true
	harts := append([]HartRunner(nil), m.harts...)
	m.mu.Unlock()
	Register(m)
	for _, h := range harts {
		h.Spawn()
	}
	m.log.Info("machine started", "harts", len(harts))
}

// Pause stops all harts (joins their threads) without tearing down state.
func (m *Machine) Pause() {
	m.mu.Lock()
	harts := append([]HartRunner(nil), m.harts...)
	m.running = false
	m.mu.Unlock()
	for _, h := range harts {
		h.Pause()
	}
}

// RequestReset asks the event loop to perform a reset pass on its next
// tick (spec.md §4.6): pause, veto check, reload images, respawn.
func (m *Machine) RequestReset() {
	m.mu.Lock()
	m.power = PowerReset
	m.mu.Unlock()
	Register(m)
}

// RequestPowerOff asks the event loop to tear the machine down.
func (m *Machine) RequestPowerOff() {
	m.mu.Lock()
	m.power = PowerOff
	m.mu.Unlock()
}

// Free pauses the machine, tears down MMIO regions in reverse attach
// order, then releases RAM, per spec.md §3's factory/free contract.
func (m *Machine) Free() {
	m.Pause()
	Unregister(m)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.regions) - 1; i >= 0; i-- {
		r := m.regions[i]
		if r.Dev != nil {
			r.Dev.Remove(r)
		}
	}
	m.regions = nil
	m.harts = nil
	if m.ram != nil {
		m.ram.Free()
		m.ram = nil
	}
}

// --- RAM access -------------------------------------------------------

// ReadRAM/WriteRAM perform a plain (non-atomic) copy, for use by the
// reset loader, the console's examine/deposit commands, and DMA from
// MMIO devices; the hart's hot load/store path instead goes through
// RAMPage/MarkDirty below to get relaxed-atomic access widths.
func (m *Machine) ReadRAM(addr uint64, dst []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr < m.memBase || addr+uint64(len(dst)) > m.memBase+m.memSize {
		return false
	}
	copy(dst, m.ram.Bytes()[addr-m.memBase:])
	return true
}

func (m *Machine) WriteRAM(addr uint64, src []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr < m.memBase || addr+uint64(len(src)) > m.memBase+m.memSize {
		return false
	}
	copy(m.ram.Bytes()[addr-m.memBase:], src)
	return true
}

// GetDMAPtr returns a direct slice into RAM for device-side DMA.
func (m *Machine) GetDMAPtr(addr uint64, size uint64) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr < m.memBase || addr+size > m.memBase+m.memSize {
		return nil, false
	}
	off := addr - m.memBase
	return m.ram.Bytes()[off : off+size], true
}

// --- mmu.PhysDecoder -----------------------------------------------

// ReadPTE/WritePTE implement mmu.PhysMemory against RAM only: page tables
// outside RAM are architecturally undefined here (DESIGN.md).
func (m *Machine) ReadPTE(addr uint64, size int) (uint64, bool) {
	buf := make([]byte, size)
	if !m.ReadRAM(addr, buf) {
		return 0, false
	}
	return decodeLE(buf, size), true
}

func (m *Machine) WritePTE(addr uint64, size int, value uint64) bool {
	buf := make([]byte, size)
	encodeLE(buf, size, value)
	return m.WriteRAM(addr, buf)
}

// RAMPage implements mmu.PhysDecoder: returns the host bytes for the
// whole 4KiB page containing paddr.
func (m *Machine) RAMPage(paddr uint64) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if paddr < m.memBase || paddr >= m.memBase+m.memSize {
		return nil, false
	}
	pageBase := paddr &^ uint64(pageSize-1)
	off := pageBase - m.memBase
	end := off + pageSize
	if end > uint64(len(m.ram.Bytes())) {
		return nil, false
	}
	return m.ram.Bytes()[off:end], true
}

// MarkDirty flags the page containing paddr; consulted only by a (not
// implemented) JIT block-cache invalidator.
func (m *Machine) MarkDirty(paddr uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty[paddr&^uint64(pageSize-1)] = true
}

// MMIOPage implements mmu.PhysDecoder for a region whose entire covering
// page is backed by a direct Mapping, matching spec.md §4.2 step 4's
// "behave as RAM" clause.
func (m *Machine) MMIOPage(paddr uint64) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.findRegionLocked(paddr)
	if r == nil || r.Mapping == nil || r.Dev != nil {
		return nil, false
	}
	if !r.CoversPage(paddr, pageSize) {
		return nil, false
	}
	pageBase := paddr &^ uint64(pageSize-1)
	off := pageBase - r.Base
	end := off + pageSize
	if end > uint64(len(r.Mapping)) {
		return nil, false
	}
	return r.Mapping[off:end], true
}

// MMIOAccess implements mmu.PhysDecoder's callback-mediated path,
// splitting/RMW-ing the transfer to satisfy the region's declared
// min/max operation size per spec.md §4.2 step 4.
func (m *Machine) MMIOAccess(paddr uint64, buf []byte, write bool) bool {
	m.mu.Lock()
	r := m.findRegionLocked(paddr)
	m.mu.Unlock()
	if r == nil {
		return false
	}
	if r.Mapping != nil && r.Dev == nil {
		off := paddr - r.Base
		if int(off)+len(buf) > len(r.Mapping) {
			return false
		}
		if write {
			copy(r.Mapping[off:], buf)
		} else {
			copy(buf, r.Mapping[off:])
		}
		return true
	}
	if r.Dev == nil {
		return false
	}
	return mmioRMW(r, paddr, buf, write)
}

// mmioRMW performs the size-window RMW spec.md §4.2/§8 scenario 4
// describes: a transfer whose offset is not aligned to the region's
// max operation size is split into an aligned read-modify-write.
func mmioRMW(r *mmio.Region, paddr uint64, buf []byte, write bool) bool {
	off := paddr - r.Base
	size := len(buf)
	if size >= r.MinOpSize && size <= r.MaxOpSize && off%uint64(size) == 0 {
		if write {
			return r.Dev.Write(r, buf, off, size)
		}
		return r.Dev.Read(r, buf, off, size)
	}

	// Not aligned to the region's declared op-size window: fall back to a
	// single aligned read-modify-write over the window containing off,
	// merging in whatever portion of buf overlaps it (spec.md §4.2 step
	// 4 / §8 scenario 4: "one callback of size max_op at the aligned
	// offset"). A transfer wider than one window and extending past it
	// only has its first window's worth of bytes applied; guests are
	// expected to keep MMIO accesses within a single max-op-size window.
	opSize := uint64(r.MaxOpSize)
	alignedOff := off &^ (opSize - 1)
	scratch := make([]byte, opSize)
	if !r.Dev.Read(r, scratch, alignedOff, int(opSize)) {
		return false
	}
	start := off - alignedOff
	n := opSize - start
	if remaining := uint64(size); n > remaining {
		n = remaining
	}
	if write {
		copy(scratch[start:start+n], buf[:n])
		return r.Dev.Write(r, scratch, alignedOff, int(opSize))
	}
	copy(buf[:n], scratch[start:start+n])
	return true
}

func (m *Machine) findRegionLocked(paddr uint64) *mmio.Region {
	// regions is sorted by Base; binary search for the last region whose
	// Base <= paddr, then confirm containment.
	i := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].Base > paddr
	})
	if i == 0 {
		return nil
	}
	r := m.regions[i-1]
	if r.Contains(paddr, 1) {
		return r
	}
	return nil
}

func decodeLE(buf []byte, size int) uint64 {
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}

func encodeLE(buf []byte, size int, v uint64) {
	for i := 0; i < size; i++ {
		buf[i] = byte(v)
		v >>= 8
	}
}
