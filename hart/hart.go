/*
 * rvvm - hart: per-hart register file, outer loop and lifecycle
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

// Package hart implements a single RISC-V hardware thread: its register
// file, the instruction dispatch loop, and the outer lifecycle loop that
// services pause/preempt/IRQ events between dispatch-loop runs. Grounded
// on the teacher's cpuState/fetch/execute/createTable shape
// (emu/cpu/cpu.go) and core.Start's running/not-running outer loop
// (emu/core/core.go), generalized from S/370's single global CPU to an
// arbitrary number of independently scheduled harts per spec.md §3/§4.5.
package hart

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcornwell/rvvm/csr"
	"github.com/rcornwell/rvvm/machine"
	"github.com/rcornwell/rvvm/mmu"
)

// Event bits for pendingEvents.
const (
	eventPause uint32 = 1 << iota
	eventPreempt
)

// waitEvent values.
const (
	waitStopped uint32 = 0
	waitRunning uint32 = 1
)

// Hart is one RISC-V hardware thread of execution.
type Hart struct {
	idx int
	m   *machine.Machine
	log *slog.Logger

	xlen int
	csr  *csr.File
	mmu  *mmu.MMU

	x [32]uint64 // integer register file, x[0] always reads as zero
	f [32]uint64 // FP register file, NaN-boxed for 32-bit values
	pc uint64

	priv int // current privilege, csr.U/S/M

	pendingIRQs   atomic.Uint64
	pendingEvents atomic.Uint32
	waitEvent     atomic.Uint32
	preemptMs     atomic.Int32

	trap   bool   // set by a failed instruction; consulted on dispatch-loop exit
	trapPC uint64 // deferred PC to resume at after servicing trap/IRQ

	wfiBlocked bool // set by the wfi handler; makes the outer loop block

	reservation   uint64 // address latched by the last LR
	reservationOK bool   // cleared on SC (success or failure) and on Reset

	userTraps bool // userland-emulation front-end mode (§6)

	epoch time.Time // wall-clock base for the `time`/`stimecmp` comparator

	wake chan struct{} // buffered(1); woken on new IRQ, pause, or preempt

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a hart bound to m, with CSR file reset to power-on state.
// It registers itself with the machine's event loop via AddHart.
func New(m *machine.Machine, idx int, xlen int, tlbBits int, log *slog.Logger) *Hart {
	if log == nil {
		log = slog.Default()
	}
	h := &Hart{
		idx:   idx,
		m:     m,
		log:   log,
		xlen:  xlen,
		csr:   csr.New(xlen, uint64(idx)),
		epoch: time.Now(),
		wake:  make(chan struct{}, 1),
	}
	h.mmu = mmu.NewMMU(tlbBits, xlen, m)
	h.waitEvent.Store(waitStopped)
	m.AddHart(h)
	return h
}

// Index implements machine.HartRunner.
func (h *Hart) Index() int { return h.idx }

// PC/SetPC/Priv/SetPriv/CSR/X/SetX expose state for the console and for
// the userland-emulation helper (read_cpu_reg/write_cpu_reg, §6).
func (h *Hart) PC() uint64      { return h.pc }
func (h *Hart) SetPC(v uint64)  { h.pc = v }
func (h *Hart) Priv() int       { return h.priv }
func (h *Hart) SetPriv(p int)   { h.priv = p }
func (h *Hart) CSRFile() *csr.File { return h.csr }

// X reads integer register i; x0 always reads as zero regardless of
// what was last stored there (spec.md §8: "register 0 reads as 0
// immediately after the instruction").
func (h *Hart) X(i int) uint64 {
	if i == 0 {
		return 0
	}
	return h.x[i] & h.xlenMask()
}

// SetX writes integer register i; writes to x0 are discarded.
func (h *Hart) SetX(i int, v uint64) {
	if i == 0 {
		return
	}
	h.x[i] = v
}

func (h *Hart) xlenMask() uint64 {
	if h.xlen == 32 {
		return 0xFFFFFFFF
	}
	return ^uint64(0)
}

// F/SetF read/write the raw FP register bits; single-precision values
// are expected to already be NaN-boxed by the caller.
func (h *Hart) F(i int) uint64     { return h.f[i] }
func (h *Hart) SetF(i int, v uint64) { h.f[i] = v }

// nowTime is the hart's view of the `time`/`stimecmp` comparator, a free
// running microsecond counter since the hart was created. Modelled
// independently of the cycle/instret counters in csr.File because WFI
// must advance it while the hart retires no instructions.
func (h *Hart) nowTime() uint64 {
	return uint64(time.Since(h.epoch).Microseconds())
}

// Interrupt implements the external-source half of spec.md §4.4: OR irq
// bits into pending_irqs and wake the hart if it is blocked in WFI or
// stopped.
func (h *Hart) Interrupt(irqBits uint64) {
	for {
		old := h.pendingIRQs.Load()
		if h.pendingIRQs.CompareAndSwap(old, old|irqBits) {
			break
		}
	}
	h.notify()
}

func (h *Hart) orEvents(bits uint32) {
	for {
		old := h.pendingEvents.Load()
		if h.pendingEvents.CompareAndSwap(old, old|bits) {
			return
		}
	}
}

func (h *Hart) notify() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// QueuePause implements machine.HartRunner: sets the pause event bit and
// wakes the hart without waiting for it to actually stop.
func (h *Hart) QueuePause() {
	h.orEvents(eventPause)
	h.notify()
}

// Pause implements machine.HartRunner: queues pause and joins the thread.
func (h *Hart) Pause() {
	h.runMu.Lock()
	running := h.running
	stopCh := h.stopCh
	h.runMu.Unlock()
	if !running {
		return
	}
	h.QueuePause()
	close(stopCh)
	h.wg.Wait()
	h.runMu.Lock()
	h.running = false
	h.runMu.Unlock()
}

// Preempt implements machine.HartRunner: ORs the preempt event bit and
// records the preemption duration consulted by the outer loop.
func (h *Hart) Preempt(ms int) {
	h.preemptMs.Store(int32(ms))
	h.orEvents(eventPreempt)
}

// PokeTimer implements machine.HartRunner: checks the Sstc timer
// comparator against the hart's wall clock and ORs the supervisor timer
// interrupt bit into mip if it has expired but was not yet flagged.
func (h *Hart) PokeTimer() {
	stimecmp, _ := h.csr.Read(csr.Stimecmp)
	if h.nowTime() >= stimecmp {
		if h.csr.MIP()&(1<<csr.IrqSTI) == 0 {
			h.csr.OrIP(1 << csr.IrqSTI)
			h.notify()
		}
	}
}

// Reset implements machine.HartRunner: reinitialises CSR/register state
// and seeds a0=hartID, a1=dtbAddr, PC=resetPC per spec.md §6.
func (h *Hart) Reset(resetPC, hartID, dtbAddr uint64) {
	h.csr = csr.New(h.xlen, hartID)
	h.mmu.TLB().Flush()
	for i := range h.x {
		h.x[i] = 0
	}
	for i := range h.f {
		h.f[i] = 0
	}
	h.priv = csr.M
	h.pc = resetPC
	h.SetX(10, hartID) // a0
	h.SetX(11, dtbAddr) // a1
	h.trap = false
	h.reservationOK = false
	h.pendingIRQs.Store(0)
	h.pendingEvents.Store(0)
	h.epoch = time.Now()
}

// Spawn implements machine.HartRunner: starts the outer-loop goroutine.
func (h *Hart) Spawn() {
	h.runMu.Lock()
	if h.running {
		h.runMu.Unlock()
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.runMu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.outerLoop()
	}()
}

// outerLoop is the per-hart lifecycle loop from spec.md §4.5.
func (h *Hart) outerLoop() {
	for {
		h.waitEvent.Store(waitRunning)

		pending := h.pendingIRQs.Swap(0)
		if pending != 0 {
			h.csr.OrIP(pending)
		}

		events := h.pendingEvents.Swap(0)

		if timerBit := uint64(1) << csr.IrqSTI; h.csr.MIP()&timerBit != 0 {
			stimecmp, _ := h.csr.Read(csr.Stimecmp)
			if h.nowTime() < stimecmp {
				h.csr.AndIP(^timerBit)
			}
		}

		if events&eventPause != 0 {
			h.waitEvent.Store(waitStopped)
			return
		}
		if events&eventPreempt != 0 {
			time.Sleep(time.Duration(h.preemptMs.Load()) * time.Millisecond)
		}

		h.deliverPendingIRQ()

		select {
		case <-h.stopCh:
			h.waitEvent.Store(waitStopped)
			return
		default:
		}

		h.dispatchLoop()

		if h.trap {
			h.pc = h.trapPC
			h.trap = false
		}

		if h.waitingForEvent() {
			h.waitForWakeOrTimer()
		}
	}
}

// waitingForEvent reports whether the dispatch loop exited purely
// because WFI put the hart to sleep (no trap, still "running" outer
// state, nothing else pending) — in which case the outer loop blocks
// instead of spinning.
func (h *Hart) waitingForEvent() bool {
	return !h.trap && h.wfiBlocked
}

func (h *Hart) waitForWakeOrTimer() {
	h.wfiBlocked = false
	if h.csr.PendingEnabled() != 0 {
		return
	}
	stimecmp, _ := h.csr.Read(csr.Stimecmp)
	now := h.nowTime()
	var timer <-chan time.Time
	if stimecmp > now {
		timer = time.After(time.Duration(stimecmp-now) * time.Microsecond)
	} else {
		timer = time.After(time.Millisecond)
	}
	select {
	case <-h.wake:
	case <-timer:
		h.PokeTimer()
	case <-h.stopCh:
	}
}

// deliverPendingIRQ applies spec.md §4.4's interrupt delivery rule once
// per outer-loop pass.
func (h *Hart) deliverPendingIRQ() {
	enabled := h.csr.PendingEnabled()
	if enabled == 0 {
		return
	}
	for bit := 0; bit < 64; bit++ {
		if enabled&(uint64(1)<<bit) == 0 {
			continue
		}
		if priv, pc, ok := h.csr.DeliverInterrupt(h.priv, bit, h.pc); ok {
			h.priv = priv
			h.pc = pc
			return
		}
	}
}
