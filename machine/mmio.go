package machine

import (
	"errors"
	"sort"

	"github.com/rcornwell/rvvm/mmio"
)

// ErrZoneCollision is returned by AttachMMIO when the requested range
// overlaps RAM or an existing region.
var ErrZoneCollision = errors.New("machine: mmio zone collision")

// AttachMMIO pauses the machine, normalises r's op-size window, rejects
// overlap with RAM or any other region, inserts it in Base order, and
// resumes, per spec.md §4.7.
func (m *Machine) AttachMMIO(r *mmio.Region) error {
	wasRunning := m.Powered()
	if wasRunning {
		m.Pause()
	}
	defer func() {
		if wasRunning {
			m.Start()
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	r.Normalize()
	if overlapsRAM(m.memBase, m.memSize, r.Base, r.Size) {
		return ErrZoneCollision
	}
	for _, existing := range m.regions {
		if existing.Size == 0 {
			continue
		}
		if overlaps(existing.Base, existing.Size, r.Base, r.Size) {
			if r.Dev != nil {
				r.Dev.Remove(r)
			}
			return ErrZoneCollision
		}
	}

	m.regions = append(m.regions, r)
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].Base < m.regions[j].Base })
	return nil
}

// DetachMMIO pauses, invokes the region's Remove callback, and replaces
// its slot with a placeholder so outstanding handles stay valid. If the
// machine is off, the placeholder's size is also zeroed, freeing the zone
// for reuse by MMIOZoneAuto.
func (m *Machine) DetachMMIO(r *mmio.Region) {
	wasRunning := m.Powered()
	if wasRunning {
		m.Pause()
	}
	defer func() {
		if wasRunning {
			m.Start()
		}
	}()

	m.mu.Lock()
	base := r.Base
	directMapped := r.Mapping != nil
	idx := -1
	for i, existing := range m.regions {
		if existing == r {
			idx = i
			break
		}
	}
	if idx >= 0 {
		if r.Dev != nil {
			r.Dev.Remove(r)
		}
		placeholder := mmio.Placeholder(base)
		if wasRunning {
			placeholder.Size = r.Size
		}
		m.regions[idx] = placeholder
	}
	harts := append([]HartRunner(nil), m.harts...)
	m.mu.Unlock()

	if directMapped {
		for _, h := range harts {
			h.QueuePause() // forces each hart's next outer-loop pass to flush its TLB
		}
	}
}

// GetMMIO returns the region presently covering addr, if any.
func (m *Machine) GetMMIO(addr uint64) (*mmio.Region, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.findRegionLocked(addr)
	return r, r != nil
}

// MMIOZoneAuto returns preferred if it does not collide with RAM or any
// attached region; otherwise it returns the address just past the
// occupying region, iterating until a stable, non-colliding base is
// found (spec.md §4.7's zone allocator).
func (m *Machine) MMIOZoneAuto(preferred, size uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := preferred
	for {
		moved := false
		if overlapsRAM(m.memBase, m.memSize, base, size) {
			base = m.memBase + m.memSize
			moved = true
		}
		for _, r := range m.regions {
			if r.Size == 0 {
				continue
			}
			if overlaps(r.Base, r.Size, base, size) {
				base = r.Base + r.Size
				moved = true
			}
		}
		if !moved {
			return base
		}
	}
}

func overlaps(base1, size1, base2, size2 uint64) bool {
	end1 := base1 + size1
	end2 := base2 + size2
	return base1 < end2 && base2 < end1
}

func overlapsRAM(memBase, memSize, base, size uint64) bool {
	if memSize == 0 {
		return false
	}
	return overlaps(memBase, memSize, base, size)
}
