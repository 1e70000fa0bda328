package machine

import (
	"sync"
	"time"

	"github.com/rcornwell/rvvm/mmio"
)

// loop is the process-wide event-loop singleton spec.md §9 calls for:
// one goroutine servicing every running machine's timers, MMIO update
// callbacks and power transitions, grounded on the teacher's core.Start
// goroutine+done-channel+WaitGroup shutdown shape (emu/core/core.go).
type loop struct {
	mu       sync.Mutex
	machines map[*Machine]struct{}
	wg       sync.WaitGroup
	done     chan struct{}
	started  bool
}

var global = &loop{machines: make(map[*Machine]struct{})}

// Register adds m to the global event loop, starting the loop goroutine
// on first use.
func Register(m *Machine) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.machines[m] = struct{}{}
	if !global.started {
		global.started = true
		global.done = make(chan struct{})
		global.wg.Add(1)
		go global.run()
	}
}

// Unregister removes m from the event loop (called by Free).
func Unregister(m *Machine) {
	global.mu.Lock()
	defer global.mu.Unlock()
	delete(global.machines, m)
}

// Shutdown stops the global event loop, warning about and forcibly
// freeing any machine still registered (spec.md §7's "reaps machines
// left running at process exit").
func Shutdown() {
	global.mu.Lock()
	if !global.started {
		global.mu.Unlock()
		return
	}
	close(global.done)
	global.mu.Unlock()

	done := make(chan struct{})
	go func() {
		global.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	global.mu.Lock()
	leftover := make([]*Machine, 0, len(global.machines))
	for m := range global.machines {
		leftover = append(leftover, m)
	}
	global.machines = make(map[*Machine]struct{})
	global.started = false
	global.mu.Unlock()

	for _, m := range leftover {
		m.log.Warn("machine still running at shutdown, forcing free")
		m.Free()
	}
}

func (l *loop) run() {
	defer l.wg.Done()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.pass()
		}
	}
}

func (l *loop) pass() {
	l.mu.Lock()
	machines := make([]*Machine, 0, len(l.machines))
	for m := range l.machines {
		machines = append(machines, m)
	}
	l.mu.Unlock()

	for _, m := range machines {
		m.tick()
	}
}

// tick runs one event-loop pass for a single machine, per spec.md §4.6.
func (m *Machine) tick() {
	m.mu.Lock()
	power := m.power
	harts := append([]HartRunner(nil), m.harts...)
	m.mu.Unlock()

	switch power {
	case PowerOn:
		for _, h := range harts {
			h.PokeTimer()
		}
		m.updateRegions()

	case PowerReset, PowerOff:
		for _, h := range harts {
			h.Pause()
		}
		if power == PowerReset {
			if m.resetFn != nil && !m.resetFn(m) {
				m.mu.Lock()
				m.power = PowerOn
				m.mu.Unlock()
				return
			}
			resetPC, _ := m.GetOpt(OptResetPC)
			dtbAddr, _ := m.GetOpt(OptDTBAddr)
			img := m.buildResetImage(resetPC, dtbAddr)
			for _, h := range harts {
				h.Reset(img.PC, uint64(h.Index()), img.DTBAddr)
			}
			m.mu.Lock()
			m.power = PowerOn
			m.mu.Unlock()
			for _, h := range harts {
				h.Spawn()
			}
		} else {
			Unregister(m)
		}
	}
}

func (m *Machine) updateRegions() {
	m.mu.Lock()
	regions := append([]*mmio.Region(nil), m.regions...)
	m.mu.Unlock()
	for _, r := range regions {
		if r.Dev != nil {
			r.Dev.Update(r)
		} else if r.Type != nil && r.Type.Update != nil {
			r.Type.Update(r)
		}
	}
}
