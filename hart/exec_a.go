package hart

import (
	"encoding/binary"
	"sync"

	"github.com/rcornwell/rvvm/mmu"
)

// amoMu serializes the read-modify-write atomics across every hart in
// the process. Real hardware performs AMOs atomically on the memory
// bus; Go gives no portable way to CAS an arbitrary-width slot inside a
// shared []byte, so a single global lock stands in for the bus lock
// while a hart's RMW sequence is in flight.
var amoMu sync.Mutex

func registerAMO() {
	register(opAmo, 2, -1, execAmoWord)
	register(opAmo, 3, -1, execAmoDouble)
}

const (
	amoLR      = 0x02
	amoSC      = 0x03
	amoSwap    = 0x01
	amoAdd     = 0x00
	amoXor     = 0x04
	amoAnd     = 0x0C
	amoOr      = 0x08
	amoMin     = 0x10
	amoMax     = 0x14
	amoMinu    = 0x18
	amoMaxu    = 0x1C
)

func execAmoWord(h *Hart, instr uint32) bool  { return execAmo(h, instr, 4) }
func execAmoDouble(h *Hart, instr uint32) bool {
	if h.xlen != 64 {
		return false
	}
	return execAmo(h, instr, 8)
}

func execAmo(h *Hart, instr uint32, size int) bool {
	op := funct7(instr) >> 2
	addr := h.X(rs1(instr))

	if op == amoLR {
		buf := make([]byte, size)
		res := h.mmu.Access(h.csr.Satp(), h.effPriv(mmu.AccessRead), addr, mmu.AccessRead, buf, false, h.csr.MXR(), h.csr.SUM())
		if res.Fault != mmu.FaultNone {
			h.raiseTrap(loadFaultCause(res.Fault), addr)
			return true
		}
		h.reservation, h.reservationOK = addr, true
		h.SetX(rd(instr), signExtend(readLE(buf, size), size))
		h.advance(4)
		return true
	}
	if op == amoSC {
		if !h.reservationOK || h.reservation != addr {
			h.reservationOK = false
			h.SetX(rd(instr), 1)
			h.advance(4)
			return true
		}
		h.reservationOK = false
		buf := make([]byte, size)
		writeLE(buf, h.X(rs2(instr)), size)
		res := h.mmu.Access(h.csr.Satp(), h.effPriv(mmu.AccessWrite), addr, mmu.AccessWrite, buf, true, h.csr.MXR(), h.csr.SUM())
		if res.Fault != mmu.FaultNone {
			h.raiseTrap(storeFaultCause(res.Fault), addr)
			return true
		}
		h.SetX(rd(instr), 0)
		h.advance(4)
		return true
	}

	amoMu.Lock()
	defer amoMu.Unlock()

	buf := make([]byte, size)
	res := h.mmu.Access(h.csr.Satp(), h.effPriv(mmu.AccessRead), addr, mmu.AccessRead, buf, false, h.csr.MXR(), h.csr.SUM())
	if res.Fault != mmu.FaultNone {
		h.raiseTrap(loadFaultCause(res.Fault), addr)
		return true
	}
	old := readLE(buf, size)
	oldSigned := signExtend(old, size)
	operand := h.X(rs2(instr))

	var result uint64
	switch op {
	case amoSwap:
		result = operand
	case amoAdd:
		result = old + operand
	case amoXor:
		result = old ^ operand
	case amoAnd:
		result = old & operand
	case amoOr:
		result = old | operand
	case amoMin:
		if int64(oldSigned) < int64(signExtend(operand, size)) {
			result = old
		} else {
			result = operand
		}
	case amoMax:
		if int64(oldSigned) > int64(signExtend(operand, size)) {
			result = old
		} else {
			result = operand
		}
	case amoMinu:
		if truncate(old, size) < truncate(operand, size) {
			result = old
		} else {
			result = operand
		}
	case amoMaxu:
		if truncate(old, size) > truncate(operand, size) {
			result = old
		} else {
			result = operand
		}
	default:
		return false
	}

	writeLE(buf, result, size)
	res = h.mmu.Access(h.csr.Satp(), h.effPriv(mmu.AccessWrite), addr, mmu.AccessWrite, buf, true, h.csr.MXR(), h.csr.SUM())
	if res.Fault != mmu.FaultNone {
		h.raiseTrap(storeFaultCause(res.Fault), addr)
		return true
	}
	h.SetX(rd(instr), oldSigned)
	h.advance(4)
	return true
}

func readLE(buf []byte, size int) uint64 {
	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(buf))
	}
	return binary.LittleEndian.Uint64(buf)
}

func writeLE(buf []byte, v uint64, size int) {
	if size == 4 {
		binary.LittleEndian.PutUint32(buf, uint32(v))
	} else {
		binary.LittleEndian.PutUint64(buf, v)
	}
}

func signExtend(v uint64, size int) uint64 {
	if size == 4 {
		return uint64(int64(int32(v)))
	}
	return v
}

func truncate(v uint64, size int) uint64 {
	if size == 4 {
		return uint64(uint32(v))
	}
	return v
}
