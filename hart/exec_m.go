package hart

import "math/bits"

// M-extension arithmetic. Reached by delegation from the base OP/OP-32
// handlers in exec_base.go, which share a dispatch slot with these
// whenever funct7 selects the M encoding (0000001) instead of the base
// one (0000000/0100000) — RISC-V only dedicates funct7 bit 5 to the
// dispatch key, so the handlers must re-test the full funct7 field.

func execMul(h *Hart, instr uint32) bool {
	h.SetX(rd(instr), h.X(rs1(instr))*h.X(rs2(instr)))
	h.advance(4)
	return true
}

func execMulh(h *Hart, instr uint32) bool {
	a, b := int64(h.X(rs1(instr))), int64(h.X(rs2(instr)))
	h.SetX(rd(instr), uint64(mulhSigned(a, b)))
	h.advance(4)
	return true
}

func mulhSigned(a, b int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if a < 0 {
		hi -= uint64(b)
	}
	if b < 0 {
		hi -= uint64(a)
	}
	_ = lo
	return int64(hi)
}

func execMulhsu(h *Hart, instr uint32) bool {
	a := int64(h.X(rs1(instr)))
	b := h.X(rs2(instr))
	hi, _ := bits.Mul64(uint64(a), b)
	if a < 0 {
		hi -= b
	}
	h.SetX(rd(instr), hi)
	h.advance(4)
	return true
}

func execMulhu(h *Hart, instr uint32) bool {
	hi, _ := bits.Mul64(h.X(rs1(instr)), h.X(rs2(instr)))
	h.SetX(rd(instr), hi)
	h.advance(4)
	return true
}

func execDiv(h *Hart, instr uint32) bool {
	a, b := int64(h.X(rs1(instr))), int64(h.X(rs2(instr)))
	switch {
	case b == 0:
		h.SetX(rd(instr), ^uint64(0))
	case a == minInt64(h.xlen) && b == -1:
		h.SetX(rd(instr), uint64(a))
	default:
		h.SetX(rd(instr), uint64(a/b))
	}
	h.advance(4)
	return true
}

func execDivu(h *Hart, instr uint32) bool {
	a, b := h.X(rs1(instr)), h.X(rs2(instr))
	if b == 0 {
		h.SetX(rd(instr), ^uint64(0))
	} else {
		h.SetX(rd(instr), a/b)
	}
	h.advance(4)
	return true
}

func execRem(h *Hart, instr uint32) bool {
	a, b := int64(h.X(rs1(instr))), int64(h.X(rs2(instr)))
	switch {
	case b == 0:
		h.SetX(rd(instr), uint64(a))
	case a == minInt64(h.xlen) && b == -1:
		h.SetX(rd(instr), 0)
	default:
		h.SetX(rd(instr), uint64(a%b))
	}
	h.advance(4)
	return true
}

func execRemu(h *Hart, instr uint32) bool {
	a, b := h.X(rs1(instr)), h.X(rs2(instr))
	if b == 0 {
		h.SetX(rd(instr), a)
	} else {
		h.SetX(rd(instr), a%b)
	}
	h.advance(4)
	return true
}

func minInt64(xlen int) int64 {
	if xlen == 32 {
		return int64(int32(-1 << 31))
	}
	return -1 << 63
}

// RV64-only W-suffixed forms operate on the low 32 bits and sign-extend
// the 32-bit result.

func execMulw(h *Hart, instr uint32) bool {
	if h.xlen != 64 {
		return false
	}
	v := int32(h.X(rs1(instr))) * int32(h.X(rs2(instr)))
	h.SetX(rd(instr), uint64(int64(v)))
	h.advance(4)
	return true
}

func execDivw(h *Hart, instr uint32) bool {
	if h.xlen != 64 || funct7(instr) != 1 {
		return false
	}
	a, b := int32(h.X(rs1(instr))), int32(h.X(rs2(instr)))
	var v int32
	switch {
	case b == 0:
		h.SetX(rd(instr), ^uint64(0))
		h.advance(4)
		return true
	case a == -1<<31 && b == -1:
		v = a
	default:
		v = a / b
	}
	h.SetX(rd(instr), uint64(int64(v)))
	h.advance(4)
	return true
}

func execDivuw(h *Hart, instr uint32) bool {
	if h.xlen != 64 {
		return false
	}
	a, b := uint32(h.X(rs1(instr))), uint32(h.X(rs2(instr)))
	var v uint32
	if b == 0 {
		h.SetX(rd(instr), ^uint64(0))
		h.advance(4)
		return true
	}
	v = a / b
	h.SetX(rd(instr), uint64(int64(int32(v))))
	h.advance(4)
	return true
}

func execRemw(h *Hart, instr uint32) bool {
	if h.xlen != 64 || funct7(instr) != 1 {
		return false
	}
	a, b := int32(h.X(rs1(instr))), int32(h.X(rs2(instr)))
	var v int32
	switch {
	case b == 0:
		v = a
	case a == -1<<31 && b == -1:
		v = 0
	default:
		v = a % b
	}
	h.SetX(rd(instr), uint64(int64(v)))
	h.advance(4)
	return true
}

func execRemuw(h *Hart, instr uint32) bool {
	if h.xlen != 64 {
		return false
	}
	a, b := uint32(h.X(rs1(instr))), uint32(h.X(rs2(instr)))
	var v uint32
	if b == 0 {
		v = a
	} else {
		v = a % b
	}
	h.SetX(rd(instr), uint64(int64(int32(v))))
	h.advance(4)
	return true
}
