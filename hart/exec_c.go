package hart

import (
	"encoding/binary"

	"github.com/rcornwell/rvvm/csr"
	"github.com/rcornwell/rvvm/mmu"
)

// registerCompressed is a placeholder hook for a future table-driven C
// decoder; execCompressed below decodes directly since the 16-bit
// formats don't share a uniform field layout the way the 32-bit
// opcode/funct3/funct7 scheme does.
func registerCompressed() {}

// execCompressed decodes and executes one 16-bit RVC instruction,
// reporting false for reserved/unimplemented encodings (which
// dispatchLoop turns into an illegal-instruction trap).
func (h *Hart) execCompressed(raw uint16) bool {
	quadrant := raw & 0x3
	f3 := (raw >> 13) & 0x7

	switch quadrant {
	case 0:
		return h.execC0(raw, f3)
	case 1:
		return h.execC1(raw, f3)
	case 2:
		return h.execC2(raw, f3)
	}
	return false
}

func cReg(field uint16) int { return int(field&0x7) + 8 }

func (h *Hart) execC0(raw uint16, f3 uint16) bool {
	rdp := cReg(raw >> 2)
	rs1p := cReg(raw >> 7)
	switch f3 {
	case 0x0: // C.ADDI4SPN
		imm := ((raw>>7)&0x30) | ((raw>>1)&0x3C0) | ((raw>>4)&0x4) | ((raw>>2)&0x8)
		if imm == 0 {
			return false
		}
		h.SetX(rdp, h.X(2)+uint64(imm))
		h.pc += 2
		return true
	case 0x2: // C.LW
		imm := ((raw>>4)&0x4) | ((raw>>7)&0x38) | ((raw<<1)&0x40)
		return h.cLoad(rs1p, rdp, uint64(imm), 4, true)
	case 0x3: // C.LD (RV64)
		if h.xlen != 64 {
			return false
		}
		imm := ((raw>>7)&0x38) | ((raw<<1)&0xC0)
		return h.cLoad(rs1p, rdp, uint64(imm), 8, true)
	case 0x6: // C.SW
		imm := ((raw>>4)&0x4) | ((raw>>7)&0x38) | ((raw<<1)&0x40)
		return h.cStore(rs1p, rdp, uint64(imm), 4)
	case 0x7: // C.SD (RV64)
		if h.xlen != 64 {
			return false
		}
		imm := ((raw>>7)&0x38) | ((raw<<1)&0xC0)
		return h.cStore(rs1p, rdp, uint64(imm), 8)
	}
	return false
}

func (h *Hart) cLoad(rs1p, rdp int, imm uint64, size int, signed bool) bool {
	addr := h.X(rs1p) + imm
	buf := make([]byte, size)
	res := h.mmu.Access(h.csr.Satp(), h.effPriv(mmu.AccessRead), addr, mmu.AccessRead, buf, false, h.csr.MXR(), h.csr.SUM())
	if res.Fault != mmu.FaultNone {
		h.raiseTrap(loadFaultCause(res.Fault), addr)
		return true
	}
	var v uint64
	if size == 4 {
		v = uint64(binary.LittleEndian.Uint32(buf))
		if signed {
			v = uint64(int64(int32(v)))
		}
	} else {
		v = binary.LittleEndian.Uint64(buf)
	}
	h.SetX(rdp, v)
	h.pc += 2
	return true
}

func (h *Hart) cStore(rs1p, rs2p int, imm uint64, size int) bool {
	addr := h.X(rs1p) + imm
	buf := make([]byte, size)
	if size == 4 {
		binary.LittleEndian.PutUint32(buf, uint32(h.X(rs2p)))
	} else {
		binary.LittleEndian.PutUint64(buf, h.X(rs2p))
	}
	res := h.mmu.Access(h.csr.Satp(), h.effPriv(mmu.AccessWrite), addr, mmu.AccessWrite, buf, true, h.csr.MXR(), h.csr.SUM())
	if res.Fault != mmu.FaultNone {
		h.raiseTrap(storeFaultCause(res.Fault), addr)
		return true
	}
	h.pc += 2
	return true
}

func signExt(v uint32, bits int) int64 {
	shift := uint(32 - bits)
	return int64(int32(v<<shift) >> shift)
}

func (h *Hart) execC1(raw uint16, f3 uint16) bool {
	rd := int((raw >> 7) & 0x1F)
	switch f3 {
	case 0x0: // C.ADDI (incl. C.NOP when rd==0)
		imm := uint32((raw>>12)&0x1)<<5 | uint32((raw>>2)&0x1F)
		h.SetX(rd, h.X(rd)+uint64(signExt(imm, 6)))
		h.pc += 2
		return true
	case 0x1: // C.ADDIW (RV64, rd!=0) / C.JAL (RV32)
		if h.xlen == 64 {
			if rd == 0 {
				return false
			}
			imm := uint32((raw>>12)&0x1)<<5 | uint32((raw>>2)&0x1F)
			v := int32(h.X(rd)) + int32(signExt(imm, 6))
			h.SetX(rd, uint64(int64(v)))
			h.pc += 2
			return true
		}
		imm := cjImm(raw)
		h.SetX(1, h.pc+2)
		h.pc = h.pc + uint64(imm)
		return true
	case 0x2: // C.LI
		imm := uint32((raw>>12)&0x1)<<5 | uint32((raw>>2)&0x1F)
		h.SetX(rd, uint64(signExt(imm, 6)))
		h.pc += 2
		return true
	case 0x3:
		if rd == 2 { // C.ADDI16SP
			imm := uint32((raw>>12)&0x1)<<9 | uint32((raw>>3)&0x3)<<7 |
				uint32((raw>>5)&0x1)<<6 | uint32((raw>>2)&0x1)<<5 | uint32((raw>>6)&0x1)<<4
			if imm == 0 {
				return false
			}
			h.SetX(2, h.X(2)+uint64(signExt(imm, 10)))
			h.pc += 2
			return true
		}
		if rd == 0 {
			return false
		}
		imm := uint32((raw>>12)&0x1)<<17 | uint32((raw>>2)&0x1F)<<12
		if imm == 0 {
			return false
		}
		h.SetX(rd, uint64(int64(int32(imm))))
		h.pc += 2
		return true
	case 0x4:
		return h.execC1Arith(raw)
	case 0x5: // C.J
		imm := cjImm(raw)
		h.pc = h.pc + uint64(imm)
		return true
	case 0x6, 0x7: // C.BEQZ / C.BNEZ
		rs1p := cReg(raw >> 7)
		imm := cbImm(raw)
		taken := h.X(rs1p) == 0
		if f3 == 0x7 {
			taken = h.X(rs1p) != 0
		}
		if taken {
			h.pc = h.pc + uint64(imm)
		} else {
			h.pc += 2
		}
		return true
	}
	return false
}

func cjImm(raw uint16) int64 {
	v := uint32((raw>>12)&0x1)<<11 | uint32((raw>>8)&0x1)<<10 | uint32((raw>>9)&0x3)<<8 |
		uint32((raw>>6)&0x1)<<7 | uint32((raw>>7)&0x1)<<6 | uint32((raw>>2)&0x1)<<5 |
		uint32((raw>>11)&0x1)<<4 | uint32((raw>>3)&0x7)<<1
	return signExt(v, 12)
}

func cbImm(raw uint16) int64 {
	v := uint32((raw>>12)&0x1)<<8 | uint32((raw>>5)&0x3)<<6 | uint32((raw>>2)&0x1)<<5 |
		uint32((raw>>10)&0x3)<<3 | uint32((raw>>3)&0x3)<<1
	return signExt(v, 9)
}

func (h *Hart) execC1Arith(raw uint16) bool {
	rdp := cReg(raw >> 7)
	bits1110 := (raw >> 10) & 0x3
	switch bits1110 {
	case 0x0: // C.SRLI
		shamt := uint((raw>>12)&0x1)<<5 | uint((raw>>2)&0x1F)
		h.SetX(rdp, h.X(rdp)>>shamt)
		h.pc += 2
		return true
	case 0x1: // C.SRAI
		shamt := uint((raw>>12)&0x1)<<5 | uint((raw>>2)&0x1F)
		h.SetX(rdp, uint64(int64(h.X(rdp))>>shamt))
		h.pc += 2
		return true
	case 0x2: // C.ANDI
		imm := uint32((raw>>12)&0x1)<<5 | uint32((raw>>2)&0x1F)
		h.SetX(rdp, h.X(rdp)&uint64(signExt(imm, 6)))
		h.pc += 2
		return true
	case 0x3:
		rs2p := cReg(raw >> 2)
		switch ((raw >> 12) & 0x1) << 2 | (raw>>5)&0x3 {
		case 0: // C.SUB
			h.SetX(rdp, h.X(rdp)-h.X(rs2p))
		case 1: // C.XOR
			h.SetX(rdp, h.X(rdp)^h.X(rs2p))
		case 2: // C.OR
			h.SetX(rdp, h.X(rdp)|h.X(rs2p))
		case 3: // C.AND
			h.SetX(rdp, h.X(rdp)&h.X(rs2p))
		case 4: // C.SUBW (RV64)
			if h.xlen != 64 {
				return false
			}
			v := int32(h.X(rdp)) - int32(h.X(rs2p))
			h.SetX(rdp, uint64(int64(v)))
		case 5: // C.ADDW (RV64)
			if h.xlen != 64 {
				return false
			}
			v := int32(h.X(rdp)) + int32(h.X(rs2p))
			h.SetX(rdp, uint64(int64(v)))
		default:
			return false
		}
		h.pc += 2
		return true
	}
	return false
}

func (h *Hart) execC2(raw uint16, f3 uint16) bool {
	rd := int((raw >> 7) & 0x1F)
	rs2 := int((raw >> 2) & 0x1F)
	switch f3 {
	case 0x0: // C.SLLI
		if rd == 0 {
			return false
		}
		shamt := uint((raw>>12)&0x1)<<5 | uint((raw>>2)&0x1F)
		h.SetX(rd, h.X(rd)<<shamt)
		h.pc += 2
		return true
	case 0x2: // C.LWSP
		if rd == 0 {
			return false
		}
		imm := uint32((raw>>4)&0x7)<<2 | uint32((raw>>12)&0x1)<<5 | uint32((raw>>2)&0x3)<<6
		return h.cLoad(2, rd, uint64(imm), 4, true)
	case 0x3: // C.LDSP (RV64)
		if h.xlen != 64 || rd == 0 {
			return false
		}
		imm := uint32((raw>>5)&0x3)<<3 | uint32((raw>>12)&0x1)<<5 | uint32((raw>>2)&0x7)<<6
		return h.cLoad(2, rd, uint64(imm), 8, true)
	case 0x4:
		hi := (raw >> 12) & 0x1
		if hi == 0 {
			if rs2 == 0 { // C.JR
				if rd == 0 {
					return false
				}
				h.pc = h.X(rd) &^ 1
				return true
			}
			h.SetX(rd, h.X(rs2)) // C.MV
			h.pc += 2
			return true
		}
		if rs2 == 0 {
			if rd == 0 { // C.EBREAK
				h.raiseTrap(csr.CauseBreakpoint, h.pc)
				return true
			}
			link := h.pc + 2 // C.JALR
			target := h.X(rd) &^ 1
			h.pc = target
			h.SetX(1, link)
			return true
		}
		if rd == 0 {
			return false
		}
		h.SetX(rd, h.X(rd)+h.X(rs2)) // C.ADD
		h.pc += 2
		return true
	case 0x6: // C.SWSP
		imm := uint32((raw>>9)&0xF)<<2 | uint32((raw>>7)&0x3)<<6
		return h.cStore(2, rs2, uint64(imm), 4)
	case 0x7: // C.SDSP (RV64)
		if h.xlen != 64 {
			return false
		}
		imm := uint32((raw>>10)&0x7)<<3 | uint32((raw>>7)&0x7)<<6
		return h.cStore(2, rs2, uint64(imm), 8)
	}
	return false
}
