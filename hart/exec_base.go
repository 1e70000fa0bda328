package hart

import (
	"encoding/binary"

	"github.com/rcornwell/rvvm/csr"
	"github.com/rcornwell/rvvm/mmu"
)

// Opcode groups, instr[6:2].
const (
	opLoad     = 0x00
	opMiscMem  = 0x03
	opOpImm    = 0x04
	opAuipc    = 0x05
	opOpImm32  = 0x06
	opStore    = 0x08
	opAmo      = 0x0B
	opOp       = 0x0C
	opLui      = 0x0D
	opOp32     = 0x0E
	opBranch   = 0x18
	opJalr     = 0x19
	opJal      = 0x1B
	opSystem   = 0x1C
)

func init() {
	registerLoadStore()
	registerOpImm()
	registerOp()
	registerBranchJump()
	registerSystem()
	registerAMO()
	registerCompressed()
}

// advance moves PC to the next sequential instruction; jump/branch
// handlers set h.pc directly instead and must not call this.
func (h *Hart) advance(width uint64) { h.pc += width }

func registerLoadStore() {
	register(opLoad, -1, -1, execLoad)
	register(opStore, -1, -1, execStore)
	register(opMiscMem, 0, -1, execFence)
	register(opMiscMem, 1, -1, execFenceI)
}

func execLoad(h *Hart, instr uint32) bool {
	base := h.X(rs1(instr))
	addr := base + uint64(immI(instr))
	width := funct3(instr)
	size := 1 << (width & 0x3)
	if size > 8 || (h.xlen == 32 && size > 4) {
		return false
	}
	buf := make([]byte, size)
	if fault, faultAddr := h.memAccess(addr, mmu.AccessRead, buf, false); fault != mmu.FaultNone {
		h.raiseTrap(loadFaultCause(fault), faultAddr)
		return true
	}
	var v uint64
	switch size {
	case 1:
		v = uint64(buf[0])
	case 2:
		v = uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		v = uint64(binary.LittleEndian.Uint32(buf))
	case 8:
		v = binary.LittleEndian.Uint64(buf)
	}
	if width&0x4 == 0 && size < 8 { // sign-extend unless the "U" (unsigned) bit is set
		shift := uint(64 - size*8)
		v = uint64(int64(v<<shift) >> shift)
	}
	h.SetX(rd(instr), v)
	h.advance(4)
	return true
}

func execStore(h *Hart, instr uint32) bool {
	base := h.X(rs1(instr))
	addr := base + uint64(immS(instr))
	size := 1 << funct3(instr)
	if size > 8 || (h.xlen == 32 && size > 4) {
		return false
	}
	buf := make([]byte, size)
	v := h.X(rs2(instr))
	switch size {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, v)
	}
	if fault, faultAddr := h.memAccess(addr, mmu.AccessWrite, buf, true); fault != mmu.FaultNone {
		h.raiseTrap(storeFaultCause(fault), faultAddr)
		return true
	}
	h.advance(4)
	return true
}

// memAccess runs a load/store of len(buf) bytes at addr, splitting the
// transfer into two aligned mmu.Access calls when it straddles a page
// boundary (mmu/access.go's Access does not itself split cross-page
// accesses; spec.md §4.2 slow-path step 1). On a fault it returns the
// virtual address that actually faulted (the second half's, for a
// straddling access), for tval.
func (h *Hart) memAccess(addr uint64, access mmu.Access, buf []byte, write bool) (mmu.Fault, uint64) {
	priv := h.effPriv(access)
	firstLen := mmu.PageSize - int(addr&uint64(mmu.PageSize-1))
	if firstLen >= len(buf) {
		res := h.mmu.Access(h.csr.Satp(), priv, addr, access, buf, write, h.csr.MXR(), h.csr.SUM())
		return res.Fault, addr
	}

	res := h.mmu.Access(h.csr.Satp(), priv, addr, access, buf[:firstLen], write, h.csr.MXR(), h.csr.SUM())
	if res.Fault != mmu.FaultNone {
		return res.Fault, addr
	}
	secondAddr := addr + uint64(firstLen)
	res = h.mmu.Access(h.csr.Satp(), priv, secondAddr, access, buf[firstLen:], write, h.csr.MXR(), h.csr.SUM())
	if res.Fault != mmu.FaultNone {
		return res.Fault, secondAddr
	}
	return mmu.FaultNone, addr
}

func loadFaultCause(f mmu.Fault) uint64 {
	if f == mmu.FaultAccess {
		return csr.CauseLoadAccessFault
	}
	return csr.CauseLoadPageFault
}

func storeFaultCause(f mmu.Fault) uint64 {
	if f == mmu.FaultAccess {
		return csr.CauseStoreAccessFault
	}
	return csr.CauseStorePageFault
}

// execFence implements the FENCE instruction by advancing PC only. Harts
// run one goroutine each; aligned 4/8-byte RAM loads/stores go through
// the native-atomic fast path in mmu.Access (RVWMO-relaxed, spec.md §5),
// and FENCE issues no separate host memory barrier.
func execFence(h *Hart, instr uint32) bool {
	h.advance(4)
	return true
}

// execFenceI flushes this hart's TLB and any cached fetch state so a
// subsequent fetch re-walks the page table and re-reads RAM, satisfying
// the post-fence.i coherence invariant for self-modifying code
// (spec.md §8, scenario 6).
func execFenceI(h *Hart, instr uint32) bool {
	h.mmu.TLB().Flush()
	h.advance(4)
	return true
}

func registerOpImm() {
	register(opAuipc, -1, -1, execAuipc)
	register(opLui, -1, -1, execLui)
	register(opOpImm, 0, -1, execAddi)
	register(opOpImm, 1, -1, execShiftImm)
	register(opOpImm, 2, -1, execSlti)
	register(opOpImm, 3, -1, execSltiu)
	register(opOpImm, 4, -1, execXori)
	register(opOpImm, 5, -1, execShiftImm)
	register(opOpImm, 6, -1, execOri)
	register(opOpImm, 7, -1, execAndi)
	register(opOpImm32, 0, -1, execAddiw)
	register(opOpImm32, 1, -1, execShiftImmW)
	register(opOpImm32, 5, -1, execShiftImmW)
}

func execAuipc(h *Hart, instr uint32) bool {
	h.SetX(rd(instr), h.pc+uint64(immU(instr)))
	h.advance(4)
	return true
}

func execLui(h *Hart, instr uint32) bool {
	h.SetX(rd(instr), uint64(immU(instr)))
	h.advance(4)
	return true
}

func execAddi(h *Hart, instr uint32) bool {
	h.SetX(rd(instr), h.X(rs1(instr))+uint64(immI(instr)))
	h.advance(4)
	return true
}

func execSlti(h *Hart, instr uint32) bool {
	if int64(h.X(rs1(instr))) < immI(instr) {
		h.SetX(rd(instr), 1)
	} else {
		h.SetX(rd(instr), 0)
	}
	h.advance(4)
	return true
}

func execSltiu(h *Hart, instr uint32) bool {
	if h.X(rs1(instr)) < uint64(immI(instr)) {
		h.SetX(rd(instr), 1)
	} else {
		h.SetX(rd(instr), 0)
	}
	h.advance(4)
	return true
}

func execXori(h *Hart, instr uint32) bool {
	h.SetX(rd(instr), h.X(rs1(instr))^uint64(immI(instr)))
	h.advance(4)
	return true
}

func execOri(h *Hart, instr uint32) bool {
	h.SetX(rd(instr), h.X(rs1(instr))|uint64(immI(instr)))
	h.advance(4)
	return true
}

func execAndi(h *Hart, instr uint32) bool {
	h.SetX(rd(instr), h.X(rs1(instr))&uint64(immI(instr)))
	h.advance(4)
	return true
}

func execShiftImm(h *Hart, instr uint32) bool {
	shamtMask := uint32(0x3F)
	if h.xlen == 32 {
		shamtMask = 0x1F
	}
	shamt := (instr >> 20) & shamtMask
	if funct3(instr) == 1 {
		if funct7bit(instr) != 0 {
			return false
		}
		h.SetX(rd(instr), h.X(rs1(instr))<<shamt)
	} else {
		if funct7bit(instr) == 1 {
			h.SetX(rd(instr), uint64(int64(h.X(rs1(instr)))>>shamt))
		} else {
			h.SetX(rd(instr), h.X(rs1(instr))>>shamt)
		}
	}
	h.advance(4)
	return true
}

func execAddiw(h *Hart, instr uint32) bool {
	if h.xlen != 64 {
		return false
	}
	v := int32(h.X(rs1(instr))) + int32(immI(instr))
	h.SetX(rd(instr), uint64(int64(v)))
	h.advance(4)
	return true
}

func execShiftImmW(h *Hart, instr uint32) bool {
	if h.xlen != 64 {
		return false
	}
	shamt := (instr >> 20) & 0x1F
	var v int32
	if funct3(instr) == 1 {
		if funct7bit(instr) != 0 {
			return false
		}
		v = int32(uint32(h.X(rs1(instr))) << shamt)
	} else if funct7bit(instr) == 1 {
		v = int32(h.X(rs1(instr))) >> shamt
	} else {
		v = int32(uint32(h.X(rs1(instr))) >> shamt)
	}
	h.SetX(rd(instr), uint64(int64(v)))
	h.advance(4)
	return true
}

func registerOp() {
	register(opOp, 0, 0, execAdd)
	register(opOp, 0, 1, execSub)
	register(opOp, 1, 0, execSll)
	register(opOp, 2, 0, execSlt)
	register(opOp, 3, 0, execSltu)
	register(opOp, 4, 0, execXor)
	register(opOp, 5, 0, execSrl)
	register(opOp, 5, 1, execSra)
	register(opOp, 6, 0, execOr)
	register(opOp, 7, 0, execAnd)
	register(opOp32, 0, 0, execAddw)
	register(opOp32, 0, 1, execSubw)
	register(opOp32, 1, 0, execSllw)
	register(opOp32, 4, 0, execDivw)
	register(opOp32, 5, 0, execSrlw)
	register(opOp32, 5, 1, execSraw)
	register(opOp32, 6, 0, execRemw)
	register(opOp32, 7, 0, execRemuw)
}

// execAdd, execSll, execSlt, execSltu, execXor, execSrl, execOr and
// execAnd each share their table slot (opcode5, funct3, funct7bit=0)
// with the corresponding M-extension instruction (funct7==1 selects
// MUL/MULH/MULHSU/MULHU/DIV/DIVU/REM/REMU; see exec_m.go) since only
// funct7's bit 5 is carried in the dispatch key.
func execAdd(h *Hart, instr uint32) bool {
	if funct7(instr) == 1 {
		return execMul(h, instr)
	}
	if funct7(instr) != 0 {
		return false
	}
	h.SetX(rd(instr), h.X(rs1(instr))+h.X(rs2(instr)))
	h.advance(4)
	return true
}
func execSub(h *Hart, instr uint32) bool {
	if funct7(instr) != 0x20 {
		return false
	}
	h.SetX(rd(instr), h.X(rs1(instr))-h.X(rs2(instr)))
	h.advance(4)
	return true
}
func execSll(h *Hart, instr uint32) bool {
	if funct7(instr) == 1 {
		return execMulh(h, instr)
	}
	if funct7(instr) != 0 {
		return false
	}
	shamt := h.X(rs2(instr)) & shiftMask(h.xlen)
	h.SetX(rd(instr), h.X(rs1(instr))<<shamt)
	h.advance(4)
	return true
}
func execSlt(h *Hart, instr uint32) bool {
	if funct7(instr) == 1 {
		return execMulhsu(h, instr)
	}
	if funct7(instr) != 0 {
		return false
	}
	if int64(h.X(rs1(instr))) < int64(h.X(rs2(instr))) {
		h.SetX(rd(instr), 1)
	} else {
		h.SetX(rd(instr), 0)
	}
	h.advance(4)
	return true
}
func execSltu(h *Hart, instr uint32) bool {
	if funct7(instr) == 1 {
		return execMulhu(h, instr)
	}
	if funct7(instr) != 0 {
		return false
	}
	if h.X(rs1(instr)) < h.X(rs2(instr)) {
		h.SetX(rd(instr), 1)
	} else {
		h.SetX(rd(instr), 0)
	}
	h.advance(4)
	return true
}
func execXor(h *Hart, instr uint32) bool {
	if funct7(instr) == 1 {
		return execDiv(h, instr)
	}
	if funct7(instr) != 0 {
		return false
	}
	h.SetX(rd(instr), h.X(rs1(instr))^h.X(rs2(instr)))
	h.advance(4)
	return true
}
func execSrl(h *Hart, instr uint32) bool {
	if funct7(instr) == 1 {
		return execDivu(h, instr)
	}
	if funct7(instr) != 0 {
		return false
	}
	shamt := h.X(rs2(instr)) & shiftMask(h.xlen)
	h.SetX(rd(instr), h.X(rs1(instr))>>shamt)
	h.advance(4)
	return true
}
func execSra(h *Hart, instr uint32) bool {
	if funct7(instr) != 0x20 {
		return false
	}
	shamt := h.X(rs2(instr)) & shiftMask(h.xlen)
	h.SetX(rd(instr), uint64(int64(h.X(rs1(instr)))>>shamt))
	h.advance(4)
	return true
}
func execOr(h *Hart, instr uint32) bool {
	if funct7(instr) == 1 {
		return execRem(h, instr)
	}
	if funct7(instr) != 0 {
		return false
	}
	h.SetX(rd(instr), h.X(rs1(instr))|h.X(rs2(instr)))
	h.advance(4)
	return true
}
func execAnd(h *Hart, instr uint32) bool {
	if funct7(instr) == 1 {
		return execRemu(h, instr)
	}
	if funct7(instr) != 0 {
		return false
	}
	h.SetX(rd(instr), h.X(rs1(instr))&h.X(rs2(instr)))
	h.advance(4)
	return true
}

func shiftMask(xlen int) uint64 {
	if xlen == 32 {
		return 0x1F
	}
	return 0x3F
}

func execAddw(h *Hart, instr uint32) bool {
	if h.xlen != 64 {
		return false
	}
	if funct7(instr) == 1 {
		return execMulw(h, instr)
	}
	if funct7(instr) != 0 {
		return false
	}
	v := int32(h.X(rs1(instr))) + int32(h.X(rs2(instr)))
	h.SetX(rd(instr), uint64(int64(v)))
	h.advance(4)
	return true
}
func execSubw(h *Hart, instr uint32) bool {
	if h.xlen != 64 || funct7(instr) != 0x20 {
		return false
	}
	v := int32(h.X(rs1(instr))) - int32(h.X(rs2(instr)))
	h.SetX(rd(instr), uint64(int64(v)))
	h.advance(4)
	return true
}
func execSllw(h *Hart, instr uint32) bool {
	if h.xlen != 64 || funct7(instr) != 0 {
		return false
	}
	shamt := h.X(rs2(instr)) & 0x1F
	v := int32(uint32(h.X(rs1(instr))) << shamt)
	h.SetX(rd(instr), uint64(int64(v)))
	h.advance(4)
	return true
}
func execSrlw(h *Hart, instr uint32) bool {
	if h.xlen != 64 {
		return false
	}
	if funct7(instr) == 1 {
		return execDivuw(h, instr)
	}
	if funct7(instr) != 0 {
		return false
	}
	shamt := h.X(rs2(instr)) & 0x1F
	v := int32(uint32(h.X(rs1(instr))) >> shamt)
	h.SetX(rd(instr), uint64(int64(v)))
	h.advance(4)
	return true
}
func execSraw(h *Hart, instr uint32) bool {
	if h.xlen != 64 || funct7(instr) != 0x20 {
		return false
	}
	shamt := h.X(rs2(instr)) & 0x1F
	v := int32(h.X(rs1(instr))) >> shamt
	h.SetX(rd(instr), uint64(int64(v)))
	h.advance(4)
	return true
}

func registerBranchJump() {
	register(opBranch, 0, -1, execBeq)
	register(opBranch, 1, -1, execBne)
	register(opBranch, 4, -1, execBlt)
	register(opBranch, 5, -1, execBge)
	register(opBranch, 6, -1, execBltu)
	register(opBranch, 7, -1, execBgeu)
	register(opJal, -1, -1, execJal)
	register(opJalr, 0, -1, execJalr)
}

func execBranch(h *Hart, instr uint32, taken bool) bool {
	if taken {
		h.pc = h.pc + uint64(immB(instr))
	} else {
		h.advance(4)
	}
	return true
}
func execBeq(h *Hart, instr uint32) bool {
	return execBranch(h, instr, h.X(rs1(instr)) == h.X(rs2(instr)))
}
func execBne(h *Hart, instr uint32) bool {
	return execBranch(h, instr, h.X(rs1(instr)) != h.X(rs2(instr)))
}
func execBlt(h *Hart, instr uint32) bool {
	return execBranch(h, instr, int64(h.X(rs1(instr))) < int64(h.X(rs2(instr))))
}
func execBge(h *Hart, instr uint32) bool {
	return execBranch(h, instr, int64(h.X(rs1(instr))) >= int64(h.X(rs2(instr))))
}
func execBltu(h *Hart, instr uint32) bool {
	return execBranch(h, instr, h.X(rs1(instr)) < h.X(rs2(instr)))
}
func execBgeu(h *Hart, instr uint32) bool {
	return execBranch(h, instr, h.X(rs1(instr)) >= h.X(rs2(instr)))
}

func execJal(h *Hart, instr uint32) bool {
	h.SetX(rd(instr), h.pc+4)
	h.pc = h.pc + uint64(immJ(instr))
	return true
}

func execJalr(h *Hart, instr uint32) bool {
	target := (h.X(rs1(instr)) + uint64(immI(instr))) &^ 1
	link := h.pc + 4
	h.pc = target
	h.SetX(rd(instr), link)
	return true
}
