package csr

import "testing"

func TestTrapEntersMWhenNotDelegated(t *testing.T) {
	f := New(64, 0)
	f.Write(Mtvec, OpSwap, 0x80000000)

	priv, pc := f.Trap(U, CauseIllegalInstruction, 0xDEAD, 0x1000)
	if priv != M {
		t.Fatalf("priv = %d, want M", priv)
	}
	if pc != 0x80000000 {
		t.Fatalf("pc = %#x, want mtvec base", pc)
	}
	if f.m.epc != 0x1000 {
		t.Fatalf("mepc = %#x, want 0x1000", f.m.epc)
	}
	if f.m.cause != CauseIllegalInstruction {
		t.Fatalf("mcause = %d, want %d", f.m.cause, CauseIllegalInstruction)
	}
	if f.m.tval != 0xDEAD {
		t.Fatalf("mtval = %#x, want 0xDEAD", f.m.tval)
	}
}

func TestTrapDelegatedToS(t *testing.T) {
	f := New(64, 0)
	f.Write(Medeleg, OpSwap, 1<<CauseBreakpoint)
	f.Write(Stvec, OpSwap, 0x40000000)

	priv, pc := f.Trap(U, CauseBreakpoint, 0, 0x2000)
	if priv != S {
		t.Fatalf("priv = %d, want S (delegated)", priv)
	}
	if pc != 0x40000000 {
		t.Fatalf("pc = %#x, want stvec base", pc)
	}
	if f.s.epc != 0x2000 {
		t.Fatalf("sepc = %#x, want 0x2000", f.s.epc)
	}
}

func TestTrapFromMNeverDelegates(t *testing.T) {
	f := New(64, 0)
	f.Write(Medeleg, OpSwap, 1<<CauseBreakpoint)
	f.Write(Mtvec, OpSwap, 0x80000000)

	priv, _ := f.Trap(M, CauseBreakpoint, 0, 0x3000)
	if priv != M {
		t.Fatalf("priv = %d, want M (traps from M never delegate)", priv)
	}
}

func TestDeliverInterruptWithheldWhenMIEClear(t *testing.T) {
	f := New(64, 0)
	// No delegation: target is always M. Current privilege M, global MIE
	// clear => not deliverable.
	_, _, ok := f.DeliverInterrupt(M, IrqMTI, 0x1000)
	if ok {
		t.Fatal("expected interrupt withheld: MIE clear")
	}
}

func TestDeliverInterruptDeliveredWhenEnabled(t *testing.T) {
	f := New(64, 0)
	f.Write(Mstatus, OpSet, StatusMIE)
	f.Write(Mtvec, OpSwap, 0x80000010)

	priv, pc, ok := f.DeliverInterrupt(M, IrqMTI, 0x1000)
	if !ok {
		t.Fatal("expected interrupt delivered")
	}
	if priv != M {
		t.Fatalf("priv = %d, want M", priv)
	}
	if pc != 0x80000010 {
		t.Fatalf("pc = %#x, want mtvec base (non-vectored)", pc)
	}
}

func TestDeliverInterruptVectored(t *testing.T) {
	f := New(64, 0)
	f.Write(Mstatus, OpSet, StatusMIE)
	f.Write(Mtvec, OpSwap, 0x80000000|0x1) // vectored mode

	_, pc, ok := f.DeliverInterrupt(M, IrqMTI, 0x1000)
	if !ok {
		t.Fatal("expected interrupt delivered")
	}
	want := uint64(0x80000000) + uint64(IrqMTI)*4
	if pc != want {
		t.Fatalf("pc = %#x, want %#x (vectored dispatch)", pc, want)
	}
}

func TestDeliverInterruptLowerTargetWithheld(t *testing.T) {
	f := New(64, 0)
	f.Write(Mideleg, OpSwap, 1<<IrqSTI)
	f.Write(Mstatus, OpSet, StatusSIE)

	// Running in M with the STI delegated to S: delegation does not apply
	// while in M, so the target is M, and with MIE clear it must not be
	// delivered even though SIE is set.
	_, _, ok := f.DeliverInterrupt(M, IrqSTI, 0x1000)
	if ok {
		t.Fatal("expected interrupt withheld: running in M with MIE clear")
	}
}

func TestRetRestoresPrivilegeAndPC(t *testing.T) {
	f := New(64, 0)
	f.Write(Mtvec, OpSwap, 0x80000000)
	f.Trap(U, CauseIllegalInstruction, 0, 0x1234)

	priv, pc, crossed := f.Ret(M)
	if priv != U {
		t.Fatalf("priv after mret = %d, want U", priv)
	}
	if pc != 0x1234 {
		t.Fatalf("pc after mret = %#x, want 0x1234", pc)
	}
	if !crossed {
		t.Fatal("expected a privilege-boundary crossing from M to U")
	}
}

func TestRetReenablesPriorInterruptState(t *testing.T) {
	f := New(64, 0)
	f.Write(Mstatus, OpSet, StatusMIE)
	f.Write(Mtvec, OpSwap, 0x80000000)
	f.Trap(M, CauseIllegalInstruction, 0, 0x1234)

	if f.m.status&StatusMIE != 0 {
		t.Fatal("MIE should be cleared on trap entry")
	}

	f.Ret(M)
	if f.m.status&StatusMIE == 0 {
		t.Fatal("MIE should be restored from MPIE on mret")
	}
}
