package console

import (
	"os"
	"strings"
	"testing"

	"github.com/rcornwell/rvvm/hart"
	"github.com/rcornwell/rvvm/machine"
)

func newTestConsole(t *testing.T) *Console {
	t.Helper()
	m, err := machine.New(0x80000000, 1<<20, 1, 64, nil)
	if err != nil {
		t.Fatalf("machine.New: %v", err)
	}
	h := hart.New(m, 0, 64, 10, nil)
	return New(m, []*hart.Hart{h}, nil)
}

func TestExamineAndDepositRAMRoundTrip(t *testing.T) {
	c := newTestConsole(t)
	quit, err := c.Process("deposit 0x80000000 0xab")
	if err != nil || quit {
		t.Fatalf("deposit: quit=%v err=%v", quit, err)
	}
	quit, err = c.Process("examine 0x80000000")
	if err != nil || quit {
		t.Fatalf("examine: quit=%v err=%v", quit, err)
	}
}

func TestDepositAndExamineRegister(t *testing.T) {
	c := newTestConsole(t)
	if _, err := c.Process("deposit reg 0 a0 0x42"); err != nil {
		t.Fatalf("deposit reg: %v", err)
	}
	if got := c.harts[0].X(10); got != 0x42 {
		t.Fatalf("a0 = %#x, want 0x42", got)
	}
}

func TestDepositAndExamineCSR(t *testing.T) {
	c := newTestConsole(t)
	if _, err := c.Process("deposit csr 0 mscratch 0x1234"); err != nil {
		t.Fatalf("deposit csr: %v", err)
	}
	v, err := c.harts[0].CSRFile().Read(0x340) // mscratch
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v != 0x1234 {
		t.Fatalf("mscratch = %#x, want 0x1234", v)
	}
}

func TestUnknownCommandIsAnError(t *testing.T) {
	c := newTestConsole(t)
	if _, err := c.Process("bogus"); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}

func TestAmbiguousPrefixIsAnError(t *testing.T) {
	c := newTestConsole(t)
	// "st" matches both "start" (min 3) and "stop" (min 3): too short for
	// either, so it must fall through to "not found", not a silent pick.
	if _, err := c.Process("st"); err == nil {
		t.Fatal("expected an error for an under-length ambiguous prefix")
	}
}

func TestShortestUnambiguousPrefixMatches(t *testing.T) {
	c := newTestConsole(t)
	// "sta" meets start's min (3) and is not a prefix of "stop".
	if quit, err := c.Process("sta"); err != nil || quit {
		t.Fatalf("quit=%v err=%v", quit, err)
	}
}

func TestQuitReturnsTrue(t *testing.T) {
	c := newTestConsole(t)
	quit, err := c.Process("quit")
	if err != nil {
		t.Fatalf("quit: %v", err)
	}
	if !quit {
		t.Fatal("expected quit=true")
	}
}

func TestShowListsHarts(t *testing.T) {
	c := newTestConsole(t)
	var sb strings.Builder
	c.out = &sb
	if _, err := c.Process("show"); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(sb.String(), "hart 0:") {
		t.Fatalf("show output missing hart line: %q", sb.String())
	}
}

func TestAttachAndDetachKernel(t *testing.T) {
	c := newTestConsole(t)
	path := t.TempDir() + "/kernel.bin"
	if err := os.WriteFile(path, []byte{1, 2, 3, 4}, 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	if _, err := c.Process("attach kernel " + path); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := c.Process("detach kernel"); err != nil {
		t.Fatalf("detach: %v", err)
	}
}
