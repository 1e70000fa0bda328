package monitor

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rcornwell/rvvm/hart"
	"github.com/rcornwell/rvvm/machine"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	m, err := machine.New(0x80000000, 1<<20, 1, 64, nil)
	if err != nil {
		t.Fatalf("machine.New: %v", err)
	}
	h := hart.New(m, 0, 64, 10, nil)
	s, err := Start("127.0.0.1:0", m, []*hart.Hart{h}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestClientCanRunAShowCommand(t *testing.T) {
	s := newTestServer(t)
	conn, err := net.Dial("tcp", s.listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)

	readUntilPrompt(t, reader) // initial prompt
	fmt.Fprintln(conn, "show")
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if !strings.Contains(line, "harts=1") {
		t.Fatalf("unexpected show output: %q", line)
	}
}

func TestQuitClosesTheSessionLoop(t *testing.T) {
	s := newTestServer(t)
	conn, err := net.Dial("tcp", s.listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)

	readUntilPrompt(t, reader)
	fmt.Fprintln(conn, "quit")

	buf := make([]byte, 64)
	// After quit the server closes the connection; the read should
	// eventually return io.EOF rather than hang.
	_, _ = conn.Read(buf)
}

func readUntilPrompt(t *testing.T, r *bufio.Reader) {
	t.Helper()
	buf := make([]byte, len("rvvm> "))
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("reading prompt: %v", err)
	}
}
