package console

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rcornwell/rvvm/csr"
)

// cmdLine is a position cursor over one command line, the teacher's
// command/parser.cmdLine shape (line/pos fields, word-at-a-time scanning).
type cmdLine struct {
	line string
	pos  int
}

func (l *cmdLine) isEOL() bool { return l.pos >= len(l.line) }

func (l *cmdLine) skipSpace() {
	for !l.isEOL() && l.line[l.pos] == ' ' {
		l.pos++
	}
}

// getWord returns the next space-delimited word, advancing past it.
func (l *cmdLine) getWord() string {
	l.skipSpace()
	start := l.pos
	for !l.isEOL() && l.line[l.pos] != ' ' {
		l.pos++
	}
	return l.line[start:l.pos]
}

// rest returns everything left on the line, unsplit (for file paths, which
// this console does not expect to contain embedded spaces).
func (l *cmdLine) rest() string {
	l.skipSpace()
	return l.line[l.pos:]
}

// cmd is one entry in the dispatch table, the teacher's
// command/parser.cmd{name, min, process, complete} shape: name is matched
// against the shortest unambiguous prefix of length >= min.
type cmd struct {
	name     string
	min      int
	process  func(*cmdLine, *Console) (bool, error)
	complete func(*cmdLine) []string
}

var cmdList = []cmd{
	{name: "examine", min: 2, process: cmdExamine},
	{name: "deposit", min: 2, process: cmdDeposit},
	{name: "attach", min: 2, process: cmdAttach, complete: completeAttach},
	{name: "detach", min: 2, process: cmdDetach, complete: completeAttach},
	{name: "start", min: 3, process: cmdStart},
	{name: "continue", min: 1, process: cmdStart},
	{name: "stop", min: 3, process: cmdStop},
	{name: "reset", min: 3, process: cmdReset},
	{name: "show", min: 2, process: cmdShow},
	{name: "quit", min: 1, process: cmdQuit},
}

var errNotFound = errors.New("console: command not found")
var errAmbiguous = errors.New("console: ambiguous command")

// matchList returns every table entry whose name has name as a prefix of
// at least its min length.
func matchList(name string) []cmd {
	var out []cmd
	if name == "" {
		return out
	}
	for _, c := range cmdList {
		if len(name) > len(c.name) || !strings.HasPrefix(c.name, name) {
			continue
		}
		if len(name) >= c.min {
			out = append(out, c)
		}
	}
	return out
}

// Process executes one command line, returning (quit, err). Mirrors the
// teacher's command/parser.ProcessCommand.
func (c *Console) Process(input string) (bool, error) {
	line := cmdLine{line: input}
	name := line.getWord()
	if name == "" {
		return false, nil
	}
	match := matchList(name)
	switch len(match) {
	case 0:
		return false, fmt.Errorf("%w: %q", errNotFound, name)
	case 1:
		return match[0].process(&line, c)
	default:
		return false, fmt.Errorf("%w: %q", errAmbiguous, name)
	}
}

func (c *Console) complete(input string) []string {
	line := cmdLine{line: input}
	name := line.getWord()
	if !line.isEOL() {
		match := matchList(name)
		if len(match) != 1 || match[0].complete == nil {
			return nil
		}
		return match[0].complete(&line)
	}
	match := matchList(name)
	out := make([]string, len(match))
	for i, m := range match {
		out[i] = m.name
	}
	return out
}

func completeAttach(*cmdLine) []string {
	return []string{"bootrom", "kernel", "dtb"}
}

func parseUint(tok string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(tok, "0x"), 16, 64)
}

func (c *Console) hart(n int) (*hartRef, error) {
	if n < 0 || n >= len(c.harts) {
		return nil, fmt.Errorf("console: no such hart %d", n)
	}
	return &hartRef{c.harts[n]}, nil
}

// examine <addr> [count]            -- dump guest RAM bytes
// examine reg <hart> <name>         -- dump an integer/pc register
// examine csr <hart> <name>         -- dump a CSR by name
func cmdExamine(l *cmdLine, c *Console) (bool, error) {
	first := l.getWord()
	switch first {
	case "reg":
		return false, examineReg(l, c)
	case "csr":
		return false, examineCSR(l, c)
	case "":
		return false, errors.New("console: examine requires an address")
	}
	addr, err := parseUint(first)
	if err != nil {
		return false, fmt.Errorf("console: bad address %q: %w", first, err)
	}
	count := 1
	if tok := l.getWord(); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return false, fmt.Errorf("console: bad count %q: %w", tok, err)
		}
		count = n
	}
	buf := make([]byte, count)
	if !c.m.ReadRAM(addr, buf) {
		return false, fmt.Errorf("console: address %#x not mapped", addr)
	}
	c.printf("%#x:", addr)
	for _, b := range buf {
		c.printf(" %02x", b)
	}
	c.printf("\n")
	return false, nil
}

// deposit <addr> <value>             -- write guest RAM
// deposit reg <hart> <name> <value>  -- write an integer/pc register
// deposit csr <hart> <name> <value>  -- write a CSR by name
func cmdDeposit(l *cmdLine, c *Console) (bool, error) {
	addrTok := l.getWord()
	switch addrTok {
	case "reg":
		return false, depositReg(l, c)
	case "csr":
		return false, depositCSR(l, c)
	}
	valTok := l.getWord()
	if addrTok == "" || valTok == "" {
		return false, errors.New("console: deposit requires an address and value")
	}
	addr, err := parseUint(addrTok)
	if err != nil {
		return false, fmt.Errorf("console: bad address %q: %w", addrTok, err)
	}
	val, err := strconv.ParseUint(strings.TrimPrefix(valTok, "0x"), 16, 64)
	if err != nil {
		return false, fmt.Errorf("console: bad value %q: %w", valTok, err)
	}
	buf := []byte{byte(val)}
	if !c.m.WriteRAM(addr, buf) {
		return false, fmt.Errorf("console: address %#x not mapped", addr)
	}
	return false, nil
}

// attach bootrom|kernel|dtb <path>
func cmdAttach(l *cmdLine, c *Console) (bool, error) {
	kind := l.getWord()
	path := l.rest()
	if kind == "" || path == "" {
		return false, errors.New("console: attach requires a kind and a path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("console: %w", err)
	}
	switch kind {
	case "bootrom":
		c.m.LoadBootrom(data)
	case "kernel":
		c.m.LoadKernel(data)
	case "dtb":
		c.m.LoadDTB(data)
	default:
		return false, fmt.Errorf("console: unknown attach kind %q", kind)
	}
	c.log.Info("attached image", "kind", kind, "path", path, "bytes", len(data))
	return false, nil
}

// detach bootrom|kernel|dtb
func cmdDetach(l *cmdLine, c *Console) (bool, error) {
	kind := l.getWord()
	switch kind {
	case "bootrom":
		c.m.LoadBootrom(nil)
	case "kernel":
		c.m.LoadKernel(nil)
	case "dtb":
		c.m.LoadDTB(nil)
	default:
		return false, fmt.Errorf("console: unknown detach kind %q", kind)
	}
	return false, nil
}

func cmdStart(_ *cmdLine, c *Console) (bool, error) {
	c.m.Start()
	return false, nil
}

func cmdStop(_ *cmdLine, c *Console) (bool, error) {
	c.m.Pause()
	return false, nil
}

func cmdReset(_ *cmdLine, c *Console) (bool, error) {
	c.m.RequestReset()
	return false, nil
}

func cmdShow(_ *cmdLine, c *Console) (bool, error) {
	c.printf("power=%v harts=%d membase=%#x memsize=%#x\n",
		c.m.Powered(), len(c.harts), c.m.MemBase(), c.m.MemSize())
	for i, h := range c.harts {
		c.printf("hart %d: pc=%#x priv=%d\n", i, h.PC(), h.Priv())
	}
	return false, nil
}

func cmdQuit(_ *cmdLine, _ *Console) (bool, error) {
	return true, nil
}

// hartRef adapts the console's plain-data register/CSR name grammar onto a
// concrete *hart.Hart.
type hartRef struct {
	h interface {
		X(int) uint64
		SetX(int, uint64)
		PC() uint64
		SetPC(uint64)
		CSRFile() *csr.File
	}
}

var regNames = map[string]int{
	"zero": 0, "ra": 1, "sp": 2, "gp": 3, "tp": 4,
	"t0": 5, "t1": 6, "t2": 7, "s0": 8, "fp": 8, "s1": 9,
	"a0": 10, "a1": 11, "a2": 12, "a3": 13, "a4": 14, "a5": 15, "a6": 16, "a7": 17,
	"s2": 18, "s3": 19, "s4": 20, "s5": 21, "s6": 22, "s7": 23, "s8": 24, "s9": 25,
	"s10": 26, "s11": 27,
	"t3": 28, "t4": 29, "t5": 30, "t6": 31,
}

var csrNames = map[string]int{
	"mstatus": csr.Mstatus, "misa": csr.Misa, "medeleg": csr.Medeleg,
	"mideleg": csr.Mideleg, "mie": csr.Mie, "mtvec": csr.Mtvec,
	"mscratch": csr.Mscratch, "mepc": csr.Mepc, "mcause": csr.Mcause,
	"mtval": csr.Mtval, "mip": csr.Mip, "mhartid": csr.Mhartid,
	"sstatus": csr.Sstatus, "sie": csr.Sie, "stvec": csr.Stvec,
	"sscratch": csr.Sscratch, "sepc": csr.Sepc, "scause": csr.Scause,
	"stval": csr.Stval, "sip": csr.Sip, "satp": csr.Satp,
	"stimecmp": csr.Stimecmp,
	"cycle": csr.Cycle, "time": csr.Time, "instret": csr.Instret,
}

func examineReg(l *cmdLine, c *Console) error {
	hartTok, nameTok := l.getWord(), l.getWord()
	idx, err := strconv.Atoi(hartTok)
	if err != nil {
		return fmt.Errorf("console: bad hart index %q", hartTok)
	}
	ref, err := c.hart(idx)
	if err != nil {
		return err
	}
	if nameTok == "pc" {
		c.printf("hart %d pc = %#x\n", idx, ref.h.PC())
		return nil
	}
	n, ok := regNames[nameTok]
	if !ok {
		return fmt.Errorf("console: unknown register %q", nameTok)
	}
	c.printf("hart %d %s = %#x\n", idx, nameTok, ref.h.X(n))
	return nil
}

func depositReg(l *cmdLine, c *Console) error {
	hartTok, nameTok, valTok := l.getWord(), l.getWord(), l.getWord()
	idx, err := strconv.Atoi(hartTok)
	if err != nil {
		return fmt.Errorf("console: bad hart index %q", hartTok)
	}
	ref, err := c.hart(idx)
	if err != nil {
		return err
	}
	val, err := parseUint(valTok)
	if err != nil {
		return fmt.Errorf("console: bad value %q: %w", valTok, err)
	}
	if nameTok == "pc" {
		ref.h.SetPC(val)
		return nil
	}
	n, ok := regNames[nameTok]
	if !ok {
		return fmt.Errorf("console: unknown register %q", nameTok)
	}
	ref.h.SetX(n, val)
	return nil
}

func depositCSR(l *cmdLine, c *Console) error {
	hartTok, nameTok, valTok := l.getWord(), l.getWord(), l.getWord()
	idx, err := strconv.Atoi(hartTok)
	if err != nil {
		return fmt.Errorf("console: bad hart index %q", hartTok)
	}
	ref, err := c.hart(idx)
	if err != nil {
		return err
	}
	id, ok := csrNames[nameTok]
	if !ok {
		return fmt.Errorf("console: unknown csr %q", nameTok)
	}
	val, err := parseUint(valTok)
	if err != nil {
		return fmt.Errorf("console: bad value %q: %w", valTok, err)
	}
	if err := ref.h.CSRFile().Write(id, csr.OpSwap, val); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}

func examineCSR(l *cmdLine, c *Console) error {
	hartTok, nameTok := l.getWord(), l.getWord()
	idx, err := strconv.Atoi(hartTok)
	if err != nil {
		return fmt.Errorf("console: bad hart index %q", hartTok)
	}
	ref, err := c.hart(idx)
	if err != nil {
		return err
	}
	id, ok := csrNames[nameTok]
	if !ok {
		return fmt.Errorf("console: unknown csr %q", nameTok)
	}
	v, err := ref.h.CSRFile().Read(id)
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	c.printf("hart %d %s = %#x\n", idx, nameTok, v)
	return nil
}
