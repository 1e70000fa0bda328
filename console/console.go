/*
 * rvvm - console: interactive operator console (examine/deposit/attach/...)
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package console implements the operator front-end for a running machine:
// examine/deposit on RAM and hart registers, attach/detach of boot images,
// and start/stop/reset of the machine's harts. The REPL loop is the
// teacher's command/reader.ConsoleReader shape (liner.NewLiner, a prompt
// loop, Ctrl-C aborts the session), and the command dispatch is the
// teacher's command/parser package's cmd{Name, Min, Process, Complete}
// table with shortest-unambiguous-prefix matching.
package console

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/peterh/liner"

	"github.com/rcornwell/rvvm/hart"
	"github.com/rcornwell/rvvm/machine"
)

// Console owns the machine and harts an operator session drives.
type Console struct {
	m     *machine.Machine
	harts []*hart.Hart
	log   *slog.Logger
	out   io.Writer
}

// New builds a Console over an already-constructed machine and its harts.
// Harts are passed separately from m because machine.Machine only exposes
// harts through the narrow HartRunner interface (register/CSR access is a
// console-only need, not something the event loop requires of a hart).
func New(m *machine.Machine, harts []*hart.Hart, log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{m: m, harts: harts, log: log, out: nil}
}

// Run starts the interactive REPL, reading lines from stdin until the
// operator quits or aborts with Ctrl-C. Mirrors the teacher's
// command/reader.ConsoleReader: liner for history/completion/editing,
// ProcessCommand per line, quit on either a command's quit return or
// liner.ErrPromptAborted.
func (c *Console) Run() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(s string) []string { return c.complete(s) })

	for {
		input, err := line.Prompt("rvvm> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return err
		}
		line.AppendHistory(input)

		quit, err := c.Process(input)
		if err != nil {
			c.printf("error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// SetOutput redirects command output away from stdout, for a monitor
// session driving this console over a network connection instead of a
// local terminal.
func (c *Console) SetOutput(w io.Writer) { c.out = w }

func (c *Console) printf(format string, args ...any) {
	if c.out != nil {
		fmt.Fprintf(c.out, format, args...)
		return
	}
	fmt.Printf(format, args...)
}
