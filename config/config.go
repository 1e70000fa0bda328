/*
 * rvvm - config: machine configuration file parser
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

// Package config parses a machine description file in the same spirit
// as the teacher's config/configparser: a line-oriented, '#'-comment
// grammar scanned with a position cursor over one line at a time. The
// teacher's grammar is per-device (<model> <address> <options>); this
// one is per-machine (<hart-count> <mem-size> <options...>, plus
// standalone key=value option lines), matching cmd/rvvm's single-machine
// command-line-equivalent use.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// Config holds every machine option value a config file can set. The CLI
// flags in cmd/rvvm do not set these; they only pick the config file, the
// log file, the monitor address and debug mode.
type Config struct {
	HartCount     int
	MemSize       uint64
	Bootrom       string
	Kernel        string
	DTB           string
	Cmdline       string
	JIT           bool
	JITCache      uint64
	JITHarvard    bool
	MaxCPUPercent int
	ResetPC       uint64
	HWImitate     bool
}

var errBadLine = errors.New("config: malformed line")

// Load reads and parses a configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a configuration stream line by line, accumulating every
// recognised field into one Config. A later option line overrides an
// earlier one for the same key; the positional hart count and memory
// size may each appear only once, and a repeat is an error.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{MaxCPUPercent: 100}
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := configLine{text: scanner.Text()}
		if err := line.apply(cfg); err != nil {
			return nil, fmt.Errorf("config: line %d: %w", lineNumber, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configLine is a position cursor over one line, the same shape as the
// teacher's optionLine (line/pos fields, skipSpace/isEOL/getNext helpers).
type configLine struct {
	text string
	pos  int
}

func (l *configLine) isEOL() bool {
	if l.pos >= len(l.text) {
		return true
	}
	return l.text[l.pos] == '#'
}

func (l *configLine) skipSpace() {
	for !l.isEOL() && unicode.IsSpace(rune(l.text[l.pos])) {
		l.pos++
	}
}

// nextToken returns the next whitespace-delimited token starting at the
// cursor, advancing past it. A double-quoted run (the teacher's
// parseQuoteString idiom for option values containing spaces, e.g.
// cmdline="console=ttyS0 root=/dev/vda") is not split on its internal
// whitespace.
func (l *configLine) nextToken() string {
	l.skipSpace()
	if l.isEOL() {
		return ""
	}
	start := l.pos
	inQuote := false
	for !l.isEOL() {
		c := l.text[l.pos]
		if c == '"' {
			inQuote = !inQuote
			l.pos++
			continue
		}
		if !inQuote && unicode.IsSpace(rune(c)) {
			break
		}
		l.pos++
	}
	return l.text[start:l.pos]
}

// apply tokenizes the line and folds every token into cfg. A token is
// either a bare positive integer (consumed positionally into HartCount
// then MemSize, the teacher's <model> <address> positional-field idiom)
// or a key=value option.
func (l *configLine) apply(cfg *Config) error {
	hartSeen, memSeen := cfg.HartCount != 0, cfg.MemSize != 0
	for {
		tok := l.nextToken()
		if tok == "" {
			return nil
		}
		if key, value, ok := strings.Cut(tok, "="); ok {
			if err := setOption(cfg, key, value); err != nil {
				return err
			}
			continue
		}
		switch {
		case !hartSeen:
			n, err := strconv.Atoi(tok)
			if err != nil {
				return fmt.Errorf("%w: expected hart count, got %q", errBadLine, tok)
			}
			cfg.HartCount = n
			hartSeen = true
		case !memSeen:
			size, err := parseSize(tok)
			if err != nil {
				return err
			}
			cfg.MemSize = size
			memSeen = true
		default:
			return fmt.Errorf("%w: unexpected token %q", errBadLine, tok)
		}
	}
}

// parseSize parses a byte count with an optional K/M/G suffix (the
// teacher's <number><K|M> address grammar, extended with G for the
// larger RAM sizes a RISC-V guest expects).
func parseSize(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty size", errBadLine)
	}
	mult := uint64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult, s = 1<<10, s[:len(s)-1]
	case 'm', 'M':
		mult, s = 1<<20, s[:len(s)-1]
	case 'g', 'G':
		mult, s = 1<<30, s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad size %q", errBadLine, s)
	}
	return n * mult, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: bad boolean %q", errBadLine, s)
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func setOption(cfg *Config, key, value string) error {
	value = trimQuotes(value)
	switch strings.ToLower(key) {
	case "bootrom":
		cfg.Bootrom = value
	case "kernel":
		cfg.Kernel = value
	case "dtb":
		cfg.DTB = value
	case "cmdline":
		cfg.Cmdline = value
	case "jit":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cfg.JIT = b
	case "jit_cache":
		size, err := parseSize(value)
		if err != nil {
			return err
		}
		cfg.JITCache = size
	case "jit_harvard":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cfg.JITHarvard = b
	case "max_cpu_percent":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > 100 {
			return fmt.Errorf("%w: max_cpu_percent must be in [1,100], got %q", errBadLine, value)
		}
		cfg.MaxCPUPercent = n
	case "reset_pc":
		n, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return fmt.Errorf("%w: bad reset_pc %q", errBadLine, value)
		}
		cfg.ResetPC = n
	case "hw_imitate":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cfg.HWImitate = b
	default:
		return fmt.Errorf("%w: unknown option %q", errBadLine, key)
	}
	return nil
}
