/*
 * rvvm - monitor: TCP transport for the operator console
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

// Package monitor exposes the console over a plain TCP connection, so an
// operator can attach with "nc"/"telnet" instead of running rvvm's own
// terminal. Grounded on telnet/listener.go's Server: a listener goroutine
// handing accepted connections to a worker goroutine over a channel, a
// shutdown channel plus WaitGroup for a bounded-time drain on Stop, one
// goroutine per connection. The teacher's telnet.go IAC option-negotiation
// state machine (NAWS, 3270 terminal-type detection, sub-negotiation) is
// dropped entirely: a CPU debug console has no terminal-type concept to
// negotiate, so the wire protocol here is plain newline-delimited text,
// read with bufio.Scanner and written straight back over the conn.
package monitor

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rcornwell/rvvm/console"
	"github.com/rcornwell/rvvm/hart"
	"github.com/rcornwell/rvvm/machine"
)

// Server accepts connections on one TCP address and services each with an
// independent console.Console bound to the same machine.
type Server struct {
	wg         sync.WaitGroup
	listener   net.Listener
	shutdown   chan struct{}
	connection chan net.Conn
	log        *slog.Logger

	m     *machine.Machine
	harts []*hart.Hart
}

// Start opens a listener on address (host:port, or ":port" for all
// interfaces) and begins servicing connections in the background. Call
// Stop to shut it down.
func Start(address string, m *machine.Machine, harts []*hart.Hart, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("monitor: listen on %s: %w", address, err)
	}
	s := &Server{
		listener:   listener,
		shutdown:   make(chan struct{}),
		connection: make(chan net.Conn),
		log:        log,
		m:          m,
		harts:      harts,
	}
	s.wg.Add(2)
	go s.acceptConnections()
	go s.handleConnections()
	s.log.Info("monitor listening", "addr", listener.Addr().String())
	return s, nil
}

// Stop closes the listener and waits up to one second for in-flight
// connections to finish, the same bounded drain as the teacher's
// telnet.Stop.
func (s *Server) Stop() {
	close(s.shutdown)
	s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		s.log.Warn("monitor: timed out waiting for connections to close")
	}
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		select {
		case <-s.shutdown:
			return
		default:
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.shutdown:
					return
				default:
					continue
				}
			}
			s.connection <- conn
		}
	}
}

func (s *Server) handleConnections() {
	defer s.wg.Done()
	for {
		select {
		case <-s.shutdown:
			return
		case conn := <-s.connection:
			s.wg.Add(1)
			go s.handleClient(conn)
		}
	}
}

// handleClient drives one console.Console over conn: read a line, run it,
// write the prompt, repeat, until the client disconnects or issues quit.
func (s *Server) handleClient(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	c := console.New(s.m, s.harts, s.log)
	c.SetOutput(conn)

	scanner := bufio.NewScanner(conn)
	fmt.Fprint(conn, "rvvm> ")
	for scanner.Scan() {
		quit, err := c.Process(scanner.Text())
		if err != nil {
			fmt.Fprintf(conn, "error: %v\n", err)
		}
		if quit {
			return
		}
		fmt.Fprint(conn, "rvvm> ")
	}
}
