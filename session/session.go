/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package session

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/relaycore/edge/buffer"
	"github.com/relaycore/edge/clock"
	liberr "github.com/relaycore/edge/errors"
	"github.com/relaycore/edge/lb"
	"github.com/relaycore/edge/stream"
)

// Flags records the boolean session-scoped bits §3's data model calls for.
type Flags uint8

const (
	// FlagDirect marks a session whose backend was picked directly from
	// the frontend's configuration rather than through content routing.
	FlagDirect Flags = 1 << iota
	// FlagAssigned marks that a server has been picked.
	FlagAssigned
	// FlagBackendAssigned marks that a backend (as opposed to just a
	// server) has been picked.
	FlagBackendAssigned
	// FlagAddressSet marks that the outbound connector's source address
	// has been resolved for this session.
	FlagAddressSet
)

// Timing holds the accept-to-close timestamps and byte counters §3 lists
// for logging and latency accounting. Zero means "not yet reached".
type Timing struct {
	Accept    clock.Tick
	Request   clock.Tick
	Connect   clock.Tick
	FirstByte clock.Tick
	Close     clock.Tick

	BytesIn  uint64
	BytesOut uint64
}

// Session owns one accepted client connection end-to-end: its two stream
// interfaces, their buffers, the backend pool it draws a server from, and
// the bookkeeping needed to log and account for it once it closes.
type Session struct {
	mu sync.Mutex

	id uint64

	ClientAddr net.Addr
	Frontend   string
	Backend    string
	Pool       lb.Pool

	Client *stream.Interface
	Server *stream.Interface

	ReqBuf  *buffer.Buffer
	RespBuf *buffer.Buffer

	flags       Flags
	assigned    *lb.Server
	finalLetter byte
	termReason  liberr.Error

	Timing Timing

	// Log is invoked once the session closes, after Timing and
	// finalLetter/termReason are finalized. It is left nil-safe: a
	// session with no logging callback simply isn't logged.
	Log func(*Session)
}

var nextID atomic.Uint64

// New builds a session in its initial state: both interfaces in
// stream.StateInit, flags clear, accept timestamp stamped from now.
func New(clientAddr net.Addr, frontend string, reqBufSize, respBufSize int, timeouts stream.Timeouts, now clock.Tick) *Session {
	s := &Session{
		id:         nextID.Add(1),
		ClientAddr: clientAddr,
		Frontend:   frontend,
		ReqBuf:     buffer.New(reqBufSize),
		RespBuf:    buffer.New(respBufSize),
	}
	s.Client = stream.New(s.ReqBuf, s.RespBuf, timeouts)
	s.Server = stream.New(s.RespBuf, s.ReqBuf, timeouts)
	s.Timing.Accept = now
	return s
}

// ID returns the session's process-lifetime-unique identifier, used as
// the log correlation key.
func (s *Session) ID() uint64 { return s.id }

// AssignBackend attaches a backend pool and its name; it does not yet
// pick a server (see PickServer).
func (s *Session) AssignBackend(name string, pool lb.Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Backend = name
	s.Pool = pool
	s.flags |= FlagBackendAssigned
}

// PickServer asks the assigned backend's pool for a server and advances
// the server-side stream interface from REQ to ASS (or QUE, left to the
// caller, if the pool reports none available and the backend has queue
// capacity — this method only performs the selection, not the queueing
// decision). avoid names a server to steer clear of — the one a prior
// connect attempt on this same session just failed against, on a
// CER→TAR→REQ retry — and is handed straight to the pool's NextServer,
// which returns it only as a last resort. Pass nil on the first pick.
func (s *Session) PickServer(allowBackup bool, avoid *lb.Server) (*lb.Server, liberr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Pool == nil {
		return nil, ErrorBackendDown.Error(nil)
	}
	srv, e := s.Pool.NextServer(allowBackup, avoid)
	if e != nil {
		return nil, e
	}
	s.assigned = srv
	s.flags |= FlagAssigned
	return srv, nil
}

// AssignedServer reports the server PickServer last selected, if any.
func (s *Session) AssignedServer() *lb.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assigned
}

// Flags reports the session's current flag bits.
func (s *Session) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// Terminate records why and through what final state a session ended,
// releases the connection bookkeeping against the assigned server if
// one was taken, and invokes Log if set. now stamps Timing.Close.
func (s *Session) Terminate(reason liberr.Error, now clock.Tick) {
	s.mu.Lock()
	s.termReason = reason
	s.Timing.Close = now
	if s.flags&FlagAssigned != 0 && s.assigned != nil && s.Pool != nil {
		s.Pool.DropConnection(s.assigned)
	}
	letter := s.Client.FinalLetter()
	if s.Server != nil {
		if sl := s.Server.FinalLetter(); sl != '-' {
			letter = sl
		}
	}
	s.finalLetter = letter
	log := s.Log
	s.mu.Unlock()

	if log != nil {
		log(s)
	}
}

// TerminationReason reports the error Terminate was called with, if any.
func (s *Session) TerminationReason() liberr.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termReason
}

// FinalLetter reports the combined final-state log code computed at
// Terminate.
func (s *Session) FinalLetter() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalLetter
}
