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

package listener

import (
	"net"
	"sync/atomic"

	"github.com/relaycore/edge/engine"
	"github.com/relaycore/edge/fdregistry"
)

// State is the listener's admin/runtime state, mirrored from the per-proxy
// management task (SPEC_FULL.md §4.8): a listener goes Full when its
// owning proxy hits maxconn and Stopped when the proxy's stop grace window
// elapses.
type State uint8

const (
	StateBound State = iota
	StateListening
	StateFull
	StateStopped
)

// AcceptHandler is invoked once per accepted connection with the new
// connection's fd and its peer/local addresses. The handler takes
// ownership of fd (including eventually closing it); the listener never
// touches it again.
type AcceptHandler func(fd int, remote, local net.Addr)

// Options configure Listen.
type Options struct {
	Backlog     int
	Transparent bool // apply IP_TRANSPARENT/IP_FREEBIND so foreign-destination traffic can be accepted
}

// Listener owns one bound, listening TCP socket and feeds its accept loop
// through the readiness engine instead of a blocking Accept goroutine.
type Listener struct {
	fd      int
	addr    *net.TCPAddr
	backlog int

	state   atomic.Int32
	maxconn int
	conns   atomic.Int64

	eng     engine.Engine
	reg     fdregistry.Registry
	handler AcceptHandler
}

// Addr returns the bound local address.
func (l *Listener) Addr() *net.TCPAddr { return l.addr }

// FD returns the listening socket's file descriptor.
func (l *Listener) FD() int { return l.fd }

// State returns the listener's current admin/runtime state.
func (l *Listener) State() State { return State(l.state.Load()) }

// SetMaxConn sets the connection ceiling used to derive StateFull. Zero
// means unbounded.
func (l *Listener) SetMaxConn(n int) { l.maxconn = n }

// ConnCount returns the number of connections currently attributed to this
// listener.
func (l *Listener) ConnCount() int64 { return l.conns.Load() }

// SetFull forces the listener in or out of StateFull, called by the
// per-proxy management task as feconn crosses maxconn (SPEC_FULL.md §4.8).
func (l *Listener) SetFull(full bool) {
	if full {
		l.state.CompareAndSwap(int32(StateListening), int32(StateFull))
	} else {
		l.state.CompareAndSwap(int32(StateFull), int32(StateListening))
	}
}
