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

package stream

import (
	"sync"
	"time"

	"github.com/relaycore/edge/buffer"
	"github.com/relaycore/edge/clock"
	liberr "github.com/relaycore/edge/errors"
)

// Timeouts bundles the per-phase deadlines an Interface applies to its own
// transitions (§4's "every long-lived wait has a deadline" rule).
type Timeouts struct {
	Queue     time.Duration
	Connect   time.Duration
	Tarpit    time.Duration
	Data      time.Duration
	Retries   int
}

// Interface is one half of a session's stream: either the client-facing
// side or the server-facing side. It owns no socket directly — the fd
// belongs to whichever package drives it (listener for the client side,
// connector for the server side) — but tracks the state machine, the
// deadline for whatever it is currently waiting on, and the buffer it
// reads from / writes to.
type Interface struct {
	mu sync.Mutex

	state    State
	fd       int
	deadline clock.Tick
	timeouts Timeouts
	retries  int

	// recv is filled by inbound readable events and drained by the peer
	// interface's send path; send is the mirror for outbound data. Both
	// are owned by the session, not by the Interface.
	recv *buffer.Buffer
	send *buffer.Buffer

	lastErr liberr.Error
}

// New builds an Interface in StateInit, bound to the given buffers.
func New(recv, send *buffer.Buffer, t Timeouts) *Interface {
	return &Interface{state: StateInit, recv: recv, send: send, timeouts: t, retries: t.Retries}
}

// State reports the current state under lock.
func (si *Interface) State() State {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.state
}

// FD reports the fd currently associated with this interface, or 0 if
// none (StateInit, StateQueue, StateTarpit never have one).
func (si *Interface) FD() int {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.fd
}

// LastError reports the error that caused the most recent failed
// transition, if any.
func (si *Interface) LastError() liberr.Error {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.lastErr
}

// FinalLetter reports the log code for the interface's current state,
// per §4.7's R/C/H/D/L/Q/T final-state field.
func (si *Interface) FinalLetter() byte {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.state.letter()
}

func (si *Interface) transition(to State, deadline clock.Tick) {
	si.state = to
	si.deadline = deadline
}

// RequestConnect moves INI → REQ: the session wants a backend connection.
func (si *Interface) RequestConnect() liberr.Error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.state != StateInit && si.state != StateTarpit {
		return ErrorInvalidTransition.Error(nil)
	}
	si.transition(StateRequest, 0)
	return nil
}

// Queue moves REQ → QUE: no server was available but the backend has
// queue capacity. now+Timeouts.Queue becomes the queue-timeout deadline.
func (si *Interface) Queue(now clock.Tick) liberr.Error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.state != StateRequest {
		return ErrorInvalidTransition.Error(nil)
	}
	si.transition(StateQueue, now.Add(si.timeouts.Queue))
	return nil
}

// Assign moves REQ or QUE → ASS: the load balancer returned a server.
func (si *Interface) Assign() liberr.Error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.state != StateRequest && si.state != StateQueue {
		return ErrorInvalidTransition.Error(nil)
	}
	si.transition(StateAssigned, 0)
	return nil
}

// QueueAbort terminates a queued stream when the client goes away before
// a server frees up.
func (si *Interface) QueueAbort() liberr.Error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.state != StateQueue {
		return ErrorInvalidTransition.Error(nil)
	}
	si.lastErr = ErrorQueueAborted.Error(nil)
	si.transition(StateClosed, 0)
	return nil
}

// Accept moves INI → EST directly: the frontend side of a stream is
// already connected the instant the listener hands off an accepted fd,
// unlike the backend side which must still walk REQ/ASS/CON. Grounded on
// the reference proxy's frontend stream-interface, which is seeded
// straight into SI_ST_EST by the accept path rather than driven through
// the connect state machine.
func (si *Interface) Accept(fd int, now clock.Tick) liberr.Error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.state != StateInit {
		return ErrorInvalidTransition.Error(nil)
	}
	si.fd = fd
	si.transition(StateEstablished, now.Add(si.timeouts.Data))
	return nil
}

// ConnectIssued moves ASS → CON once the connector has initiated a
// non-blocking connect on fd. deadline is now+Timeouts.Connect.
func (si *Interface) ConnectIssued(fd int, now clock.Tick) liberr.Error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.state != StateAssigned {
		return ErrorInvalidTransition.Error(nil)
	}
	si.fd = fd
	si.transition(StateConnecting, now.Add(si.timeouts.Connect))
	return nil
}

// ConnectEstablished moves CON → EST on a successful connect completion.
func (si *Interface) ConnectEstablished(now clock.Tick) liberr.Error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.state != StateConnecting {
		return ErrorInvalidTransition.Error(nil)
	}
	si.transition(StateEstablished, now.Add(si.timeouts.Data))
	return nil
}

// ConnectFailed moves CON → CER on a failed connect, recording cause.
func (si *Interface) ConnectFailed(cause liberr.Error) liberr.Error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.state != StateConnecting {
		return ErrorInvalidTransition.Error(nil)
	}
	si.lastErr = cause
	si.state = StateConnectError
	return nil
}

// Retry resolves CER: TAR → REQ (after the turn-around delay) if retries
// remain, or CER → CLO (error: connect-error) otherwise. now becomes the
// tarpit deadline in the retry case.
func (si *Interface) Retry(now clock.Tick) liberr.Error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.state != StateConnectError {
		return ErrorInvalidTransition.Error(nil)
	}
	if si.retries <= 0 {
		si.lastErr = ErrorConnectError.Error(si.lastErr)
		si.transition(StateClosed, 0)
		return si.lastErr
	}
	si.retries--
	si.transition(StateTarpit, now.Add(si.timeouts.Tarpit))
	return nil
}

// TarpitElapsed moves TAR → REQ once the turn-around delay has passed.
// Callers drive this from Update; it is exported so a session can force
// an immediate retry (e.g. on an administrative "retry now").
func (si *Interface) TarpitElapsed() liberr.Error {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.state != StateTarpit {
		return ErrorInvalidTransition.Error(nil)
	}
	si.transition(StateRequest, 0)
	return nil
}

// ShutRead marks the receive buffer permanently closed for further input
// and, per §4.7, starts the EST → DIS transition if the interface was
// established.
func (si *Interface) ShutRead(now clock.Tick) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.recv.SetReadShut()
	si.maybeDisconnect(now)
}

// ShutWrite marks the send buffer permanently closed for further output
// and, per §4.7, starts the EST → DIS transition if the interface was
// established.
func (si *Interface) ShutWrite(now clock.Tick) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.send.SetWriteShut()
	si.maybeDisconnect(now)
}

func (si *Interface) maybeDisconnect(now clock.Tick) {
	if si.state == StateEstablished {
		si.transition(StateDisconnecting, now)
	}
}

// Release moves DIS → CLO after last cleanup: both buffers are dropped
// and the fd is cleared for the caller to close.
func (si *Interface) Release() int {
	si.mu.Lock()
	defer si.mu.Unlock()
	fd := si.fd
	si.fd = 0
	si.state = StateClosed
	return fd
}

// CheckRecv reports whether there is data in the receive buffer ready for
// the peer interface to consume.
func (si *Interface) CheckRecv() bool {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.recv.Len() > 0
}

// CheckSend reports whether the send buffer has room to accept more data
// from the peer interface.
func (si *Interface) CheckSend() bool {
	si.mu.Lock()
	defer si.mu.Unlock()
	return !si.send.IsFull()
}

// Update re-evaluates deadline-driven transitions for the current turn:
// a queue timeout closes the stream, a tarpit whose delay elapsed returns
// to REQ, a connecting interface past its connect deadline becomes a
// connect-timeout failure, and an established interface past its data
// deadline with both buffers idle is shut in both directions.
func (si *Interface) Update(now clock.Tick) liberr.Error {
	si.mu.Lock()
	defer si.mu.Unlock()

	switch si.state {
	case StateQueue:
		if si.deadline.Expired(now) {
			si.lastErr = ErrorQueueTimeout.Error(nil)
			si.transition(StateClosed, 0)
			return si.lastErr
		}
	case StateTarpit:
		if si.deadline.Expired(now) {
			si.transition(StateRequest, 0)
		}
	case StateConnecting:
		if si.deadline.Expired(now) {
			si.lastErr = ErrorConnectError.Error(nil)
			si.state = StateConnectError
			return si.lastErr
		}
	case StateEstablished:
		if si.deadline.Expired(now) && si.recv.IsEmpty() && si.send.IsEmpty() {
			si.recv.SetReadShut()
			si.send.SetWriteShut()
			si.transition(StateDisconnecting, now)
		}
	case StateDisconnecting:
		if si.recv.ReadShut() && si.send.WriteShut() {
			si.state = StateClosed
		}
	}
	return nil
}
