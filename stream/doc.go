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

// Package stream implements the stream-interface state machine that
// tracks one half of a proxied connection (the client side or the server
// side) from first intent to close. A session (package session) owns two
// stream interfaces and the buffer feeding each.
package stream

// State is one state of the stream-interface machine. Transitions are
// driven by the load balancer, the outbound connector, and I/O readiness
// on the underlying fd; see Interface's methods for the operations that
// cause each transition.
type State int

const (
	// StateInit is the untouched state: no connection requested yet.
	StateInit State = iota
	// StateRequest means a backend connection is desired; transient.
	StateRequest
	// StateQueue means the stream is waiting in the backend's queue for
	// a server to free up.
	StateQueue
	// StateTarpit is the turn-around delay after a failed connect.
	StateTarpit
	// StateAssigned means a server was just picked for this stream.
	StateAssigned
	// StateConnecting means the outbound connect was issued.
	StateConnecting
	// StateConnectError is a transient state for a just-failed connect.
	StateConnectError
	// StateEstablished means the connection is usable for data transfer.
	StateEstablished
	// StateDisconnecting is the half-closed state after either side
	// shut its read or write direction; transient.
	StateDisconnecting
	// StateClosed is terminal.
	StateClosed
)

// letter is used in the final-state log field (§7's R/C/H/D/L/Q/T codes).
func (s State) letter() byte {
	switch s {
	case StateRequest, StateAssigned:
		return 'R'
	case StateConnecting, StateConnectError:
		return 'C'
	case StateEstablished:
		return 'H'
	case StateDisconnecting:
		return 'D'
	case StateClosed:
		return 'L'
	case StateQueue:
		return 'Q'
	case StateTarpit:
		return 'T'
	default:
		return '-'
	}
}

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRequest:
		return "request"
	case StateQueue:
		return "queue"
	case StateTarpit:
		return "tarpit"
	case StateAssigned:
		return "assigned"
	case StateConnecting:
		return "connecting"
	case StateConnectError:
		return "connect-error"
	case StateEstablished:
		return "established"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
