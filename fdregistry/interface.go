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

package fdregistry

import liberr "github.com/relaycore/edge/errors"

// State is the lifecycle state of a registered file descriptor.
type State uint8

const (
	StateNew State = iota
	StateListening
	StateConnecting
	StateReady
	StateError
	StateClosed
)

// Direction selects which half of a full-duplex fd a call concerns.
type Direction uint8

const (
	Read Direction = iota
	Write
)

// Callback is invoked by the readiness engine for one direction of one fd.
// It returns the number of bytes of progress made; a return of zero means
// "nothing was done", which the speculative engine backend uses to decide
// whether to keep trying without kernel confirmation or to fall back to
// registering interest.
type Callback func() int

// Slot is one arena entry: everything the engine needs to know about a
// single fd, held by value inside the Registry's backing slice so that a
// lookup never allocates.
type Slot struct {
	State State
	Owner any

	readCB  Callback
	writeCB Callback

	// Events holds the sticky, per-turn event bitmask folded in by the
	// engine's kernel-wait dispatch. It is cleared by CloseNotify, never
	// by a normal poll turn, matching the "sticky" behavior the buffer
	// component (package buffer) relies on to detect edge-triggered
	// events it didn't get around to consuming yet.
	Events uint32

	// Scratch is private to whichever readiness engine back-end owns this
	// fd; the speculative back-end stores its 1-based side-list back-index
	// here. Zero means "not tracked by the engine's side structures".
	Scratch int
}

const (
	EventReadable uint32 = 1 << iota
	EventWritable
	EventError
	EventHangup
)

// Registry is the per-process fd arena described by the FD slot data model.
type Registry interface {
	// Insert reserves the slot for fd, sets its owner and callbacks, and
	// marks it StateNew. It is an error to insert an already non-closed fd.
	Insert(fd int, owner any, readCB, writeCB Callback) liberr.Error

	// Get returns the slot for fd and whether it is currently populated
	// (State != StateClosed since the last CloseNotify, or never inserted).
	Get(fd int) (*Slot, bool)

	// SetState transitions the slot's lifecycle state.
	SetState(fd int, st State)

	// FoldEvents ORs bits into the slot's sticky event word.
	FoldEvents(fd int, bits uint32)

	// ClearEvents zeroes the slot's sticky event word, used once the
	// buffer/stream layer has consumed what it needed from a turn.
	ClearEvents(fd int)

	// CloseNotify zeroes sticky events, sets state closed, and invokes the
	// close hook registered via OnClose so the active readiness engine can
	// purge its own internal bookkeeping before the slot is reused.
	CloseNotify(fd int)

	// OnClose registers the readiness engine's purge hook. Only one hook is
	// supported: a process runs exactly one engine at a time per registry.
	OnClose(hook func(fd int, slot *Slot))

	// Cap returns the arena size (maxsock), the upper bound on any fd this
	// registry will accept.
	Cap() int
}

// New allocates a Registry sized to hold fds in [0, maxsock).
func New(maxsock int) Registry {
	return newRegistry(maxsock)
}
