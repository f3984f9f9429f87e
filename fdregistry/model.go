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

import (
	"sync"

	liberr "github.com/relaycore/edge/errors"
)

type registry struct {
	mu    sync.RWMutex
	slots []Slot
	hook  func(fd int, slot *Slot)
}

func newRegistry(maxsock int) *registry {
	if maxsock <= 0 {
		maxsock = 1
	}
	return &registry{
		slots: make([]Slot, maxsock),
	}
}

func (r *registry) Cap() int {
	return len(r.slots)
}

func (r *registry) Insert(fd int, owner any, readCB, writeCB Callback) liberr.Error {
	if fd < 0 || fd >= len(r.slots) {
		return ErrorFDOutOfRange.Error(nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := &r.slots[fd]
	if s.State != StateClosed && s.State != StateNew {
		return ErrorFDAlreadyOpen.Error(nil)
	}

	*s = Slot{
		State:   StateNew,
		Owner:   owner,
		readCB:  readCB,
		writeCB: writeCB,
	}
	return nil
}

func (r *registry) Get(fd int) (*Slot, bool) {
	if fd < 0 || fd >= len(r.slots) {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &r.slots[fd]
	if s.State == StateClosed && s.Owner == nil {
		return nil, false
	}
	return s, true
}

func (r *registry) SetState(fd int, st State) {
	if fd < 0 || fd >= len(r.slots) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[fd].State = st
}

func (r *registry) FoldEvents(fd int, bits uint32) {
	if fd < 0 || fd >= len(r.slots) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[fd].Events |= bits
}

func (r *registry) ClearEvents(fd int) {
	if fd < 0 || fd >= len(r.slots) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[fd].Events = 0
}

func (r *registry) CloseNotify(fd int) {
	if fd < 0 || fd >= len(r.slots) {
		return
	}

	r.mu.Lock()
	s := &r.slots[fd]
	s.Events = 0
	s.State = StateClosed
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		hook(fd, s)
	}
}

func (r *registry) OnClose(hook func(fd int, slot *Slot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
}

// ReadCB returns the slot's read-direction callback, or nil.
func (s *Slot) ReadCB() Callback {
	return s.readCB
}

// WriteCB returns the slot's write-direction callback, or nil.
func (s *Slot) WriteCB() Callback {
	return s.writeCB
}

// CallbackFor returns the callback for the given direction.
func (s *Slot) CallbackFor(dir Direction) Callback {
	if dir == Write {
		return s.writeCB
	}
	return s.readCB
}
