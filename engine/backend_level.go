//go:build linux

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

package engine

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/relaycore/edge/fdregistry"
)

// levelEngine is the plain, level-triggered epoll back-end (back-end A).
// Interest in a direction maps directly to an epoll_ctl call; a turn
// dispatches exactly the fds the kernel reports ready, nothing more.
type levelEngine struct {
	reg fdregistry.Registry
	kq  *kernelQueue

	mu       sync.Mutex
	interest map[int]uint32
	closed   bool
}

func newLevelEngine(reg fdregistry.Registry) (Engine, error) {
	kq, e := newKernelQueue()
	if e != nil {
		return nil, e
	}

	eng := &levelEngine{
		reg:      reg,
		kq:       kq,
		interest: make(map[int]uint32),
	}
	reg.OnClose(func(fd int, _ *fdregistry.Slot) { eng.Remove(fd) })
	return eng, nil
}

func (e *levelEngine) directionBit(dir Direction) uint32 {
	if dir == Write {
		return uint32(evWrite)
	}
	return uint32(evRead)
}

func (e *levelEngine) IsSet(fd int, dir Direction) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interest[fd]&e.directionBit(dir) != 0
}

func (e *levelEngine) Set(fd int, dir Direction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	want := e.interest[fd] | e.directionBit(dir)
	if want == e.interest[fd] {
		return
	}

	var err error
	if cur, ok := e.interest[fd]; !ok || cur == 0 {
		err = e.kq.add(fd, want|uint32(evErr)|uint32(evHup))
	} else {
		err = e.kq.modify(fd, want|uint32(evErr)|uint32(evHup))
	}
	if err == nil {
		e.interest[fd] = want
	}
}

func (e *levelEngine) Clear(fd int, dir Direction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	cur, ok := e.interest[fd]
	if !ok {
		return
	}
	want := cur &^ e.directionBit(dir)
	if want == 0 {
		_ = e.kq.remove(fd)
		delete(e.interest, fd)
		return
	}
	if e.kq.modify(fd, want|uint32(evErr)|uint32(evHup)) == nil {
		e.interest[fd] = want
	}
}

func (e *levelEngine) Remove(fd int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.interest[fd]; ok {
		_ = e.kq.remove(fd)
		delete(e.interest, fd)
	}
}

func (e *levelEngine) Poll(deadline time.Duration) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrorQueueClosed.Error(nil)
	}
	e.mu.Unlock()

	timeout := -1
	if deadline > 0 {
		timeout = int(deadline.Milliseconds())
	}

	events := make([]unix.EpollEvent, 256)
	n, err := e.kq.wait(events, timeout)
	if err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		mask := events[i].Events

		var bits uint32
		if mask&uint32(evRead) != 0 {
			bits |= fdregistry.EventReadable
		}
		if mask&uint32(evWrite) != 0 {
			bits |= fdregistry.EventWritable
		}
		if mask&uint32(evErr) != 0 {
			bits |= fdregistry.EventError
		}
		if mask&uint32(evHup) != 0 {
			bits |= fdregistry.EventHangup
		}
		e.reg.FoldEvents(fd, bits)

		slot, ok := e.reg.Get(fd)
		if !ok {
			continue
		}

		if bits&(fdregistry.EventReadable|fdregistry.EventError|fdregistry.EventHangup) != 0 {
			if cb := slot.CallbackFor(Read); cb != nil {
				cb()
			}
		}
		if bits&(fdregistry.EventWritable|fdregistry.EventError) != 0 {
			if cb := slot.CallbackFor(Write); cb != nil {
				cb()
			}
		}
	}

	return nil
}

func (e *levelEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.kq.close()
}
