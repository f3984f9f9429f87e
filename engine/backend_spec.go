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

// minReturnEvents bounds how many directions the speculative walk has to
// resolve in a single turn before it is worth skipping the kernel wait
// entirely and looping straight back into another speculative pass. Mirrors
// the threshold the original edge-triggered backend used to decide whether
// a fresh epoll_wait call was worth its syscall cost.
const minReturnEvents = 25

// perDir is one fd's per-direction state: idle (no interest), spec
// (speculatively retried every turn without kernel help) or wait
// (registered with the kernel, waiting for an edge-triggered notification).
type perDir uint8

const (
	dirIdle perDir = iota
	dirSpec
	dirWait
)

type specEntry struct {
	read, write perDir
}

// specEngine is the edge-triggered, speculative back-end (back-end B). It
// keeps a dense "speculative" side list of fds that have at least one
// direction in dirSpec state; every turn walks that list directly, calling
// callbacks without waiting on the kernel, and only falls back to
// epoll_ctl/epoll_wait once a direction's callback reports no progress.
type specEngine struct {
	reg fdregistry.Registry
	kq  *kernelQueue

	mu        sync.Mutex
	state     []specEntry // indexed by fd
	sideList  []int       // dense list of fds with >=1 direction in dirSpec
	kernelReg map[int]uint32
	closed    bool

	// newEntries counts fds appended to sideList by a callback (e.g. a
	// listener's accept) while the in-progress specWalk pass is running.
	newEntries int
	// lastSkipped caps the kernel-wait skip to one consecutive turn
	// (last_skipped <= 1): a turn that skips clears the flag so the
	// following turn, however many directions it resolves, always waits.
	lastSkipped bool
}

func newSpecEngine(reg fdregistry.Registry, maxsock int) (Engine, error) {
	if maxsock <= 0 {
		maxsock = 1
	}
	kq, e := newKernelQueue()
	if e != nil {
		return nil, e
	}

	eng := &specEngine{
		reg:       reg,
		kq:        kq,
		state:     make([]specEntry, maxsock),
		sideList:  make([]int, 0, maxsock),
		kernelReg: make(map[int]uint32),
	}
	reg.OnClose(func(fd int, _ *fdregistry.Slot) { eng.Remove(fd) })
	return eng, nil
}

// addToSideList inserts fd into the dense speculative list, recording its
// 1-based back-index in the fd's registry slot (Slot.Scratch) so later
// removal is O(1) swap-with-last instead of a linear search.
func (e *specEngine) addToSideList(fd int) {
	slot, ok := e.reg.Get(fd)
	if !ok || (ok && slot.Scratch != 0) {
		return
	}
	e.sideList = append(e.sideList, fd)
	slot.Scratch = len(e.sideList)
	e.newEntries++
}

func (e *specEngine) removeFromSideList(fd int) {
	slot, ok := e.reg.Get(fd)
	if !ok || slot.Scratch == 0 {
		return
	}
	pos := slot.Scratch - 1
	last := len(e.sideList) - 1
	movedFD := e.sideList[last]
	e.sideList[pos] = movedFD
	e.sideList = e.sideList[:last]
	slot.Scratch = 0
	if movedFD != fd {
		if moved, ok := e.reg.Get(movedFD); ok {
			moved.Scratch = pos + 1
		}
	}
}

func (e *specEngine) dirState(fd int, dir Direction) perDir {
	if dir == Write {
		return e.state[fd].write
	}
	return e.state[fd].read
}

func (e *specEngine) setDirState(fd int, dir Direction, st perDir) {
	if dir == Write {
		e.state[fd].write = st
	} else {
		e.state[fd].read = st
	}
}

func (e *specEngine) IsSet(fd int, dir Direction) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fd < 0 || fd >= len(e.state) {
		return false
	}
	return e.dirState(fd, dir) != dirIdle
}

// Set promotes dir from idle to spec. A direction already spec or wait is
// left untouched: waking it back up is the poll loop's job, not the
// caller's.
func (e *specEngine) Set(fd int, dir Direction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || fd < 0 || fd >= len(e.state) {
		return
	}
	if e.dirState(fd, dir) != dirIdle {
		return
	}
	e.setDirState(fd, dir, dirSpec)
	e.addToSideList(fd)
}

func (e *specEngine) Clear(fd int, dir Direction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fd < 0 || fd >= len(e.state) {
		return
	}

	wasWaiting := e.dirState(fd, dir) == dirWait
	e.setDirState(fd, dir, dirIdle)

	if wasWaiting {
		e.syncKernelInterest(fd)
	}
	if e.state[fd].read == dirIdle && e.state[fd].write == dirIdle {
		e.removeFromSideList(fd)
	}
}

func (e *specEngine) Remove(fd int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fd < 0 || fd >= len(e.state) {
		return
	}
	e.state[fd] = specEntry{}
	e.removeFromSideList(fd)
	if _, ok := e.kernelReg[fd]; ok {
		_ = e.kq.remove(fd)
		delete(e.kernelReg, fd)
	}
}

// syncKernelInterest recomputes the epoll registration for fd from its
// current per-direction wait state, adding/modifying/removing as needed.
func (e *specEngine) syncKernelInterest(fd int) {
	var want uint32
	if e.state[fd].read == dirWait {
		want |= uint32(evRead)
	}
	if e.state[fd].write == dirWait {
		want |= uint32(evWrite)
	}

	cur, had := e.kernelReg[fd]
	switch {
	case want == 0 && had:
		_ = e.kq.remove(fd)
		delete(e.kernelReg, fd)
	case want != 0 && !had:
		if e.kq.add(fd, want|uint32(evErr)|uint32(evHup)|uint32(evET)) == nil {
			e.kernelReg[fd] = want
		}
	case want != 0 && had && want != cur:
		if e.kq.modify(fd, want|uint32(evErr)|uint32(evHup)|uint32(evET)) == nil {
			e.kernelReg[fd] = want
		}
	}
}

// walkRange calls every fd/direction currently in dirSpec state directly,
// without kernel help, over side-list indices [start, end) (a snapshot
// bound, so appends during the pass don't extend it). A callback
// reporting progress (return > 0) stays spec for next turn; one reporting
// zero progress is promoted to dirWait and registered with the kernel.
// Walking backward keeps in-place removals (which swap the last element
// into the removed slot) from skipping an unvisited entry.
func (e *specEngine) walkRange(start, end int) int {
	processed := 0

	for i := end - 1; i >= start; i-- {
		if i >= len(e.sideList) {
			continue
		}
		fd := e.sideList[i]
		slot, ok := e.reg.Get(fd)
		if !ok {
			e.removeFromSideList(fd)
			continue
		}

		for _, dir := range [2]Direction{Read, Write} {
			if e.dirState(fd, dir) != dirSpec {
				continue
			}
			cb := slot.CallbackFor(dir)
			if cb == nil {
				e.setDirState(fd, dir, dirIdle)
				continue
			}

			processed++
			if n := cb(); n > 0 {
				continue // stays dirSpec
			}
			e.setDirState(fd, dir, dirWait)
			e.syncKernelInterest(fd)
		}

		if e.state[fd].read != dirSpec && e.state[fd].write != dirSpec {
			e.removeFromSideList(fd)
		}
	}

	return processed
}

// specWalk runs one full speculative pass, then a bounded post-accept
// re-poll (SPEC_FULL.md §4.1 phase 4): if a callback in the pass above
// created new fds — a listener accepting a burst of client connections —
// those entries joined the side list after the pass's snapshot bound
// already iterated past them, so without this they'd sit idle until the
// next Poll call. Re-run once over just the newly-created entries so a
// freshly accepted fd's first read happens in the same turn.
func (e *specEngine) specWalk() int {
	e.newEntries = 0
	processed := e.walkRange(0, len(e.sideList))

	if n := e.newEntries; n > 0 {
		e.newEntries = 0
		tailStart := len(e.sideList) - n
		if tailStart < 0 {
			tailStart = 0
		}
		processed += e.walkRange(tailStart, len(e.sideList))
	}

	return processed
}

func (e *specEngine) Poll(deadline time.Duration) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrorQueueClosed.Error(nil)
	}

	processed := e.specWalk()

	// Enough speculative progress happened this turn that another
	// epoll_wait syscall isn't worth its cost; loop the caller straight
	// back into another speculative pass instead of blocking. Capped at
	// one consecutive skip (last_skipped <= 1): a turn right after a skip
	// always waits, so a run of spec-successful turns can't starve the
	// kernel wait (and the coarse clock it implicitly refreshes) forever.
	if processed >= minReturnEvents && !e.lastSkipped {
		e.lastSkipped = true
		e.mu.Unlock()
		return nil
	}
	e.lastSkipped = false
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

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		mask := events[i].Events
		if fd < 0 || fd >= len(e.state) {
			continue
		}

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

		if e.state[fd].read == dirWait && bits&(fdregistry.EventReadable|fdregistry.EventError|fdregistry.EventHangup) != 0 {
			if cb := slot.CallbackFor(Read); cb != nil && cb() > 0 {
				e.setDirState(fd, Read, dirSpec)
				e.addToSideList(fd)
			}
		}
		if e.state[fd].write == dirWait && bits&(fdregistry.EventWritable|fdregistry.EventError) != 0 {
			if cb := slot.CallbackFor(Write); cb != nil && cb() > 0 {
				e.setDirState(fd, Write, dirSpec)
				e.addToSideList(fd)
			}
		}
	}

	return nil
}

func (e *specEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.kq.close()
}
