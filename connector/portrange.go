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

package connector

import "sync"

// PortRange hands out source ports from a configured [Lo, Hi] range for
// server connections that need a predictable local port, releasing them
// back to the pool when a connect attempt fails or the connection closes.
type PortRange struct {
	mu       sync.Mutex
	lo, hi   int
	cursor   int
	inUse    map[int]struct{}
}

// NewPortRange builds a range covering [lo, hi] inclusive.
func NewPortRange(lo, hi int) *PortRange {
	return &PortRange{lo: lo, hi: hi, cursor: lo, inUse: make(map[int]struct{})}
}

// Alloc returns the next free port in the range, or 0 if every port is
// currently assigned.
func (r *PortRange) Alloc() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	span := r.hi - r.lo + 1
	for i := 0; i < span; i++ {
		p := r.lo + (r.cursor-r.lo+i)%span
		if _, busy := r.inUse[p]; !busy {
			r.inUse[p] = struct{}{}
			r.cursor = p + 1
			return p
		}
	}
	return 0
}

// Release returns a port to the pool. Releasing an unallocated or zero
// port is a no-op.
func (r *PortRange) Release(port int) {
	if port == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inUse, port)
}
