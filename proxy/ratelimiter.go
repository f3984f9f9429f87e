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

package proxy

import (
	"sync"

	"github.com/relaycore/edge/clock"
)

// rateLimiter enforces SPEC_FULL.md §4.8's per-second session-rate limit:
// a fixed one-second window holding up to limit admissions, re-armed when
// the window elapses. limit<=0 means unbounded.
type rateLimiter struct {
	mu          sync.Mutex
	limit       int
	windowStart clock.Tick
	count       int
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{limit: limit, windowStart: clock.Now()}
}

// allow reports whether one more admission fits in the current window,
// consuming it if so.
func (r *rateLimiter) allow(now clock.Tick) bool {
	if r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if now-r.windowStart >= 1000 {
		r.windowStart = now
		r.count = 0
	}
	if r.count < r.limit {
		r.count++
		return true
	}
	return false
}

// nextAdmit reports the tick at which the limiter's window next resets,
// the "earliest time the limiter will admit again" §4.8 asks the
// management task to compute.
func (r *rateLimiter) nextAdmit() clock.Tick {
	if r.limit <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.windowStart + 1000
}

// exhausted reports whether the current window has no admissions left.
func (r *rateLimiter) exhausted(now clock.Tick) bool {
	if r.limit <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if now-r.windowStart >= 1000 {
		return false
	}
	return r.count >= r.limit
}
