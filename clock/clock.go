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

package clock

import (
	"sync/atomic"
	"time"
)

// Tick is a monotonic millisecond timestamp. It has no relation to wall-clock
// time and is only ever compared to another Tick produced by this package.
type Tick int64

// wraparoundTolerance bounds how far "behind" a deadline may read and still
// be treated as not-yet-expired. A Tick is an int64 of milliseconds, so in
// practice it never wraps within any process lifetime; the tolerance exists
// to absorb the rare case of the monotonic source being re-based (e.g. in
// tests that fabricate small Tick values around zero).
const wraparoundTolerance Tick = 1 << 31

var current atomic.Int64

func init() {
	current.Store(int64(monotonicMillis()))
}

func monotonicMillis() Tick {
	return Tick(time.Now().UnixMilli())
}

// Now returns the clock's cached tick. The cached value is refreshed once per
// event-loop turn by Refresh, not on every call, matching the original
// engine's "coarse time" used throughout the poll loop.
func Now() Tick {
	return Tick(current.Load())
}

// Refresh re-samples the monotonic source and updates the cached tick. The
// engine calls this exactly once per turn, before evaluating any deadline.
func Refresh() Tick {
	t := monotonicMillis()
	current.Store(int64(t))
	return t
}

// Add returns the tick d milliseconds after t.
func (t Tick) Add(d time.Duration) Tick {
	return t + Tick(d.Milliseconds())
}

// Expired reports whether t has passed relative to now. A zero deadline
// never expires (the "no deadline set" sentinel used throughout the buffer
// and stream-interface packages).
func (t Tick) Expired(now Tick) bool {
	if t == 0 {
		return false
	}
	delta := now - t
	return delta >= 0 && delta < wraparoundTolerance
}

// Remaining returns how long until t expires relative to now, clamped to
// zero. A zero deadline returns the maximum duration representable, so
// callers computing a minimum-of-deadlines wait time can ignore it
// uniformly instead of special-casing "no deadline".
func (t Tick) Remaining(now Tick) time.Duration {
	if t == 0 {
		return time.Duration(1<<63 - 1)
	}
	if t.Expired(now) {
		return 0
	}
	return time.Duration(int64(t-now)) * time.Millisecond
}
