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

package buffer

import (
	"io"

	"github.com/relaycore/edge/clock"
	liberr "github.com/relaycore/edge/errors"
)

// Flags holds the buffer's sticky state bits. Read-shut and write-shut are
// terminal: once set, nothing in this package clears them again.
type Flags uint8

const (
	// FlagReadShut marks that no more data will ever be produced into the
	// buffer. Invariant: once set, it is never cleared.
	FlagReadShut Flags = 1 << iota
	// FlagWriteShut marks that no more data will ever be drained out of the
	// buffer. Invariant: once set, it is never cleared.
	FlagWriteShut
	// FlagFull is a cached "no room for another byte" hint, recomputed on
	// every Write/Read.
	FlagFull
	// FlagNeverWait tells the owning stream interface this buffer should
	// never be left waiting on a timer (e.g. it belongs to a side whose
	// peer has already gone away).
	FlagNeverWait
	// FlagAnalyzeExpiry is set once the buffer's analyse-expiry timestamp
	// has actually fired, so the stream interface only acts on it once.
	FlagAnalyzeExpiry
	// FlagError marks the buffer's owning fd hit an I/O error; the stream
	// interface treats this like a read/write shut but also tears down the
	// session with an error termination reason.
	FlagError
)

// Buffer is a fixed-capacity ring of bytes with read/write watermarks and
// sticky state flags, as used on both the request and the response path of
// a session. It is not safe for concurrent use.
type Buffer struct {
	data []byte

	// rpos is the offset of the next unread byte; wpos is the offset the
	// next written byte lands at. Both wrap modulo len(data). length holds
	// the number of valid, unread bytes currently stored — derivable from
	// rpos/wpos alone only once len(data) is known, but keeping it
	// explicit makes the full/empty distinction unambiguous regardless of
	// whether rpos==wpos means full or empty.
	rpos, wpos int
	length     int

	// sendMax bounds how many bytes a single dispatch may drain via
	// WriteTo; zero means unbounded (drain everything available).
	sendMax int
	// fillMax bounds how many bytes a single dispatch may accept via
	// ReadFrom; zero means unbounded (accept up to free space).
	fillMax int

	expiry clock.Tick
	events uint32
	flags  Flags
}

// New allocates a Buffer with the given fixed capacity in bytes.
func New(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{data: make([]byte, size)}
}

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of unread bytes currently stored.
func (b *Buffer) Len() int { return b.length }

// Free returns the number of bytes that may still be written before the
// buffer reports full.
func (b *Buffer) Free() int { return len(b.data) - b.length }

// IsFull reports whether the buffer has no room for another byte.
func (b *Buffer) IsFull() bool { return b.flags&FlagFull != 0 }

// IsEmpty reports whether the buffer currently holds no unread data.
func (b *Buffer) IsEmpty() bool { return b.length == 0 }

// ReadShut reports whether the read (producing) direction is permanently
// closed: no more data will ever arrive.
func (b *Buffer) ReadShut() bool { return b.flags&FlagReadShut != 0 }

// WriteShut reports whether the write (draining) direction is permanently
// closed: nothing more will ever be flushed out.
func (b *Buffer) WriteShut() bool { return b.flags&FlagWriteShut != 0 }

// SetReadShut marks the read direction shut. Idempotent: once set it can
// never be cleared again.
func (b *Buffer) SetReadShut() { b.flags |= FlagReadShut }

// SetWriteShut marks the write direction shut. Idempotent: once set it can
// never be cleared again.
func (b *Buffer) SetWriteShut() { b.flags |= FlagWriteShut }

// HasError reports whether the buffer's owning fd hit an I/O error.
func (b *Buffer) HasError() bool { return b.flags&FlagError != 0 }

// SetError marks the buffer as having hit an I/O error. Implies both
// directions are effectively dead, so it also latches the shut flags.
func (b *Buffer) SetError() {
	b.flags |= FlagError | FlagReadShut | FlagWriteShut
}

// NeverWait reports whether this buffer's owning stream interface should
// skip arming a wait timer for it.
func (b *Buffer) NeverWait() bool { return b.flags&FlagNeverWait != 0 }

// SetNeverWait sets or clears the never-wait hint.
func (b *Buffer) SetNeverWait(v bool) {
	if v {
		b.flags |= FlagNeverWait
	} else {
		b.flags &^= FlagNeverWait
	}
}

// SendMax returns the current per-dispatch flush watermark (0 = unbounded).
func (b *Buffer) SendMax() int { return b.sendMax }

// SetSendMax sets the per-dispatch flush watermark.
func (b *Buffer) SetSendMax(n int) { b.sendMax = n }

// FillMax returns the current per-dispatch fill watermark (0 = unbounded).
func (b *Buffer) FillMax() int { return b.fillMax }

// SetFillMax sets the per-dispatch fill watermark.
func (b *Buffer) SetFillMax(n int) { b.fillMax = n }

// Expiry returns the buffer's wait-expiry timestamp. A zero Tick means no
// expiry is armed.
func (b *Buffer) Expiry() clock.Tick { return b.expiry }

// SetExpiry arms (or disarms, with a zero Tick) the wait-expiry timestamp
// and clears the latch recording that the previous expiry fired.
func (b *Buffer) SetExpiry(t clock.Tick) {
	b.expiry = t
	b.flags &^= FlagAnalyzeExpiry
}

// CheckExpiry reports whether the armed expiry has passed as of now. The
// first call after expiry latches FlagAnalyzeExpiry so a caller polling on
// every turn can distinguish "just expired" from "already handled".
func (b *Buffer) CheckExpiry(now clock.Tick) bool {
	if b.expiry == 0 || !b.expiry.Expired(now) {
		return false
	}
	already := b.flags&FlagAnalyzeExpiry != 0
	b.flags |= FlagAnalyzeExpiry
	return !already
}

// FoldEvents ORs sticky poll-event bits (fdregistry.Event*) into the
// buffer's event word. These persist across turns until explicitly
// consumed with ClearEvents, matching the edge-triggered engine's
// requirement that an event the owner didn't act on yet not be lost.
func (b *Buffer) FoldEvents(bits uint32) { b.events |= bits }

// Events returns the buffer's current sticky poll-event bits.
func (b *Buffer) Events() uint32 { return b.events }

// ClearEvents zeroes the sticky poll-event bits.
func (b *Buffer) ClearEvents() { b.events = 0 }

// Reset empties the buffer and clears every flag, expiry and watermark, as
// if newly allocated. Used when a session recycles a buffer pair for reuse
// by a fresh connection.
func (b *Buffer) Reset() {
	b.rpos, b.wpos, b.length = 0, 0, 0
	b.sendMax, b.fillMax = 0, 0
	b.expiry = 0
	b.events = 0
	b.flags = 0
}

// Write appends p to the buffer, wrapping around the ring. It writes as
// much as fits within both free space and FillMax (if set) and returns
// ErrorFull once nothing more could be accepted, with n the number of bytes
// actually copied.
func (b *Buffer) Write(p []byte) (n int, err liberr.Error) {
	if b.flags&FlagWriteShut != 0 {
		return 0, ErrorWriteShut.Error(nil)
	}

	limit := b.Free()
	if b.fillMax > 0 && b.fillMax < limit {
		limit = b.fillMax
	}
	if limit > len(p) {
		limit = len(p)
	}

	for n < limit {
		chunk := len(b.data) - b.wpos
		if chunk > limit-n {
			chunk = limit - n
		}
		copy(b.data[b.wpos:b.wpos+chunk], p[n:n+chunk])
		b.wpos = (b.wpos + chunk) % len(b.data)
		n += chunk
	}
	b.length += n
	b.syncFull()

	if n < len(p) {
		return n, ErrorFull.Error(nil)
	}
	return n, nil
}

// Read drains up to len(p) bytes (bounded additionally by SendMax, if set)
// from the front of the buffer into p.
func (b *Buffer) Read(p []byte) (n int, err error) {
	if b.length == 0 {
		if b.flags&FlagReadShut != 0 {
			return 0, io.EOF
		}
		return 0, nil
	}

	limit := b.length
	if b.sendMax > 0 && b.sendMax < limit {
		limit = b.sendMax
	}
	if limit > len(p) {
		limit = len(p)
	}

	for n < limit {
		chunk := len(b.data) - b.rpos
		if chunk > limit-n {
			chunk = limit - n
		}
		copy(p[n:n+chunk], b.data[b.rpos:b.rpos+chunk])
		b.rpos = (b.rpos + chunk) % len(b.data)
		n += chunk
	}
	b.length -= n
	b.syncFull()

	return n, nil
}

// ReadFrom fills the buffer directly from r, stopping at free space (and
// FillMax, if set) or at r's EOF, at which point FlagReadShut is latched —
// this is how the stream interface learns a peer is done sending. It
// implements io.ReaderFrom so the engine's read callback can hand the
// kernel fd straight to it without an intermediate copy.
func (b *Buffer) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	for {
		limit := b.Free()
		if b.fillMax > 0 && b.fillMax < limit {
			limit = b.fillMax
		}
		if limit == 0 {
			return total, nil
		}

		chunk := len(b.data) - b.wpos
		if chunk > limit {
			chunk = limit
		}

		n, err := r.Read(b.data[b.wpos : b.wpos+chunk])
		if n > 0 {
			b.wpos = (b.wpos + n) % len(b.data)
			b.length += n
			total += int64(n)
			b.syncFull()
		}
		if err != nil {
			if err == io.EOF {
				b.SetReadShut()
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

// WriteTo drains the buffer into w, stopping once empty or at SendMax,
// whichever comes first. It implements io.WriterTo so the engine's write
// callback can flush directly to the kernel fd.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	bound := b.length
	if b.sendMax > 0 && b.sendMax < bound {
		bound = b.sendMax
	}

	var total int64
	for int(total) < bound {
		remaining := bound - int(total)

		chunk := len(b.data) - b.rpos
		if chunk > remaining {
			chunk = remaining
		}

		n, err := w.Write(b.data[b.rpos : b.rpos+chunk])
		if n > 0 {
			b.rpos = (b.rpos + n) % len(b.data)
			b.length -= n
			total += int64(n)
			b.syncFull()
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

func (b *Buffer) syncFull() {
	if b.length >= len(b.data) {
		b.flags |= FlagFull
	} else {
		b.flags &^= FlagFull
	}
}
