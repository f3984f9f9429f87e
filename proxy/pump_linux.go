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

package proxy

import (
	"io"

	"golang.org/x/sys/unix"

	"github.com/relaycore/edge/buffer"
	"github.com/relaycore/edge/clock"
	"github.com/relaycore/edge/fdregistry"
	"github.com/relaycore/edge/stream"
)

// fdReader/fdWriter adapt a raw non-blocking fd to io.Reader/io.Writer so
// buffer.Buffer's ReadFrom/WriteTo (themselves io.ReaderFrom/io.WriterTo)
// can pump directly between socket and ring buffer without an
// intermediate copy, mapping EAGAIN to the "no progress this call"
// (0, nil) shape those methods already expect from a would-block read.
type fdReader int
type fdWriter int

func (r fdReader) Read(p []byte) (int, error) {
	n, e := unix.Read(int(r), p)
	if e != nil {
		if e == unix.EAGAIN || e == unix.EWOULDBLOCK || e == unix.EINTR {
			return 0, nil
		}
		return 0, e
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (w fdWriter) Write(p []byte) (int, error) {
	n, e := unix.Write(int(w), p)
	if e != nil {
		if e == unix.EAGAIN || e == unix.EWOULDBLOCK || e == unix.EINTR {
			return 0, nil
		}
		return 0, e
	}
	return n, nil
}

// readPump builds the registry read-callback for one side of a session:
// it pulls bytes off fd into buf, shutting down the owning stream
// interface's read side on EOF or a hard socket error.
func readPump(fd int, si *stream.Interface, buf *buffer.Buffer) fdregistry.Callback {
	return func() int {
		n, e := buf.ReadFrom(fdReader(fd))
		if e != nil {
			si.ShutRead(clock.Now())
			return 0
		}
		if buf.ReadShut() {
			si.ShutRead(clock.Now())
		}
		if n > 0 {
			return 1
		}
		return 0
	}
}

// writePump builds the registry write-callback draining buf to fd.
func writePump(fd int, si *stream.Interface, buf *buffer.Buffer) fdregistry.Callback {
	return func() int {
		n, e := buf.WriteTo(fdWriter(fd))
		if e != nil {
			si.ShutWrite(clock.Now())
			return 0
		}
		if n > 0 {
			return 1
		}
		return 0
	}
}
