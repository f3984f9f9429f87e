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

package connector

import (
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/relaycore/edge/buffer"
	"github.com/relaycore/edge/clock"
	"github.com/relaycore/edge/engine"
	"github.com/relaycore/edge/fdregistry"
	"github.com/relaycore/edge/stream"
)

// BindPolicy documents which of the four source-bind kinds Options.Source
// was derived from; it has no effect on Connect's own logic (the caller
// has already resolved Source accordingly) but is carried through for
// logging.
type BindPolicy int

const (
	// BindNone is a plain local bind: the kernel picks the source.
	BindNone BindPolicy = iota
	// BindClientAddress binds to the client's address, kernel-picked port.
	BindClientAddress
	// BindClientAddressPort binds to the client's address and port.
	BindClientAddressPort
	// BindForeign binds to a dynamically computed (not locally owned)
	// address, requiring the transparent/freebind socket option.
	BindForeign
)

// Options configures one outbound connect attempt.
type Options struct {
	Policy BindPolicy
	// Source is the resolved local address to bind before connecting.
	// Nil means no explicit bind (plain).
	Source *net.TCPAddr
	// Transparent requests IP_TRANSPARENT (falling back to IP_FREEBIND)
	// when binding to an address this host doesn't own.
	Transparent bool
	KeepAlive   bool
	NoLinger    bool
	// PortRange, if set, allocates Source's port dynamically instead of
	// using a fixed one, retrying on collision per §4.6.
	PortRange *PortRange

	ConnectTimeout time.Duration
}

// maxPortRangeAttempts bounds the bind-retry loop per §4.6.
const maxPortRangeAttempts = 10

// Connect creates a non-blocking TCP socket, applies the configured
// source-bind policy, and initiates connect() toward target. On success
// it registers fd for write-readiness (connect completion) against eng
// and reg and drives si through ConnectIssued. maxsock mirrors the
// reference proxy's global fd ceiling (§4.6: "if over maxsock, close and
// return a configuration-limit error").
//
// recv/send are the buffers this side of the stream reads into and
// drains from once the connect completes; fdregistry only allows a
// single Insert per fd's lifetime, so the registered callbacks are
// dispatchers that resolve the pending connect on their first invocation
// and fall through to pumping buf data on every one after.
func Connect(target *net.TCPAddr, opts Options, maxsock int, eng engine.Engine, reg fdregistry.Registry, si *stream.Interface, recv, send *buffer.Buffer, now clock.Tick) (int, error) {
	family := unix.AF_INET
	if target.IP.To4() == nil {
		family = unix.AF_INET6
	}

	fd, e := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if e != nil {
		return 0, ErrorResource.Error(nil)
	}

	if fd >= maxsock {
		_ = unix.Close(fd)
		return 0, ErrorConfigLimit.Error(nil)
	}

	if e := unix.SetNonblock(fd, true); e != nil {
		_ = unix.Close(fd)
		return 0, ErrorInternal.Error(nil)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	if opts.KeepAlive {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	}
	if opts.NoLinger {
		_ = unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0})
	}

	port, bindErr := bindSource(fd, opts)
	if bindErr != nil {
		opts.PortRange.Release(port)
		_ = unix.Close(fd)
		return 0, bindErr
	}

	sa := toSockaddr(target)
	cerr := unix.Connect(fd, sa)
	switch {
	case cerr == nil, cerr == unix.EINPROGRESS, cerr == unix.EALREADY, cerr == unix.EISCONN:
		// success or in-progress: fall through to registration.
	case cerr == unix.EAGAIN, cerr == unix.EADDRINUSE:
		opts.PortRange.Release(port)
		_ = unix.Close(fd)
		return 0, ErrorResource.Error(nil)
	case cerr == unix.ETIMEDOUT:
		opts.PortRange.Release(port)
		_ = unix.Close(fd)
		return 0, ErrorServerTimeout.Error(nil)
	default:
		opts.PortRange.Release(port)
		_ = unix.Close(fd)
		return 0, ErrorServerClosed.Error(nil)
	}

	readCB := func() int {
		if si.State() == stream.StateConnecting {
			return 0
		}
		n, e := recv.ReadFrom(fdReader(fd))
		if e != nil {
			si.ShutRead(clock.Now())
			return 0
		}
		if recv.ReadShut() {
			si.ShutRead(clock.Now())
		}
		if n > 0 {
			return 1
		}
		return 0
	}

	writeCB := func() int {
		if si.State() == stream.StateConnecting {
			errno, e := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
			if e != nil || errno != 0 {
				_ = si.ConnectFailed(ErrorServerClosed.Error(nil))
				return 0
			}
			_ = si.ConnectEstablished(clock.Now())
			eng.Set(fd, engine.Read)
			return 1
		}
		n, e := send.WriteTo(fdWriter(fd))
		if e != nil {
			si.ShutWrite(clock.Now())
			return 0
		}
		if n > 0 {
			return 1
		}
		return 0
	}

	if ierr := reg.Insert(fd, si, readCB, writeCB); ierr != nil {
		_ = unix.Close(fd)
		return 0, ierr
	}
	eng.Set(fd, engine.Write)

	if e := si.ConnectIssued(fd, now); e != nil {
		eng.Remove(fd)
		_ = unix.Close(fd)
		return 0, e
	}

	return fd, nil
}

// bindSource applies opts' source-bind policy to fd, returning the port
// actually bound (0 if none was explicitly chosen) so the caller can
// release it from a PortRange on failure.
func bindSource(fd int, opts Options) (int, error) {
	if opts.Source == nil {
		return 0, nil
	}

	if opts.PortRange == nil {
		if e := bindOnce(fd, opts.Source, opts.Transparent); e != nil {
			return 0, ErrorResource.Error(nil)
		}
		return opts.Source.Port, nil
	}

	for attempt := 0; attempt < maxPortRangeAttempts; attempt++ {
		port := opts.PortRange.Alloc()
		if port == 0 {
			return 0, ErrorResource.Error(nil)
		}
		addr := &net.TCPAddr{IP: opts.Source.IP, Port: port}
		if e := bindOnce(fd, addr, opts.Transparent); e == nil {
			return port, nil
		}
		opts.PortRange.Release(port)
	}
	return 0, ErrorResource.Error(nil)
}

// bindOnce binds fd to addr, trying IP_TRANSPARENT then IP_FREEBIND when
// transparent is requested, per §4.6's fallback order.
func bindOnce(fd int, addr *net.TCPAddr, transparent bool) error {
	if transparent {
		if e := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TRANSPARENT, 1); e != nil {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_FREEBIND, 1)
		}
	}
	return unix.Bind(fd, toSockaddr(addr))
}

func toSockaddr(addr *net.TCPAddr) unix.Sockaddr {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return sa
}

// fdReader/fdWriter adapt a raw non-blocking fd to io.Reader/io.Writer so
// buffer.Buffer's ReadFrom/WriteTo can pump straight between socket and
// ring buffer, matching the same adaptation package proxy uses for the
// frontend side of a session.
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
