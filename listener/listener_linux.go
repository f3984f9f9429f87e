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

package listener

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/relaycore/edge/engine"
	"github.com/relaycore/edge/fdregistry"
)

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

func fromSockaddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	default:
		return nil
	}
}

// Listen binds and marks listening a non-blocking TCP socket at addr.
// Grounded directly on original_source/src/proto_tcp.c's tcp_bind_listener:
// SO_REUSEADDR and SO_REUSEPORT are always applied; when opts.Transparent
// is set, IP_TRANSPARENT is tried first and IP_FREEBIND second, matching
// the original's fallback order, with a configuration error only if both
// fail.
func Listen(addr *net.TCPAddr, opts Options) (*Listener, error) {
	domain := unix.AF_INET
	if addr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, e := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if e != nil {
		return nil, ErrorSocketCreate.Error(e)
	}

	if e := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
		_ = unix.Close(fd)
		return nil, ErrorSocketOpt.Error(e)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)

	if opts.Transparent {
		errT := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TRANSPARENT, 1)
		if errT != nil {
			errF := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_FREEBIND, 1)
			if errF != nil {
				_ = unix.Close(fd)
				return nil, ErrorSocketOpt.Error(errF)
			}
		}
	}

	if e := unix.Bind(fd, toSockaddr(addr)); e != nil {
		_ = unix.Close(fd)
		return nil, ErrorBind.Error(e)
	}

	backlog := opts.Backlog
	if backlog <= 0 {
		backlog = 1024
	}
	if e := unix.Listen(fd, backlog); e != nil {
		_ = unix.Close(fd)
		return nil, ErrorListen.Error(e)
	}

	l := &Listener{fd: fd, addr: addr, backlog: backlog}
	l.state.Store(int32(StateBound))
	return l, nil
}

// Start registers the listener's fd with the engine's read direction so
// incoming connections are accepted from the engine's own turn, and
// transitions the listener to StateListening.
func (l *Listener) Start(eng engine.Engine, reg fdregistry.Registry, handler AcceptHandler) error {
	l.eng = eng
	l.reg = reg
	l.handler = handler

	if e := reg.Insert(l.fd, l, l.acceptOnce, nil); e != nil {
		return e
	}
	reg.SetState(l.fd, fdregistry.StateListening)
	eng.Set(l.fd, engine.Read)
	l.state.Store(int32(StateListening))
	return nil
}

// acceptOnce drains ready connections with accept4 until EAGAIN, returning
// the number accepted this call — the engine's Callback contract, used by
// the speculative back-end to decide whether to keep retrying without
// kernel help.
func (l *Listener) acceptOnce() int {
	accepted := 0
	for {
		if l.State() == StateFull || l.State() == StateStopped {
			return accepted
		}

		nfd, sa, e := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if e != nil {
			if e == unix.EAGAIN || e == unix.EWOULDBLOCK {
				return accepted
			}
			if e == unix.ECONNABORTED || e == unix.EINTR {
				continue
			}
			return accepted
		}

		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		accepted++
		l.conns.Add(1)
		if l.maxconn > 0 && l.conns.Load() >= int64(l.maxconn) {
			l.SetFull(true)
		}

		if l.handler != nil {
			l.handler(nfd, fromSockaddr(sa), l.addr)
		} else {
			_ = unix.Close(nfd)
		}
	}
}

// Release decrements the listener's live connection count, called when a
// session owned by this listener closes, and clears StateFull if the
// count drops back below maxconn.
func (l *Listener) Release() {
	if l.conns.Add(-1) < int64(l.maxconn) {
		l.SetFull(false)
	}
}

// Stop removes the listener from the engine and closes its socket.
func (l *Listener) Stop() error {
	l.state.Store(int32(StateStopped))
	if l.reg != nil {
		l.reg.CloseNotify(l.fd)
	}
	return unix.Close(l.fd)
}
