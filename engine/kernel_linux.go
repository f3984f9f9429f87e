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
	"golang.org/x/sys/unix"
)

// kernelQueue wraps a single epoll instance. Both back-ends use it; the
// level back-end drives it level-triggered, the speculative back-end adds
// unix.EPOLLET to every registration.
type kernelQueue struct {
	epfd int
}

func newKernelQueue() (*kernelQueue, error) {
	fd, e := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if e != nil {
		return nil, ErrorQueueCreate.Error(e)
	}
	return &kernelQueue{epfd: fd}, nil
}

func (k *kernelQueue) ctl(op int, fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if e := unix.EpollCtl(k.epfd, op, fd, &ev); e != nil {
		return ErrorQueueCtl.Error(e)
	}
	return nil
}

func (k *kernelQueue) add(fd int, events uint32) error {
	return k.ctl(unix.EPOLL_CTL_ADD, fd, events)
}

func (k *kernelQueue) modify(fd int, events uint32) error {
	return k.ctl(unix.EPOLL_CTL_MOD, fd, events)
}

func (k *kernelQueue) remove(fd int) error {
	// The event argument is ignored by the kernel for EPOLL_CTL_DEL on
	// modern Linux, but older kernels (pre-2.6.9) require a non-nil
	// pointer; pass one for portability across the fleet.
	ev := unix.EpollEvent{}
	if e := unix.EpollCtl(k.epfd, unix.EPOLL_CTL_DEL, fd, &ev); e != nil {
		return ErrorQueueCtl.Error(e)
	}
	return nil
}

// wait blocks for up to timeoutMillis milliseconds (-1 for indefinitely) and
// returns the number of ready events copied into events.
func (k *kernelQueue) wait(events []unix.EpollEvent, timeoutMillis int) (int, error) {
	n, e := unix.EpollWait(k.epfd, events, timeoutMillis)
	if e != nil {
		if e == unix.EINTR {
			return 0, nil
		}
		return 0, ErrorQueueWait.Error(e)
	}
	return n, nil
}

func (k *kernelQueue) close() error {
	return unix.Close(k.epfd)
}

const (
	evRead  = unix.EPOLLIN
	evWrite = unix.EPOLLOUT
	evErr   = unix.EPOLLERR
	evHup   = unix.EPOLLHUP
	evET    = unix.EPOLLET
)
