//go:build !linux

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

	"github.com/relaycore/edge/engine"
	"github.com/relaycore/edge/fdregistry"
)

// Both the level and speculative readiness engines are epoll-based and
// thus Linux-only (see package engine); this stub exists purely so the
// module still type-checks on a contributor's non-Linux laptop.

func Listen(_ *net.TCPAddr, _ Options) (*Listener, error) {
	return nil, ErrorSocketCreate.Error(nil)
}

func (l *Listener) Start(_ engine.Engine, _ fdregistry.Registry, _ AcceptHandler) error {
	return ErrorClosed.Error(nil)
}

func (l *Listener) Release() {}

func (l *Listener) Stop() error { return nil }
