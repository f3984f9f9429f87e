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

package connector

import (
	"net"
	"time"

	"github.com/relaycore/edge/buffer"
	"github.com/relaycore/edge/clock"
	"github.com/relaycore/edge/engine"
	"github.com/relaycore/edge/fdregistry"
	"github.com/relaycore/edge/stream"
)

type BindPolicy int

const (
	BindNone BindPolicy = iota
	BindClientAddress
	BindClientAddressPort
	BindForeign
)

type Options struct {
	Policy         BindPolicy
	Source         *net.TCPAddr
	Transparent    bool
	KeepAlive      bool
	NoLinger       bool
	PortRange      *PortRange
	ConnectTimeout time.Duration
}

// Raw non-blocking connect requires direct socket-option access, which
// only the Linux back-end (package engine) supports; see connector_linux.go.

func Connect(_ *net.TCPAddr, _ Options, _ int, _ engine.Engine, _ fdregistry.Registry, _ *stream.Interface, _, _ *buffer.Buffer, _ clock.Tick) (int, error) {
	return 0, ErrorInternal.Error(nil)
}
