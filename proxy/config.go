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
	"net"
	"time"

	"github.com/relaycore/edge/connector"
	"github.com/relaycore/edge/engine"
	"github.com/relaycore/edge/lb"
	"github.com/relaycore/edge/listener"
	liblog "github.com/relaycore/edge/logger"
	"github.com/relaycore/edge/session"
	"github.com/relaycore/edge/stream"
)

// Config describes one frontend/backend pairing: where to listen, which
// backend pool to draw servers from, and the operational limits the
// management task (SPEC_FULL.md §4.8) enforces.
type Config struct {
	Name   string
	Listen *net.TCPAddr

	EngineKind    engine.Kind
	EngineMaxSock int
	FDCapacity    int

	ListenerOptions listener.Options

	// MaxConn is the frontend's concurrent-connection ceiling; the
	// listener enforces it directly (see package listener).
	MaxConn int

	// SessionRatePerSecond caps new sessions admitted per second; 0 means
	// unbounded.
	SessionRatePerSecond int

	// GraceTimeout bounds how long a soft-stopped proxy waits for
	// in-flight sessions before Stop forces the listener down anyway.
	GraceTimeout time.Duration

	// ManagementInterval is the per-proxy management task's tick period;
	// it defaults to 200ms when zero.
	ManagementInterval time.Duration

	Backend lb.Pool

	StreamTimeouts stream.Timeouts
	BufferSize     int

	ConnectOptions connector.Options
	ConnectMaxSock int

	// Log, if set, is invoked once per terminated session.
	Log func(*session.Session)

	// Metrics, if set, receives this proxy's accept/reject events.
	Metrics MetricsObserver

	// Logger receives lifecycle and error-path events (listen, stop,
	// connect failures). A nil Logger is replaced by a default
	// info-level logger in New, so this never needs a nil check at
	// the call sites.
	Logger liblog.Logger
}

// MetricsObserver receives one listener's accept/reject events as they
// happen, so a metrics registry never becomes a second source of truth
// for counts the listener and rate limiter already track.
type MetricsObserver interface {
	OnAccept()
	OnReject()
}

func (c Config) validate() error {
	if c.Listen == nil {
		return ErrorInvalidConfig.Error(nil)
	}
	if c.Backend == nil {
		return ErrorInvalidConfig.Error(nil)
	}
	if c.BufferSize <= 0 {
		return ErrorInvalidConfig.Error(nil)
	}
	if c.EngineMaxSock <= 0 || c.FDCapacity <= 0 || c.ConnectMaxSock <= 0 {
		return ErrorInvalidConfig.Error(nil)
	}
	return nil
}
