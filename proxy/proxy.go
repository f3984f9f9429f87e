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
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaycore/edge/clock"
	"github.com/relaycore/edge/connector"
	"github.com/relaycore/edge/engine"
	liberr "github.com/relaycore/edge/errors"
	"github.com/relaycore/edge/fdregistry"
	"github.com/relaycore/edge/listener"
	liblog "github.com/relaycore/edge/logger"
	"github.com/relaycore/edge/session"
)

const defaultManagementInterval = 200 * time.Millisecond

// Proxy wires a frontend listener to a backend pool and drives them both:
// a single engine goroutine dispatches I/O and runs the per-proxy
// management task (SPEC_FULL.md §4.8) once per tick.
type Proxy struct {
	cfg Config

	state atomic.Int32

	stopping      atomic.Bool
	graceDeadline atomic.Int64

	eng engine.Engine
	reg fdregistry.Registry
	ln  *listener.Listener

	rate *rateLimiter

	accepted atomic.Uint64
	rejected atomic.Uint64

	closeMu  sync.Once
	loopDone chan struct{}
}

// New validates cfg and allocates the proxy's engine, FD registry, and
// frontend listener, without yet binding or accepting (see Start).
func New(cfg Config) (*Proxy, error) {
	if e := cfg.validate(); e != nil {
		return nil, e
	}
	if cfg.ManagementInterval <= 0 {
		cfg.ManagementInterval = defaultManagementInterval
	}

	reg := fdregistry.New(cfg.FDCapacity)
	eng, e := engine.New(cfg.EngineKind, reg, cfg.EngineMaxSock)
	if e != nil {
		return nil, e
	}

	ln, e := listener.Listen(cfg.Listen, cfg.ListenerOptions)
	if e != nil {
		_ = eng.Close()
		return nil, ErrorListenFailed.Error(nil)
	}
	ln.SetMaxConn(cfg.MaxConn)

	if cfg.Logger == nil {
		cfg.Logger = liblog.New(context.Background())
	}

	p := &Proxy{
		cfg:      cfg,
		eng:      eng,
		reg:      reg,
		ln:       ln,
		rate:     newRateLimiter(cfg.SessionRatePerSecond),
		loopDone: make(chan struct{}),
	}
	p.state.Store(int32(StateNew))
	return p, nil
}

// State reports the proxy's current lifecycle state.
func (p *Proxy) State() State { return State(p.state.Load()) }

// Addr returns the frontend's bound local address.
func (p *Proxy) Addr() *net.TCPAddr { return p.ln.Addr() }

// Stats reports the accepted and rate-limit-rejected connection counts.
func (p *Proxy) Stats() (accepted, rejected uint64) {
	return p.accepted.Load(), p.rejected.Load()
}

// Start registers the listener's accept path against the engine and
// launches the single goroutine that drives both I/O dispatch and the
// management tick.
func (p *Proxy) Start() error {
	if p.State() != StateNew {
		return ErrorAlreadyStarted.Error(nil)
	}
	if e := p.ln.Start(p.eng, p.reg, p.acceptConn); e != nil {
		return e
	}
	p.state.Store(int32(StateReady))
	p.cfg.Logger.Info("proxy listening", nil, p.cfg.Name, p.ln.Addr().String())
	go p.loop()
	return nil
}

// Stop initiates a soft-stop: grace gives in-flight sessions time to
// finish before the management task tears the listener down on its next
// tick. A zero grace stops immediately on the next tick.
func (p *Proxy) Stop(grace time.Duration) {
	now := clock.Now()
	p.stopping.Store(true)
	p.graceDeadline.Store(int64(now.Add(grace)))
}

// Wait blocks until the proxy's goroutine has fully stopped.
func (p *Proxy) Wait() {
	<-p.loopDone
}

// Pause administratively stops accepting new connections without
// tearing the listener down, leaving existing sessions untouched.
func (p *Proxy) Pause() {
	if p.State() == StateStopped {
		return
	}
	p.ln.SetFull(true)
	p.state.Store(int32(StatePaused))
}

// Resume reverses Pause, restoring StateReady (or StateFull, re-evaluated
// on the next management tick, if the connection ceiling is still hit).
func (p *Proxy) Resume() {
	if p.State() != StatePaused {
		return
	}
	p.ln.SetFull(false)
	p.state.Store(int32(StateReady))
}

// loop drives engine dispatch and the management task from a single
// goroutine, matching §5's "single engine goroutine, no internal mutex
// discipline in the hot path" scheduling model.
func (p *Proxy) loop() {
	defer close(p.loopDone)
	// A panicked invariant (e.g. lb's "server was down" assertion) stops
	// only this proxy's goroutine; other proxies keep running rather than
	// taking the whole process down with them.
	defer func() {
		if r := recover(); r != nil {
			p.cfg.Logger.Error("proxy engine turn panicked, stopping this proxy", r, p.cfg.Name)
			p.stopProxy()
		}
	}()

	interval := p.cfg.ManagementInterval
	nextTick := clock.Refresh().Add(interval)

	for {
		_ = p.eng.Poll(interval)
		now := clock.Refresh()

		if now >= nextTick {
			p.tick(now)
			nextTick = now.Add(interval)
		}

		if p.State() == StateStopped {
			return
		}
	}
}

// tick implements SPEC_FULL.md §4.8's per-proxy management step.
func (p *Proxy) tick(now clock.Tick) {
	if p.stopping.Load() {
		deadline := clock.Tick(p.graceDeadline.Load())
		if deadline.Expired(now) {
			p.stopProxy()
			return
		}
	}

	if p.State() == StatePaused {
		return
	}

	switch p.ln.State() {
	case listener.StateFull:
		p.state.Store(int32(StateFull))
	case listener.StateListening:
		p.state.Store(int32(StateReady))
	}
}

// stopProxy unbinds the listener, closes the engine, and transitions to
// StateStopped; it is the terminal step of §4.8's grace-elapsed branch.
func (p *Proxy) stopProxy() {
	p.closeMu.Do(func() {
		_ = p.ln.Stop()
		_ = p.eng.Close()
		p.state.Store(int32(StateStopped))
		p.cfg.Logger.Info("proxy stopped", nil, p.cfg.Name)
	})
}

// acceptConn is the listener's AcceptHandler: it rate-limits, builds a
// session, seeds the client-side stream interface directly into the
// established state (the frontend is already connected the instant
// accept() succeeds), picks a backend server, and hands the server side
// off to the outbound connector.
func (p *Proxy) acceptConn(fd int, remote, local net.Addr) {
	now := clock.Now()

	if p.State() == StateStopped || p.State() == StatePaused {
		closeFD(fd)
		return
	}
	if !p.rate.allow(now) {
		p.rejected.Add(1)
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.OnReject()
		}
		closeFD(fd)
		return
	}

	sess := session.New(remote, p.cfg.Name, p.cfg.BufferSize, p.cfg.BufferSize, p.cfg.StreamTimeouts, now)
	sess.Log = p.cfg.Log

	if e := sess.Client.Accept(fd, now); e != nil {
		closeFD(fd)
		return
	}
	if e := p.reg.Insert(fd, sess, readPump(fd, sess.Client, sess.ReqBuf), writePump(fd, sess.Client, sess.RespBuf)); e != nil {
		closeFD(fd)
		return
	}
	p.eng.Set(fd, engine.Read)

	sess.AssignBackend(p.cfg.Name, p.cfg.Backend)

	if e := sess.Server.RequestConnect(); e != nil {
		p.dropSession(sess, e, now)
		return
	}

	// First pick for this session: nothing to avoid yet.
	srv, e := sess.PickServer(false, nil)
	if e != nil {
		p.dropSession(sess, e, now)
		return
	}

	sfd, cerr := connector.Connect(srv.Addr, p.cfg.ConnectOptions, p.cfg.ConnectMaxSock, p.eng, p.reg, sess.Server, sess.RespBuf, sess.ReqBuf, now)
	if cerr != nil {
		p.cfg.Logger.Error("backend connect failed", cerr, p.cfg.Name, srv.Name)
		p.dropSession(sess, ErrorConnectFailed.Error(cerr), now)
		return
	}
	_ = sfd

	p.cfg.Backend.TakeConnection(srv)
	p.accepted.Add(1)
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.OnAccept()
	}
}

// dropSession tears a session down before its server side ever reached a
// connected state: closes the client fd, notifies the registry, and
// invokes Terminate so the session is still accounted and logged.
func (p *Proxy) dropSession(sess *session.Session, reason liberr.Error, now clock.Tick) {
	fd := sess.Client.FD()
	p.reg.CloseNotify(fd)
	p.eng.Remove(fd)
	closeFD(fd)
	sess.Terminate(reason, now)
	p.ln.Release()
}
