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

package health

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaycore/edge/buffer"
	"github.com/relaycore/edge/clock"
	"github.com/relaycore/edge/connector"
	"github.com/relaycore/edge/engine"
	"github.com/relaycore/edge/fdregistry"
	"github.com/relaycore/edge/lb"
	"github.com/relaycore/edge/stream"
)

// State is the health checker's last reported verdict for a server, as
// distinct from the raw per-probe success/failure (see §4.9's debounce).
type State int32

const (
	StateUnknown State = iota
	StateUp
	StateDown
	StateMaintenance
)

func (s State) String() string {
	switch s {
	case StateUp:
		return "up"
	case StateDown:
		return "down"
	case StateMaintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// Check owns one server's health-check ticker: it probes on Interval,
// counts consecutive successes/failures, and calls into pool's
// StatusUp/StatusDown once Rise/Fall debounce thresholds are crossed.
type Check struct {
	server *lb.Server
	pool   lb.Pool
	opts   Options

	reported State

	successes int
	failures  int

	maintenance atomic.Bool

	lastProbe   clock.Tick
	lastOutcome atomic.Bool

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started atomic.Bool

	obs Observer
}

// Observer receives one server's probe outcomes and reported-state
// transitions as they happen, so a metrics registry can track them
// without becoming a second source of truth.
type Observer interface {
	// OnProbe reports whether one completed probe (pre-debounce)
	// succeeded.
	OnProbe(success bool)
	// OnState reports a reported-state change.
	OnState(state State)
}

// SetObserver attaches o to receive this check's probe and state
// events. Must be called before Start.
func (c *Check) SetObserver(o Observer) { c.obs = o }

// New builds a Check for server against pool; it does not start probing
// until Start is called.
func New(server *lb.Server, pool lb.Pool, opts Options) (*Check, error) {
	if e := opts.validate(); e != nil {
		return nil, e
	}
	return &Check{
		server:   server,
		pool:     pool,
		opts:     opts,
		reported: StateUnknown,
	}, nil
}

// Reported returns the checker's last reported status.
func (c *Check) Reported() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reported
}

// LastOutcome reports whether the most recently completed probe (not
// debounced) succeeded.
func (c *Check) LastOutcome() bool { return c.lastOutcome.Load() }

// SetMaintenance toggles administrative maintenance. Entering
// maintenance immediately calls StatusDown and forces the reported
// state to maintenance, mirroring the same tree-eviction path a failed
// check uses (original_source/src/lb_fwlc.c's
// fwlc_set_server_status_down is shared by both callers). Leaving
// maintenance resets the debounce counters so the server must
// re-accumulate Rise consecutive successes before it is trusted again.
func (c *Check) SetMaintenance(on bool) {
	c.maintenance.Store(on)

	c.mu.Lock()
	defer c.mu.Unlock()

	if on {
		c.pool.StatusDown(c.server)
		c.reported = StateMaintenance
		c.successes = 0
		c.failures = 0
		if c.obs != nil {
			c.obs.OnState(StateMaintenance)
		}
		return
	}

	if c.reported == StateMaintenance {
		c.reported = StateDown
		c.successes = 0
		c.failures = 0
		if c.obs != nil {
			c.obs.OnState(StateDown)
		}
	}
}

// Start launches the ticker goroutine. It is a no-op if already started.
func (c *Check) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.run()
}

// Stop halts the ticker goroutine and waits for it to exit.
func (c *Check) Stop() {
	if !c.started.CompareAndSwap(true, false) {
		return
	}
	close(c.stopCh)
	<-c.doneCh
}

func (c *Check) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if c.maintenance.Load() {
				continue
			}
			c.tick()
		}
	}
}

// tick runs one probe and applies the rise/fall debounce.
func (c *Check) tick() {
	ok := c.probe()
	c.lastOutcome.Store(ok)
	c.lastProbe = clock.Now()
	if c.obs != nil {
		c.obs.OnProbe(ok)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ok {
		c.failures = 0
		c.successes++
		if c.reported != StateUp && c.successes >= c.opts.Rise {
			c.pool.StatusUp(c.server)
			c.reported = StateUp
			if c.obs != nil {
				c.obs.OnState(StateUp)
			}
		}
		return
	}

	c.successes = 0
	c.failures++
	if c.reported != StateDown && c.failures >= c.opts.Fall {
		c.pool.StatusDown(c.server)
		c.reported = StateDown
		if c.obs != nil {
			c.obs.OnState(StateDown)
		}
	}
}

// probe opens a private engine/registry pair, drives a single
// non-blocking connect through connector.Connect (the same primitive
// package proxy uses for real outbound connections, per §4.9's explicit
// "reusing the outbound connector... rather than a second code path"),
// and polls until the stream interface either establishes or errors, or
// Timeout elapses.
func (c *Check) probe() bool {
	reg := fdregistry.New(4)
	eng, e := engine.New(c.opts.EngineKind, reg, 4)
	if e != nil {
		return false
	}
	defer eng.Close()

	si := stream.New(buffer.New(16), buffer.New(16), stream.Timeouts{
		Connect: c.opts.Timeout,
		Data:    c.opts.Timeout,
	})
	if e := si.RequestConnect(); e != nil {
		return false
	}
	if e := si.Assign(); e != nil {
		return false
	}

	now := clock.Now()
	fd, cerr := connector.Connect(c.server.Addr, c.opts.ConnectOptions, 4, eng, reg, si, buffer.New(16), buffer.New(16), now)
	if cerr != nil {
		return false
	}
	defer closeFD(fd)
	defer eng.Remove(fd)

	deadline := time.Now().Add(c.opts.Timeout)
	for si.State() == stream.StateConnecting && time.Now().Before(deadline) {
		_ = eng.Poll(c.opts.pollInterval())
	}

	return si.State() == stream.StateEstablished
}
