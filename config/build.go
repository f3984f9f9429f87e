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

package config

import (
	"net"
	"time"

	"github.com/relaycore/edge/connector"
	"github.com/relaycore/edge/engine"
	"github.com/relaycore/edge/health"
	"github.com/relaycore/edge/lb"
	"github.com/relaycore/edge/metrics"
	"github.com/relaycore/edge/proxy"
	"github.com/relaycore/edge/stream"
)

func connectOptionsFor(timeout time.Duration) connector.Options {
	return connector.Options{ConnectTimeout: timeout}
}

// minFDCapacity floors the derived FD registry / engine socket ceilings
// so a small maxConn in a test config still leaves room for the
// listening socket itself plus a handful of in-flight accepts.
const minFDCapacity = 64

// Runtime is the set of live objects Document.Build constructs: one
// lb.Pool per backend, one health.Check per server that declared a
// health check, and one proxy.Config per proxy ready for proxy.New.
// Nothing here is started; the caller (package cmd) owns that sequencing
// so it can start health checks before traffic and stop proxies before
// health checks on shutdown.
type Runtime struct {
	Backends map[string]lb.Pool
	Checks   []*health.Check
	Proxies  []proxy.Config
}

// Build resolves every address, constructs every backend pool and
// server, and assembles one proxy.Config per ProxyDoc. reg may be nil;
// when set, every backend pool and health check is wired to it so
// metrics are a pure side effect of the transitions Build wires up, per
// §4.10.
func (d *Document) Build(reg *metrics.Registry) (*Runtime, error) {
	rt := &Runtime{Backends: make(map[string]lb.Pool, len(d.Backends))}

	for _, b := range d.Backends {
		pool, checks, e := buildBackend(b, reg)
		if e != nil {
			return nil, e
		}
		rt.Backends[b.Name] = pool
		rt.Checks = append(rt.Checks, checks...)
	}

	for _, p := range d.Proxies {
		cfg, e := buildProxy(p, rt.Backends[p.Backend], reg)
		if e != nil {
			return nil, e
		}
		rt.Proxies = append(rt.Proxies, cfg)
	}

	return rt, nil
}

func buildBackend(b BackendDoc, reg *metrics.Registry) (lb.Pool, []*health.Check, error) {
	var pool lb.Pool
	switch b.Algorithm {
	case "leastconn":
		pool = lb.NewLC()
	case "roundrobin":
		pool = lb.NewWRR()
	default:
		return nil, nil, ErrorUnknownAlgorithm.Error(nil)
	}

	var bobs *metrics.BackendObserver
	if reg != nil {
		bobs = reg.Backend(b.Name)
		switch p := pool.(type) {
		case *lb.LC:
			p.SetObserver(bobs)
		case *lb.WRR:
			p.SetObserver(bobs)
		}
	}

	var checks []*health.Check
	for _, sd := range b.Servers {
		addr, e := net.ResolveTCPAddr("tcp", sd.Address)
		if e != nil {
			return nil, nil, ErrorUnmarshal.Error(e)
		}

		srv := lb.NewServer(sd.Name, addr, sd.Weight, lb.Backup(sd.Backup))
		pool.Add(srv)

		if b.HealthCheck.Interval <= 0 {
			continue
		}

		chk, e := health.New(srv, pool, health.Options{
			Interval:       b.HealthCheck.Interval,
			Timeout:        b.HealthCheck.Timeout,
			Rise:           b.HealthCheck.Rise,
			Fall:           b.HealthCheck.Fall,
			ConnectOptions: connectOptionsFor(b.HealthCheck.Timeout),
			EngineKind:     engine.KindLevel,
		})
		if e != nil {
			return nil, nil, e
		}
		if bobs != nil {
			chk.SetObserver(bobs.ServerHealth(sd.Name))
		}
		checks = append(checks, chk)
	}

	return pool, checks, nil
}

func buildProxy(p ProxyDoc, backend lb.Pool, reg *metrics.Registry) (proxy.Config, error) {
	var cfg proxy.Config

	if backend == nil {
		return cfg, ErrorUnknownBackend.Error(nil)
	}

	addr, e := net.ResolveTCPAddr("tcp", p.Listen)
	if e != nil {
		return cfg, ErrorUnmarshal.Error(e)
	}

	kind := engine.KindLevel
	if p.EngineKind == "speculative" {
		kind = engine.KindSpeculative
	}

	ceiling := p.MaxConn * 2
	if ceiling < minFDCapacity {
		ceiling = minFDCapacity
	}

	cfg = proxy.Config{
		Name:                 p.Name,
		Listen:               addr,
		EngineKind:           kind,
		EngineMaxSock:        ceiling,
		FDCapacity:           ceiling,
		MaxConn:              p.MaxConn,
		SessionRatePerSecond: p.SessionRatePerSecond,
		GraceTimeout:         p.GraceTimeout,
		Backend:              backend,
		StreamTimeouts: stream.Timeouts{
			Queue:   p.Timeouts.Queue,
			Connect: p.Timeouts.Connect,
			Tarpit:  p.Timeouts.Tarpit,
			Data:    p.Timeouts.Data,
		},
		BufferSize:     p.BufferSize,
		ConnectOptions: connectOptionsFor(p.Timeouts.Connect),
		ConnectMaxSock: ceiling,
	}

	if reg != nil {
		cfg.Metrics = reg.Listener(p.Name)
	}

	return cfg, nil
}
