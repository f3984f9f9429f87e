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

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	spfcbr "github.com/spf13/cobra"

	"github.com/relaycore/edge/config"
	"github.com/relaycore/edge/lb"
	liblog "github.com/relaycore/edge/logger"
	"github.com/relaycore/edge/metrics"
	"github.com/relaycore/edge/proxy"
)

var (
	metricsListen string
	lockPath      string
)

func newServeCommand() *spfcbr.Command {
	cmd := &spfcbr.Command{
		Use:   "serve",
		Short: "Load a configuration document and run its proxies until stopped",
		RunE:  runServe,
	}

	cmd.Flags().StringVar(&metricsListen, "metrics-listen", ":9100", "address the Prometheus /metrics endpoint binds to")
	cmd.Flags().StringVar(&lockPath, "lock-file", "", "single-instance lock file path (defaults to <config>.lock)")

	return cmd
}

func runServe(cmd *spfcbr.Command, args []string) error {
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}

	lockFile := lockPath
	if lockFile == "" {
		lockFile = configPath + ".lock"
	}

	// A single bind set (the listen addresses named in the config) must
	// never be driven by two processes at once; gofrs/flock gives us an
	// advisory OS-level lock two relaycore instances on the same host
	// will both respect, rather than racing on listen() and erroring
	// only at the socket layer.
	fl := flock.New(lockFile)
	locked, e := fl.TryLock()
	if e != nil {
		return fmt.Errorf("acquiring lock file %s: %w", lockFile, e)
	}
	if !locked {
		return fmt.Errorf("another relaycore instance already holds lock file %s", lockFile)
	}
	defer fl.Unlock()

	srv := &server{}
	if e := srv.load(configPath); e != nil {
		return e
	}
	srv.start()
	defer srv.stopMetrics()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for s := range sig {
		switch s {
		case syscall.SIGHUP:
			if e := srv.reload(configPath); e != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "reload failed, keeping previous configuration: %v\n", e)
			}
		default:
			srv.shutdown()
			return nil
		}
	}

	return nil
}

// server owns the live objects one `serve` invocation drives: the
// metrics registry every backend/health/listener hook feeds, the
// running proxies, and the health checks ticking independently of them.
type server struct {
	doc *config.Document
	rt  *config.Runtime
	reg *metrics.Registry

	log liblog.Logger

	proxies []*proxy.Proxy
	// graceTimeouts mirrors proxies by index; proxy.Proxy exposes no name
	// or config accessor, so shutdown looks grace periods up positionally.
	graceTimeouts []time.Duration
	metricsSrv    *http.Server
}

func (s *server) load(path string) error {
	doc, e := config.Load(path)
	if e != nil {
		return e
	}

	s.doc = doc
	s.reg = metrics.New()
	s.log = liblog.New(context.Background())

	rt, e := doc.Build(s.reg)
	if e != nil {
		return e
	}
	s.rt = rt
	return nil
}

func (s *server) start() {
	for _, c := range s.rt.Checks {
		c.Start()
	}

	for _, cfg := range s.rt.Proxies {
		cfg.Logger = s.log
		p, e := proxy.New(cfg)
		if e != nil {
			s.log.Error("proxy failed to start", e, cfg.Name)
			continue
		}
		if e := p.Start(); e != nil {
			s.log.Error("proxy failed to start", e, cfg.Name)
			continue
		}
		s.proxies = append(s.proxies, p)
		s.graceTimeouts = append(s.graceTimeouts, cfg.GraceTimeout)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg.Gatherer(), promhttp.HandlerOpts{}))
	s.metricsSrv = &http.Server{Addr: metricsListen, Handler: mux}
	go func() {
		_ = s.metricsSrv.ListenAndServe()
	}()
}

// reload re-reads path and applies only additive changes to already-
// running backends (new servers joining an existing pool), per §6.1:
// a brand new backend or proxy needs a fresh listener and is left for
// the next full restart rather than spliced into a running process.
func (s *server) reload(path string) error {
	next, e := config.Load(path)
	if e != nil {
		return e
	}

	knownServers := make(map[string]map[string]bool, len(s.doc.Backends))
	for _, b := range s.doc.Backends {
		names := make(map[string]bool, len(b.Servers))
		for _, srv := range b.Servers {
			names[srv.Name] = true
		}
		knownServers[b.Name] = names
	}

	for _, b := range next.Backends {
		pool, ok := s.rt.Backends[b.Name]
		if !ok {
			s.log.Info("reload: backend is new, restart relaycore to pick it up", nil, b.Name)
			continue
		}

		for _, sd := range b.Servers {
			if knownServers[b.Name][sd.Name] {
				continue
			}
			addr, e := net.ResolveTCPAddr("tcp", sd.Address)
			if e != nil {
				s.log.Error("reload: resolving server address failed", e, b.Name, sd.Name)
				continue
			}
			srv := lb.NewServer(sd.Name, addr, sd.Weight, lb.Backup(sd.Backup))
			pool.Add(srv)
			s.log.Info("reload: backend gained server", nil, b.Name, sd.Name)
		}
	}

	s.doc = next
	return nil
}

func (s *server) shutdown() {
	for i, p := range s.proxies {
		grace := s.graceTimeouts[i]
		if grace <= 0 {
			grace = 10 * time.Second
		}
		p.Stop(grace)
	}
	for _, p := range s.proxies {
		p.Wait()
	}
	for _, c := range s.rt.Checks {
		c.Stop()
	}
}

func (s *server) stopMetrics() {
	if s.metricsSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.metricsSrv.Shutdown(ctx)
}

