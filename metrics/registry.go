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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaycore/edge/health"
)

const namespace = "relaycore"

// Registry is a prometheus.Registry wrapped with the per-listener,
// per-backend, and per-server collectors SPEC_FULL.md §4.10 names.
// Nothing here is ever set except from a Backend/Listener/ServerHealth
// hook, so the exported numbers can never disagree with the state the
// load-balancer and health checker actually hold.
type Registry struct {
	reg *prometheus.Registry

	listenerAccepted *prometheus.CounterVec
	listenerRejected *prometheus.CounterVec

	selections *prometheus.CounterVec
	totWact    *prometheus.GaugeVec
	totWbck    *prometheus.GaugeVec

	served       *prometheus.GaugeVec
	healthOutcome *prometheus.CounterVec
	serverState  *prometheus.GaugeVec
}

// New builds a Registry with all collectors registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		listenerAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "accepted_total",
			Help:      "Connections accepted by a frontend listener.",
		}, []string{"listener"}),
		listenerRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "rejected_total",
			Help:      "Connections rejected by a frontend listener's session rate limit.",
		}, []string{"listener"}),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "selections_total",
			Help:      "Server selections per backend, split by outcome (active, backup, none).",
		}, []string{"backend", "outcome"}),
		totWact: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "tot_wact",
			Help:      "Sum of effective weight over usable active servers.",
		}, []string{"backend"}),
		totWbck: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "tot_wbck",
			Help:      "Sum of effective weight over usable backup servers.",
		}, []string{"backend"}),
		served: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "served",
			Help:      "Connections currently assigned to a server.",
		}, []string{"backend", "server"}),
		healthOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "health_checks_total",
			Help:      "Health probes per server, split by outcome (success, failure).",
		}, []string{"backend", "server", "outcome"}),
		serverState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "state",
			Help:      "Server state: 0=down, 1=up, 2=maintenance.",
		}, []string{"backend", "server"}),
	}

	r.reg.MustRegister(
		r.listenerAccepted,
		r.listenerRejected,
		r.selections,
		r.totWact,
		r.totWbck,
		r.served,
		r.healthOutcome,
		r.serverState,
	)

	return r
}

// Gatherer exposes the underlying collector set for an HTTP handler
// (promhttp.HandlerFor) to serve.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ObserveAccept records one accepted connection on listener.
func (r *Registry) ObserveAccept(listener string) {
	r.listenerAccepted.WithLabelValues(listener).Inc()
}

// ObserveReject records one rate-limit-rejected connection on listener.
func (r *Registry) ObserveReject(listener string) {
	r.listenerRejected.WithLabelValues(listener).Inc()
}

// Listener returns a proxy.MetricsObserver bound to name, to be attached
// via proxy.Config.Metrics.
func (r *Registry) Listener(name string) *ListenerObserver {
	return &ListenerObserver{reg: r, listener: name}
}

// ListenerObserver implements proxy.MetricsObserver for one named
// frontend listener.
type ListenerObserver struct {
	reg      *Registry
	listener string
}

func (l *ListenerObserver) OnAccept() { l.reg.ObserveAccept(l.listener) }
func (l *ListenerObserver) OnReject() { l.reg.ObserveReject(l.listener) }

// Backend returns a lb.Observer bound to name, to be attached via the
// pool's SetObserver before traffic starts flowing.
func (r *Registry) Backend(name string) *BackendObserver {
	return &BackendObserver{reg: r, backend: name}
}

// BackendObserver implements lb.Observer for one named backend.
type BackendObserver struct {
	reg     *Registry
	backend string
}

func (b *BackendObserver) OnSelection(outcome string) {
	b.reg.selections.WithLabelValues(b.backend, outcome).Inc()
}

func (b *BackendObserver) OnWeightsChanged(wact, wbck int64) {
	b.reg.totWact.WithLabelValues(b.backend).Set(float64(wact))
	b.reg.totWbck.WithLabelValues(b.backend).Set(float64(wbck))
}

func (b *BackendObserver) OnServerLoad(server string, served int64) {
	b.reg.served.WithLabelValues(b.backend, server).Set(float64(served))
}

func (b *BackendObserver) OnServerState(server string, up bool) {
	state := 0.0
	if up {
		state = 1.0
	}
	b.reg.serverState.WithLabelValues(b.backend, server).Set(state)
}

// ServerHealth returns a health.Observer bound to one server of this
// backend, to be attached via health.Check.SetObserver.
func (b *BackendObserver) ServerHealth(server string) *ServerHealthObserver {
	return &ServerHealthObserver{backend: b, server: server}
}

// ServerHealthObserver implements health.Observer for one server.
type ServerHealthObserver struct {
	backend *BackendObserver
	server  string
}

func (o *ServerHealthObserver) OnProbe(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	o.backend.reg.healthOutcome.WithLabelValues(o.backend.backend, o.server, outcome).Inc()
}

func (o *ServerHealthObserver) OnState(state health.State) {
	var v float64
	switch state {
	case health.StateUp:
		v = 1
	case health.StateMaintenance:
		v = 2
	default:
		v = 0
	}
	o.backend.reg.serverState.WithLabelValues(o.backend.backend, o.server).Set(v)
}
