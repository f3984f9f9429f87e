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
	"fmt"
	"time"

	libval "github.com/go-playground/validator/v10"

	liberr "github.com/relaycore/edge/errors"
	"github.com/relaycore/edge/lb"
)

// maxUserWeight is the largest configured weight whose effective weight
// (uweight*lb.WeightScale) still fits lb.WeightScaleMax.
const maxUserWeight = lb.WeightScaleMax / lb.WeightScale

// ServerDoc describes one backend member as it appears in the YAML
// document (§3's Server attributes, minus the live counters and tree
// handle, which only exist once the server is built into an lb.Server).
type ServerDoc struct {
	Name    string `mapstructure:"name" json:"name" yaml:"name" validate:"required"`
	Address string `mapstructure:"address" json:"address" yaml:"address" validate:"required,hostname_port"`
	Weight  int    `mapstructure:"weight" json:"weight" yaml:"weight" validate:"min=0"`
	Backup  bool   `mapstructure:"backup" json:"backup" yaml:"backup"`
}

// HealthCheckDoc configures the health.Options a backend's servers
// share. A zero Interval means the backend carries no health check at
// all (Build skips constructing one); that's a deliberate opt-out, so
// these fields carry no "required" constraint of their own — Validate
// cross-checks Interval>0 implies the rest are set instead.
type HealthCheckDoc struct {
	Interval time.Duration `mapstructure:"interval" json:"interval" yaml:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	Rise     int           `mapstructure:"rise" json:"rise" yaml:"rise"`
	Fall     int           `mapstructure:"fall" json:"fall" yaml:"fall"`
}

// BackendDoc describes one backend's scheduling algorithm and member
// list (§3's "Backend load-balancer state").
type BackendDoc struct {
	Name        string         `mapstructure:"name" json:"name" yaml:"name" validate:"required"`
	Algorithm   string         `mapstructure:"algorithm" json:"algorithm" yaml:"algorithm" validate:"required,oneof=leastconn roundrobin"`
	Servers     []ServerDoc    `mapstructure:"servers" json:"servers" yaml:"servers" validate:"required,min=1,dive"`
	HealthCheck HealthCheckDoc `mapstructure:"healthCheck" json:"healthCheck" yaml:"healthCheck"`
}

// TimeoutsDoc mirrors the subset of §3 Proxy's timeout set that a TCP
// stream interface (stream.Timeouts) actually enforces; client and
// server data timeouts are unified into Data since this core has no
// per-direction distinction once a stream reaches the established state.
type TimeoutsDoc struct {
	Connect time.Duration `mapstructure:"connect" json:"connect" yaml:"connect" validate:"required,gt=0"`
	Queue   time.Duration `mapstructure:"queue" json:"queue" yaml:"queue" validate:"required,gt=0"`
	Tarpit  time.Duration `mapstructure:"tarpit" json:"tarpit" yaml:"tarpit" validate:"required,gt=0"`
	Data    time.Duration `mapstructure:"data" json:"data" yaml:"data" validate:"required,gt=0"`
}

// ProxyDoc describes one frontend/backend pairing (§3's Proxy, restricted
// to the TCP-mode fields this core implements).
type ProxyDoc struct {
	Name                 string      `mapstructure:"name" json:"name" yaml:"name" validate:"required"`
	Listen               string      `mapstructure:"listen" json:"listen" yaml:"listen" validate:"required,hostname_port"`
	Backend              string      `mapstructure:"backend" json:"backend" yaml:"backend" validate:"required"`
	EngineKind           string      `mapstructure:"engineKind" json:"engineKind" yaml:"engineKind" validate:"omitempty,oneof=level speculative"`
	MaxConn              int         `mapstructure:"maxConn" json:"maxConn" yaml:"maxConn" validate:"required,gt=0"`
	SessionRatePerSecond int         `mapstructure:"sessionRatePerSecond" json:"sessionRatePerSecond" yaml:"sessionRatePerSecond" validate:"gte=0"`
	GraceTimeout         time.Duration `mapstructure:"graceTimeout" json:"graceTimeout" yaml:"graceTimeout" validate:"gte=0"`
	BufferSize           int         `mapstructure:"bufferSize" json:"bufferSize" yaml:"bufferSize" validate:"required,gt=0"`
	Timeouts             TimeoutsDoc `mapstructure:"timeouts" json:"timeouts" yaml:"timeouts"`
}

// Document is the root of the YAML configuration surface (§4.11): one or
// more backends, each referenced by one or more proxies.
type Document struct {
	Backends []BackendDoc `mapstructure:"backends" json:"backends" yaml:"backends" validate:"required,min=1,dive"`
	Proxies  []ProxyDoc   `mapstructure:"proxies" json:"proxies" yaml:"proxies" validate:"required,min=1,dive"`
}

// Validate runs struct-tag validation (go-playground/validator) and the
// cross-reference checks the tags alone can't express (every proxy's
// backend must actually exist), aggregating every failure into a single
// liberr.Error rather than stopping at the first bad field.
func (d *Document) Validate() liberr.Error {
	out := ErrorValidate.Error(nil)

	if er := libval.New().Struct(d); er != nil {
		if e, ok := er.(*libval.InvalidValidationError); ok {
			out.Add(e)
		} else if ve, ok := er.(libval.ValidationErrors); ok {
			for _, e := range ve {
				//nolint goerr113
				out.Add(fmt.Errorf("config field '%s' is not validated by constraint '%s'", e.StructNamespace(), e.ActualTag()))
			}
		} else {
			out.Add(er)
		}
	}

	known := make(map[string]bool, len(d.Backends))
	for _, b := range d.Backends {
		known[b.Name] = true

		hc := b.HealthCheck
		if hc.Interval > 0 && (hc.Timeout <= 0 || hc.Rise <= 0 || hc.Fall <= 0) {
			//nolint goerr113
			out.Add(fmt.Errorf("backend '%s' sets a health check interval but leaves timeout/rise/fall unset", b.Name))
		}
		for _, s := range b.Servers {
			if s.Weight > maxUserWeight {
				//nolint goerr113
				out.Add(fmt.Errorf("backend '%s' server '%s' weight %d exceeds the configured weight-scale (max %d)", b.Name, s.Name, s.Weight, maxUserWeight))
			}
		}
	}
	for _, p := range d.Proxies {
		if !known[p.Backend] {
			//nolint goerr113
			out.Add(fmt.Errorf("proxy '%s' references unknown backend '%s'", p.Name, p.Backend))
		}
	}

	if out.HasParent() {
		return out
	}

	return nil
}
