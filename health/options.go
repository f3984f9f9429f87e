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
	"time"

	"github.com/relaycore/edge/connector"
	"github.com/relaycore/edge/engine"
)

// Options configures one server's health check ticker.
type Options struct {
	// Interval between probes.
	Interval time.Duration
	// Timeout bounds how long a single probe may take to either
	// establish or fail before it is counted as a failure.
	Timeout time.Duration

	// Rise is the number of consecutive successes required, starting
	// from a down (or unknown) reported state, before status-up fires.
	Rise int
	// Fall is the number of consecutive failures required, starting
	// from an up reported state, before status-down fires.
	Fall int

	ConnectOptions connector.Options
	EngineKind     engine.Kind

	// PollInterval bounds how often the probe's private engine is
	// polled while waiting for a connect to resolve; it should be a
	// small fraction of Timeout.
	PollInterval time.Duration
}

func (o Options) validate() error {
	if o.Interval <= 0 || o.Timeout <= 0 {
		return ErrorInvalidOptions.Error(nil)
	}
	if o.Rise <= 0 || o.Fall <= 0 {
		return ErrorInvalidOptions.Error(nil)
	}
	return nil
}

func (o Options) pollInterval() time.Duration {
	if o.PollInterval > 0 {
		return o.PollInterval
	}
	return 10 * time.Millisecond
}
