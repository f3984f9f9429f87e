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

package engine

import (
	"time"

	"github.com/relaycore/edge/fdregistry"
)

// Direction re-exports fdregistry.Direction so callers never need to import
// both packages just to call Set/Clear.
type Direction = fdregistry.Direction

const (
	Read  = fdregistry.Read
	Write = fdregistry.Write
)

// Kind identifies one of the available readiness engine back-ends.
type Kind uint8

const (
	// KindLevel selects the plain level-triggered epoll back-end.
	KindLevel Kind = iota
	// KindSpeculative selects the edge-triggered, speculative back-end.
	KindSpeculative
)

// Engine is the back-end-agnostic readiness engine contract. A listener,
// stream or connector registers interest in a direction and the engine
// invokes the fd registry's callback for that direction once the kernel (or,
// for the speculative back-end, a direct speculative call) reports progress
// is possible.
type Engine interface {
	// IsSet reports whether dir is currently marked as wanted for fd.
	IsSet(fd int, dir Direction) bool

	// Set marks dir as wanted for fd. Idempotent.
	Set(fd int, dir Direction)

	// Clear marks dir as no longer wanted for fd. Idempotent.
	Clear(fd int, dir Direction)

	// Remove drops every direction of interest the engine still holds for
	// fd and purges any back-end-private bookkeeping. Called by the fd
	// registry's close hook; callers never need to call it directly.
	Remove(fd int)

	// Poll blocks until at least one registered fd becomes ready, the
	// deadline elapses, or the engine is closed, dispatching callbacks for
	// whatever became ready before it returns. A zero deadline means wait
	// indefinitely.
	Poll(deadline time.Duration) error

	// Close releases the underlying kernel queue. Poll must not be called
	// again afterward.
	Close() error
}

// New builds the registry's close hook into an engine of the requested kind.
// maxsock bounds the number of distinct fds the engine's internal side
// structures (used only by KindSpeculative) pre-allocate for.
func New(kind Kind, reg fdregistry.Registry, maxsock int) (Engine, error) {
	switch kind {
	case KindSpeculative:
		return newSpecEngine(reg, maxsock)
	default:
		return newLevelEngine(reg)
	}
}
