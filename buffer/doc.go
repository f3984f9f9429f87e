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

// Package buffer implements the fixed-size circular byte buffer each stream
// interface uses to stage data moving through a session: one buffer for the
// request path, one for the response path.
//
// A Buffer is deliberately not safe for concurrent use: exactly one stream
// interface owns it at a time and drives it from a single readiness-engine
// callback, matching the cooperative, single-goroutine-per-connection model
// the rest of the proxy core assumes. What it adds over a plain ring of
// bytes is the bookkeeping the stream-interface state machine needs to
// decide when to shut a direction down, stop reading, or give up waiting:
// read/write watermarks, terminal shutdown flags, a wait-expiry timestamp,
// and sticky poll-event bits that survive a readiness engine's per-turn
// masking.
package buffer
