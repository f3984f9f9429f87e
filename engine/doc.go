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

// Package engine implements the readiness engine: the component that turns
// kernel I/O readiness notifications into calls against the fd registry's
// per-direction callbacks.
//
// Two interchangeable back-ends are provided, both built on top of epoll:
//
//   - Level: a plain level-triggered epoll wait. Interest is expressed with
//     one epoll_ctl call per state change; a turn dispatches exactly the fds
//     the kernel reports ready. Simple, and the safe default when a caller
//     never expects a callback to return "no progress" on a genuinely ready
//     fd (e.g. while debugging a new connector backend).
//
//   - Speculative: edge-triggered epoll plus a per-fd, per-direction 4-bit
//     state vector and a dense "speculative" side list. Before ever calling
//     epoll_wait, the engine walks every fd it is merely speculating about
//     and invokes its callback directly; only fds whose callback reports no
//     progress get promoted into the kernel's interest set. This removes an
//     epoll_ctl syscall from the common case of a callback that can keep
//     making progress across several turns without the kernel's help.
//
// Both back-ends satisfy the same Engine interface, so a listener or stream
// can be written against Engine without caring which one is active.
package engine
