/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
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

package runner

import (
	"fmt"
	"log"
)

// RecoveryCaller logs a panic recovered by the caller's own deferred
// recover() rather than letting it unwind further. name identifies the
// calling site (e.g. "pkg/subpkg/method"); r is the recovered value
// (nil means no panic occurred, in which case this is a no-op); args
// are appended as extra context (a file path, a connection id, ...).
//
// Every background goroutine the logging and aggregation packages spawn
// (hookfile, hooksyslog, ioutils/aggregator) defers this at its top so a
// single bad write or a closed writer can't take the whole process down.
func RecoveryCaller(name string, r interface{}, args ...interface{}) {
	if r == nil {
		return
	}
	if len(args) > 0 {
		log.Printf("recovered panic in %s: %v %v", name, r, args)
		return
	}
	log.Printf("recovered panic in %s: %v", name, r)
}

// Recovery is RecoveryCaller without a named call site, for callers that
// only have the recovered value at hand.
func Recovery(r interface{}) {
	RecoveryCaller(fmt.Sprintf("%T", r), r)
}
