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

package connector

import "github.com/relaycore/edge/errors"

const (
	ErrorResource errors.CodeError = iota + errors.MinPkgConnector
	ErrorConfigLimit
	ErrorServerTimeout
	ErrorServerClosed
	ErrorInternal
)

func init() {
	errors.RegisterIdFctMessage(ErrorResource, getMessage)
}

func getMessage(code errors.CodeError) string {
	switch code {
	case errors.UnknownError:
		return ""
	case ErrorResource:
		return "a resource limit (socket, port range, or bind) prevented the outbound connect"
	case ErrorConfigLimit:
		return "the new socket's fd exceeds the configured maximum socket count"
	case ErrorServerTimeout:
		return "outbound connect timed out"
	case ErrorServerClosed:
		return "outbound connect was refused or otherwise rejected"
	case ErrorInternal:
		return "connector received a stream interface with no usable target"
	}

	return ""
}
