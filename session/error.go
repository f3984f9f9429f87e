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

package session

import "github.com/relaycore/edge/errors"

const (
	ErrorClientTimeout errors.CodeError = iota + errors.MinPkgSession
	ErrorClientClosed
	ErrorServerTimeout
	ErrorServerClosed
	ErrorProxyCondition
	ErrorResource
	ErrorBackendDown
)

func init() {
	errors.RegisterIdFctMessage(ErrorClientTimeout, getMessage)
}

func getMessage(code errors.CodeError) string {
	switch code {
	case errors.UnknownError:
		return ""
	case ErrorClientTimeout:
		return "client side of the session timed out"
	case ErrorClientClosed:
		return "client closed the connection"
	case ErrorServerTimeout:
		return "server side of the session timed out"
	case ErrorServerClosed:
		return "server closed the connection"
	case ErrorProxyCondition:
		return "a proxy-level condition terminated the session"
	case ErrorResource:
		return "a resource limit prevented the session from proceeding"
	case ErrorBackendDown:
		return "no server in the assigned backend is usable"
	}

	return ""
}
