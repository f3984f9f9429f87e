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

import "github.com/relaycore/edge/errors"

const (
	ErrorReadFailed errors.CodeError = iota + errors.MinPkgEdgeConfig
	ErrorUnmarshal
	ErrorValidate
	ErrorUnknownAlgorithm
	ErrorUnknownBackend
	ErrorUnknownEngineKind
)

func init() {
	errors.RegisterIdFctMessage(ErrorReadFailed, getMessage)
}

func getMessage(code errors.CodeError) string {
	switch code {
	case errors.UnknownError:
		return ""
	case ErrorReadFailed:
		return "could not read the configuration document"
	case ErrorUnmarshal:
		return "could not bind the configuration document into the data model"
	case ErrorValidate:
		return "configuration document failed validation"
	case ErrorUnknownAlgorithm:
		return "backend names an algorithm that is not leastconn or roundrobin"
	case ErrorUnknownBackend:
		return "proxy names a backend that is not declared"
	case ErrorUnknownEngineKind:
		return "engine kind must be level or speculative"
	}

	return ""
}
