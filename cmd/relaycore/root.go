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

package main

import (
	spfcbr "github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

// configPath is bound to the persistent --config flag every subcommand
// that touches a configuration document reads from.
var configPath string

func newRootCommand() *spfcbr.Command {
	root := &spfcbr.Command{
		Use:   "relaycore",
		Short: "TCP/HTTP reverse proxy and load balancer",
		Long: "relaycore binds one or more frontends to backend server pools, " +
			"load-balancing connections across them with a speculative " +
			"readiness engine, weighted least-connections or weighted " +
			"round-robin scheduling, and active health checking.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration document")

	root.AddCommand(newServeCommand())
	root.AddCommand(newValidateConfigCommand())
	root.AddCommand(newVersionCommand())
	root.AddCommand(newErrorCodeCommand())

	return root
}
