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
	"fmt"

	"github.com/fatih/color"
	spfcbr "github.com/spf13/cobra"

	"github.com/relaycore/edge/config"
)

func newValidateConfigCommand() *spfcbr.Command {
	return &spfcbr.Command{
		Use:   "validate-config",
		Short: "Load and validate a configuration document without starting anything",
		RunE: func(cmd *spfcbr.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}

			doc, e := config.Load(configPath)
			if e != nil {
				color.New(color.FgRed, color.Bold).Fprintln(cmd.ErrOrStderr(), "invalid configuration:")
				fmt.Fprintln(cmd.ErrOrStderr(), e.Error())
				return e
			}

			color.New(color.FgGreen, color.Bold).Fprintln(cmd.OutOrStdout(), "configuration is valid")
			fmt.Fprintf(cmd.OutOrStdout(), "  %d backend(s), %d proxy(ies)\n", len(doc.Backends), len(doc.Proxies))
			return nil
		},
	}
}
