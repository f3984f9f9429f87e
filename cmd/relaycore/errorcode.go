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
	"sort"

	liberr "github.com/relaycore/edge/errors"
	spfcbr "github.com/spf13/cobra"
)

// newErrorCodeCommand lists every registered error code and the package
// path that owns its range, so an operator staring at a logged code can
// look up which component raised it without grepping the source.
func newErrorCodeCommand() *spfcbr.Command {
	return &spfcbr.Command{
		Use:   "error-codes",
		Short: "Print every registered error code with its owning package",
		Run: func(cmd *spfcbr.Command, args []string) {
			lst := liberr.GetCodePackages("github.com/relaycore/edge")

			keys := make([]int, 0, len(lst))
			for c := range lst {
				keys = append(keys, c.Int())
			}
			sort.Ints(keys)

			for _, k := range keys {
				c := liberr.NewCodeError(uint16(k))
				fmt.Printf("%5d  %-40s  %s\n", k, lst[c], c.GetMessage())
			}
		},
	}
}
