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

package lb

// Observer receives a pool's scheduling-tree mutations as they happen,
// so a metrics registry (or anything else) can track backend state
// without becoming a second source of truth: every call here is a side
// effect of an operation the Pool was going to perform anyway. A nil
// Observer (the default) costs nothing beyond the one nil check per
// call site.
type Observer interface {
	// OnSelection reports one NextServer outcome: "active", "backup",
	// or "none".
	OnSelection(outcome string)
	// OnWeightsChanged reports the pool's current tot_wact/tot_wbck
	// (sum of eweight over usable active/backup servers).
	OnWeightsChanged(wact, wbck int64)
	// OnServerLoad reports one server's current connection count after
	// a TakeConnection/DropConnection.
	OnServerLoad(server string, served int64)
	// OnServerState reports one server's up/down transition: 1 for up,
	// 0 for down.
	OnServerState(server string, up bool)
}
