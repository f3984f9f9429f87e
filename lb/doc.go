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

// Package lb implements the two load-balancing algorithms a backend may
// select: weighted least-connections (Pool implementation LC) and weighted
// round-robin (Pool implementation WRR). Both keep their usable servers in
// one or two ordered-key trees (active, backup) built on
// github.com/google/btree, and both expose the same Pool hook set so a
// backend can be reconfigured between algorithms without the health
// checker or connector caring which one is active.
package lb

// WeightScale is the granularity divisor applied to a server's configured
// (user) weight to get its effective weight: eweight = uweight * WeightScale.
// 16 matches the reference proxy's BE_WEIGHT_SCALE, giving 1/16 weight
// granularity.
const WeightScale = 16

// WeightScaleMax bounds an effective weight. It must be large enough that
// served*WeightScaleMax never overflows a uint64 for any realistic
// connection count, and large enough relative to WeightScale that the WRR
// tie-break term never collides with a position step (see UWeightRange).
const WeightScaleMax = 1 << 24

// UWeightRange multiplies a WRR node's position to form the dominant term
// of its scheduling key; it must exceed the tie-break term's maximum value
// (bounded by WeightScaleMax/WeightScale) so position differences always
// win ordering over weight differences within the same position.
const UWeightRange = WeightScaleMax
