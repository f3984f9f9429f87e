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

import (
	"sync"

	"github.com/google/btree"

	liberr "github.com/relaycore/edge/errors"
)

// lcNode is a server's entry in one of LC's two trees, keyed on
// served*WeightScaleMax/eweight (see package doc). seq breaks ties between
// servers that land on the same key so Less stays a strict order even
// though the key alone is not unique.
type lcNode struct {
	key uint64
	seq uint64
	srv *Server
}

func lcLess(a, b *lcNode) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	return a.seq < b.seq
}

// LC implements Pool using weighted least-connections: the server with the
// lowest load-per-unit-weight is always the leftmost node of its tree.
type LC struct {
	mu sync.Mutex

	active *btree.BTreeG[*lcNode]
	backup *btree.BTreeG[*lcNode]
	fbck   *Server
	seq    uint64

	srvActive int
	srvBackup int

	wAct int64
	wBck int64

	obs Observer
}

// NewLC builds an empty weighted least-connections pool.
func NewLC() *LC {
	return &LC{
		active: btree.NewG[*lcNode](32, lcLess),
		backup: btree.NewG[*lcNode](32, lcLess),
	}
}

// SetObserver attaches o to receive this pool's scheduling events. It is
// not safe to call concurrently with any other Pool method.
func (p *LC) SetObserver(o Observer) { p.obs = o }

func (p *LC) notifyWeights() {
	if p.obs != nil {
		p.obs.OnWeightsChanged(p.wAct, p.wBck)
	}
}

func (p *LC) treeFor(s *Server) *btree.BTreeG[*lcNode] {
	if s.Backup {
		return p.backup
	}
	return p.active
}

func lcKey(s *Server) uint64 {
	if s.EWeight <= 0 {
		return 0
	}
	return uint64(s.cur.Load()) * WeightScaleMax / uint64(s.EWeight)
}

// queue inserts s into its tree at its current key. Caller holds p.mu.
func (p *LC) queue(s *Server) {
	p.seq++
	n := &lcNode{key: lcKey(s), seq: p.seq, srv: s}
	s.node = n
	p.treeFor(s).ReplaceOrInsert(n)
	if s.Backup {
		p.srvBackup++
		p.wBck += int64(s.EWeight)
	} else {
		p.srvActive++
		p.wAct += int64(s.EWeight)
	}
	p.refreshFbck()
	p.notifyWeights()
}

// dequeue removes s from whichever tree currently holds it. Caller holds
// p.mu.
func (p *LC) dequeue(s *Server) {
	n, ok := s.node.(*lcNode)
	if !ok || n == nil {
		return
	}
	p.treeFor(s).Delete(n)
	s.node = nil
	if s.Backup {
		p.srvBackup--
		p.wBck -= int64(s.EWeight)
	} else {
		p.srvActive--
		p.wAct -= int64(s.EWeight)
	}
	p.refreshFbck()
	p.notifyWeights()
}

// refreshFbck recomputes the first-backup pointer by taking the backup
// tree's leftmost entry; the reference proxy walks the server list instead,
// but the tree's own ordering gives the same answer in O(log n). Caller
// holds p.mu.
func (p *LC) refreshFbck() {
	if p.srvBackup == 0 {
		p.fbck = nil
		return
	}
	if min, ok := p.backup.Min(); ok {
		p.fbck = min.srv
	}
}

func (p *LC) Add(s *Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.IsUp() && s.EWeight > 0 {
		p.queue(s)
	}
}

func (p *LC) Remove(s *Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dequeue(s)
}

func (p *LC) StatusUp(s *Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.up.CompareAndSwap(false, true) && s.EWeight > 0 {
		p.queue(s)
	}
	if p.obs != nil {
		p.obs.OnServerState(s.Name, true)
	}
}

func (p *LC) StatusDown(s *Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.up.CompareAndSwap(true, false) {
		p.dequeue(s)
	}
	if p.obs != nil {
		p.obs.OnServerState(s.Name, false)
	}
}

func (p *LC) EWeightChanged(s *Server) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wasUsable := s.node != nil
	nowUsable := s.IsUp() && s.EWeight > 0

	switch {
	case wasUsable && !nowUsable:
		p.dequeue(s)
	case !wasUsable && nowUsable:
		p.queue(s)
	case wasUsable && nowUsable:
		p.dequeue(s)
		p.queue(s)
	}
}

func (p *LC) TakeConnection(s *Server) {
	s.cur.Add(1)
	s.total.Add(1)
	p.reposition(s)
	if p.obs != nil {
		p.obs.OnServerLoad(s.Name, s.cur.Load())
	}
}

func (p *LC) DropConnection(s *Server) {
	if s.cur.Add(-1) < 0 {
		s.cur.Store(0)
	}
	p.reposition(s)
	if p.obs != nil {
		p.obs.OnServerLoad(s.Name, s.cur.Load())
	}
}

func (p *LC) reposition(s *Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.node == nil {
		return
	}
	p.dequeue(s)
	p.queue(s)
}

func (p *LC) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.srvActive + p.srvBackup
}

func (p *LC) NextServer(allowBackup bool, avoid *Server) (*Server, liberr.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var avoidCandidate *Server

	if p.srvActive > 0 {
		s, ac := p.leftmostUsable(p.active, avoid)
		if ac != nil {
			avoidCandidate = ac
		}
		if s != nil {
			p.observeSelection("active")
			return s, nil
		}
	}

	if !allowBackup {
		if avoidCandidate != nil {
			p.observeSelection("avoid")
			return avoidCandidate, nil
		}
		p.observeSelection("none")
		return nil, ErrorNoServerAvailable.Error(nil)
	}

	if p.fbck != nil && p.fbck.IsUp() && !atCapacity(p.fbck) {
		if p.fbck != avoid {
			p.observeSelection("backup")
			return p.fbck, nil
		}
		avoidCandidate = p.fbck
	}

	if p.srvBackup > 0 {
		s, ac := p.leftmostUsable(p.backup, avoid)
		if ac != nil {
			avoidCandidate = ac
		}
		if s != nil {
			p.observeSelection("backup")
			return s, nil
		}
	}

	if avoidCandidate != nil {
		p.observeSelection("avoid")
		return avoidCandidate, nil
	}

	p.observeSelection("none")
	return nil, ErrorNoServerAvailable.Error(nil)
}

func (p *LC) observeSelection(outcome string) {
	if p.obs != nil {
		p.obs.OnSelection(outcome)
	}
}

// leftmostUsable walks a tree from its leftmost (lowest-key) node, skipping
// any server already at its configured MaxConn. avoid is skipped too, but
// remembered as avoidCandidate so the caller can fall back to it once
// every other usable server has been tried. Caller holds p.mu.
func (p *LC) leftmostUsable(tree *btree.BTreeG[*lcNode], avoid *Server) (found, avoidCandidate *Server) {
	tree.Ascend(func(n *lcNode) bool {
		if atCapacity(n.srv) {
			return true
		}
		if n.srv == avoid {
			avoidCandidate = n.srv
			return true
		}
		found = n.srv
		return false
	})
	return found, avoidCandidate
}

func atCapacity(s *Server) bool {
	return s.MaxConn > 0 && s.cur.Load() >= int64(s.MaxConn)
}
