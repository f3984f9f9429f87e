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

// runningOffset keeps a node's tree key (offset-running) comfortably
// positive: running is bounded by a handful of full weight cycles, far
// below this constant, for any realistic backend size.
const runningOffset = int64(1) << 40

// rrNode is a server's entry in one of a group's trees. tree remembers
// which of t0/t1/curr the node physically lives in so Remove can find it
// without guessing which alias currently means "init". running is the
// server's accumulated scheduling credit: on every selection tick every
// in-rotation server's running weight grows by its effective weight, and
// the server with the highest running weight is handed out and debited by
// the group's total weight — classic smooth weighted round robin, with
// the tree giving O(log n) access to whichever server currently has the
// highest running weight.
type rrNode struct {
	key     uint64
	seq     uint64
	srv     *Server
	tree    *btree.BTreeG[*rrNode]
	running int64
}

func rrLess(a, b *rrNode) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	return a.seq < b.seq
}

func (n *rrNode) rekey() {
	running := runningOffset - n.running
	if running < 0 {
		// The original's tie-break term mixes signed/unsigned arithmetic;
		// this port keeps the key signed until here so this can assert
		// the result is never negative instead of silently wrapping.
		panic("lb: wrr key underflow — running weight exceeded runningOffset")
	}
	n.key = uint64(running)
}

// rrGroup is one of WRR's two groups (active, backup). curr holds servers
// already taking part in the rotation; init holds servers freshly added or
// just brought back up, not yet carrying any scheduling credit. next
// exists per the data model §4.5 describes but is otherwise unused in this
// port: a server never leaves curr once scheduled, so nothing is produced
// for it to hold.
type rrGroup struct {
	t0, t1, curr *btree.BTreeG[*rrNode]
	init, next   *btree.BTreeG[*rrNode]

	totalWeight int64
	order       []*Server // insertion order, used to pick fbck deterministically
	count       int
}

func newRRGroup() *rrGroup {
	g := &rrGroup{
		t0:   btree.NewG[*rrNode](32, rrLess),
		t1:   btree.NewG[*rrNode](32, rrLess),
		curr: btree.NewG[*rrNode](32, rrLess),
	}
	g.init, g.next = g.t0, g.t1
	return g
}

// WRR implements Pool using weighted round robin over the group/tree
// structure described in package doc.
type WRR struct {
	mu          sync.Mutex
	activeGroup *rrGroup
	backupGroup *rrGroup
	fbck        *Server
	seq         uint64

	obs Observer
}

// NewWRR builds an empty weighted round-robin pool.
func NewWRR() *WRR {
	return &WRR{
		activeGroup: newRRGroup(),
		backupGroup: newRRGroup(),
	}
}

// SetObserver attaches o to receive this pool's scheduling events. It is
// not safe to call concurrently with any other Pool method.
func (p *WRR) SetObserver(o Observer) { p.obs = o }

func (p *WRR) notifyWeights() {
	if p.obs != nil {
		p.obs.OnWeightsChanged(p.activeGroup.totalWeight, p.backupGroup.totalWeight)
	}
}

func (p *WRR) groupFor(s *Server) *rrGroup {
	if s.Backup {
		return p.backupGroup
	}
	return p.activeGroup
}

// enqueueInit adds a not-yet-scheduled server into its group's init tree.
// Caller holds p.mu.
func (p *WRR) enqueueInit(g *rrGroup, s *Server) {
	p.seq++
	n := &rrNode{seq: p.seq, srv: s, tree: g.init}
	n.rekey()
	s.node = n
	g.init.ReplaceOrInsert(n)
	g.totalWeight += int64(s.EWeight)
	g.count++
	g.order = append(g.order, s)
	if s.Backup {
		p.refreshFbck()
	}
	p.notifyWeights()
}

// remove pulls s out of whichever tree currently holds it. Caller holds
// p.mu.
func (p *WRR) remove(s *Server) {
	n, ok := s.node.(*rrNode)
	if !ok || n == nil {
		return
	}
	g := p.groupFor(s)
	n.tree.Delete(n)
	s.node = nil
	g.totalWeight -= int64(s.EWeight)
	g.count--
	for i, o := range g.order {
		if o == s {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	if s.Backup {
		p.refreshFbck()
	}
	p.notifyWeights()
}

func (p *WRR) refreshFbck() {
	p.fbck = nil
	for _, s := range p.backupGroup.order {
		if s.IsUp() {
			p.fbck = s
			return
		}
	}
}

func (p *WRR) Add(s *Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.IsUp() && s.EWeight > 0 {
		p.enqueueInit(p.groupFor(s), s)
	}
}

func (p *WRR) Remove(s *Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remove(s)
}

func (p *WRR) StatusUp(s *Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.up.CompareAndSwap(false, true) && s.EWeight > 0 {
		p.enqueueInit(p.groupFor(s), s)
	}
	if p.obs != nil {
		p.obs.OnServerState(s.Name, true)
	}
}

func (p *WRR) StatusDown(s *Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.up.CompareAndSwap(true, false) {
		p.remove(s)
	}
	if p.obs != nil {
		p.obs.OnServerState(s.Name, false)
	}
}

func (p *WRR) EWeightChanged(s *Server) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wasUsable := s.node != nil
	nowUsable := s.IsUp() && s.EWeight > 0

	switch {
	case wasUsable && !nowUsable:
		p.remove(s)
	case !wasUsable && nowUsable:
		p.enqueueInit(p.groupFor(s), s)
	case wasUsable && nowUsable:
		p.remove(s)
		p.enqueueInit(p.groupFor(s), s)
	}
}

// WRR's rotation doesn't key off live connection count, so take/drop only
// maintain the counters; scheduling credit moves only during selection.
func (p *WRR) TakeConnection(s *Server) {
	s.cur.Add(1)
	s.total.Add(1)
	if p.obs != nil {
		p.obs.OnServerLoad(s.Name, s.cur.Load())
	}
}

func (p *WRR) DropConnection(s *Server) {
	if s.cur.Add(-1) < 0 {
		s.cur.Store(0)
	}
	if p.obs != nil {
		p.obs.OnServerLoad(s.Name, s.cur.Load())
	}
}

func (p *WRR) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeGroup.count + p.backupGroup.count
}

func (p *WRR) NextServer(allowBackup bool, avoid *Server) (*Server, liberr.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var avoidCandidate *Server

	if p.activeGroup.count > 0 {
		s, ac := p.nextFromGroup(p.activeGroup, avoid)
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

	if p.backupGroup.count > 0 {
		s, ac := p.nextFromGroup(p.backupGroup, avoid)
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

func (p *WRR) observeSelection(outcome string) {
	if p.obs != nil {
		p.obs.OnSelection(outcome)
	}
}

// nextFromGroup runs one smooth-weighted-round-robin tick: every in-
// rotation server's running weight grows by its effective weight, and the
// highest standing server (skipping anyone at MaxConn or equal to avoid)
// is handed out and debited by the group's total weight. avoid is
// remembered (avoidCandidate) rather than picked outright, so the caller
// can fall back to it only once every other usable server in every group
// has been tried. Caller holds p.mu.
func (p *WRR) nextFromGroup(g *rrGroup, avoid *Server) (found, avoidCandidate *Server) {
	// Freshly added/revived servers join the rotation at zero credit.
	for {
		m, ok := g.init.Min()
		if !ok {
			break
		}
		g.init.Delete(m)
		m.tree = g.curr
		g.curr.ReplaceOrInsert(m)
	}

	if g.curr.Len() == 0 {
		return nil, nil
	}

	var nodes []*rrNode
	g.curr.Ascend(func(n *rrNode) bool {
		nodes = append(nodes, n)
		return true
	})
	for _, n := range nodes {
		g.curr.Delete(n)
	}

	var picked, avoidNode *rrNode
	for _, n := range nodes {
		n.running += int64(n.srv.EWeight)
		if atCapacity(n.srv) {
			continue
		}
		if n.srv == avoid {
			avoidNode = n
			continue
		}
		if picked == nil || n.running > picked.running {
			picked = n
		}
	}

	if picked != nil {
		// original source: "FIXME: server was down. This is not possible
		// right now" — curr only ever holds up servers, so a picked node
		// whose server is down means a status transition forgot to
		// dequeue it. Fail loudly rather than silently routing to it.
		if !picked.srv.IsUp() {
			panic("lb: wrr selected a down server from curr")
		}
		picked.running -= g.totalWeight
	}

	for _, n := range nodes {
		n.rekey()
		g.curr.ReplaceOrInsert(n)
	}

	if picked != nil {
		found = picked.srv
	}
	if avoidNode != nil {
		avoidCandidate = avoidNode.srv
	}
	return found, avoidCandidate
}
