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
	"net"
	"sync/atomic"

	liberr "github.com/relaycore/edge/errors"
)

// Backup marks a server as only eligible once every non-backup server in
// the pool is down (unless the pool's AllBackup mode is set).
type Backup bool

// Server is one real endpoint a backend may forward a stream to. Its
// weight and connection counters are read and mutated by whichever Pool
// implementation currently owns it; callers outside this package should
// treat those fields as read-only and go through the owning Pool's hooks
// to change them.
type Server struct {
	Name string
	Addr *net.TCPAddr

	// Backup, when true, keeps the server out of rotation until the
	// active pool has no usable entries left.
	Backup Backup

	// MaxConn caps concurrent connections this server will accept; 0
	// means unbounded.
	MaxConn int

	// UWeight is the administrator-configured weight, in the same units
	// the reference proxy exposes over its runtime socket (0..256).
	// EWeight is derived as UWeight*WeightScale and is what the tree
	// keys are computed from.
	UWeight int
	EWeight int

	up    atomic.Bool
	cur   atomic.Int64 // current connections held open
	total atomic.Uint64

	// node ties this server back to whatever tree node currently
	// represents it, so Pool implementations can relocate it in O(log n)
	// without a reverse lookup.
	node any
}

// NewServer builds a Server in the up state with the given administrator
// weight already scaled to an effective weight.
func NewServer(name string, addr *net.TCPAddr, uweight int, backup Backup) *Server {
	s := &Server{
		Name:    name,
		Addr:    addr,
		Backup:  backup,
		UWeight: uweight,
		EWeight: uweight * WeightScale,
	}
	s.up.Store(true)
	return s
}

// IsUp reports the health-checker's last verdict for this server.
func (s *Server) IsUp() bool { return s.up.Load() }

// CurrentConns returns the number of connections presently assigned to
// this server.
func (s *Server) CurrentConns() int64 { return s.cur.Load() }

// TotalConns returns the lifetime count of connections ever assigned.
func (s *Server) TotalConns() uint64 { return s.total.Load() }

// Pool balances streams across a set of servers using one scheduling
// algorithm. Implementations are LC (weighted least-connections) and WRR
// (weighted round-robin); both are safe for concurrent use.
type Pool interface {
	// Add inserts a server into the pool's scheduling structures. It must
	// be called before the server is eligible for NextServer.
	Add(s *Server)

	// Remove takes a server out of rotation permanently (e.g. on
	// configuration reload removing it from the backend).
	Remove(s *Server)

	// StatusUp transitions a server from down to up, re-inserting it into
	// the scheduling tree.
	StatusUp(s *Server)

	// StatusDown transitions a server from up to down, pulling it out of
	// the scheduling tree so it is never returned by NextServer.
	StatusDown(s *Server)

	// EWeightChanged reinserts a server at a new key after its effective
	// weight was edited administratively (e.g. a runtime-socket "set
	// weight" command).
	EWeightChanged(s *Server)

	// TakeConnection accounts one new connection against s, repositioning
	// it in the tree if the algorithm's key depends on connection count.
	TakeConnection(s *Server)

	// DropConnection accounts the end of a connection against s.
	DropConnection(s *Server)

	// NextServer returns the server the algorithm selects for a new
	// stream, skipping any server at MaxConn. allowBackup lets a caller
	// fall back to the backup pool even when an active server is usable,
	// matching the reference proxy's "use-only-backup" directive. avoid
	// names a server the caller wants to steer clear of (typically one a
	// connect attempt just failed against on a retry); it is remembered
	// and returned only as a last resort, when every other usable server
	// has been exhausted, or when avoid is the only candidate at all.
	// Pass nil on a first selection.
	NextServer(allowBackup bool, avoid *Server) (*Server, liberr.Error)

	// Len reports how many servers (up, regardless of backup status) are
	// currently tracked by the pool.
	Len() int
}
