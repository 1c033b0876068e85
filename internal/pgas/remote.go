// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package pgas

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
)

// Net is a networked Allocator: every rank is a separate OS process,
// reachable at Addrs[rank]. Put/Get/IPut/IGet/PutScalarI64/GetScalarI64
// are served by dialing the destination rank directly and issuing an
// RPC-style request against its arena (an emulation of one-sided
// remote memory access, since this package targets commodity TCP
// rather than RDMA/NVSHMEM hardware offload). Collectives are routed
// through rank 0 as a star, the same topology the distributed exclusive
// scan already imposes in section 4.5, rather than introducing a
// second topology purely for the allocator's own bookkeeping.
//
// Connection setup is adapted from the teacher's tenant/tnproto.Remote
// (dial, timeout, persistent net.Conn) generalized from a one-shot
// query-execution RPC to a long-lived per-peer memory-server
// connection.
type Net struct {
	rank   int
	addrs  []string // addrs[r] is rank r's listen address
	key    ClusterKey
	dialTO time.Duration

	ln net.Listener

	dataMu sync.Mutex
	data   map[int]net.Conn // lazily dialed connections used to issue requests to peer r

	arenaMu sync.Mutex
	arenas  map[uint64][]byte // this rank's own storage, keyed by allocation id

	// rank 0 only: guards nextID, the global allocation-id counter handed
	// out by the ckAlloc collective.
	allocMu sync.Mutex
	nextID  uint64

	// rank 0 only
	coord *rendezvous
	// rank != 0 only: persistent connection used for collective calls
	collConn net.Conn
}

// NetConfig is the collectively-agreed configuration every rank is
// launched with (by internal/fleet, from a static peer manifest or DNS
// discovery -- see SPEC_FULL.md section 6.1).
type NetConfig struct {
	Rank        int
	Addrs       []string // listen address for every rank, indexed by rank
	Key         ClusterKey
	DialTimeout time.Duration
}

// Dial brings up this rank's Net allocator: starts its listener,
// connects to rank 0 for collectives (unless this is rank 0), and
// returns once every rank is reachable is deferred to the first
// BarrierAll call rather than performed eagerly here, so that a slow
// peer delays the first collective rather than Dial itself.
func Dial(cfg NetConfig) (*Net, error) {
	if cfg.Rank < 0 || cfg.Rank >= len(cfg.Addrs) {
		return nil, fmt.Errorf("pgas: rank %d out of range [0,%d)", cfg.Rank, len(cfg.Addrs))
	}
	n := &Net{
		rank:   cfg.Rank,
		addrs:  cfg.Addrs,
		key:    cfg.Key,
		dialTO: cfg.DialTimeout,
		data:   make(map[int]net.Conn),
		arenas: make(map[uint64][]byte),
	}
	ln, err := net.Listen("tcp", cfg.Addrs[cfg.Rank])
	if err != nil {
		return nil, fmt.Errorf("pgas: listening on %s: %w", cfg.Addrs[cfg.Rank], err)
	}
	n.ln = ln
	go n.acceptLoop()

	if cfg.Rank == 0 {
		n.coord = newRendezvous(len(cfg.Addrs))
	} else {
		conn, err := n.dial(0)
		if err != nil {
			return nil, fmt.Errorf("pgas: connecting to rank 0: %w", err)
		}
		if _, err := conn.Write([]byte{'C'}); err != nil {
			return nil, err
		}
		var rankBuf [4]byte
		binary.BigEndian.PutUint32(rankBuf[:], uint32(cfg.Rank))
		if _, err := conn.Write(rankBuf[:]); err != nil {
			return nil, err
		}
		n.collConn = conn
	}
	return n, nil
}

func (n *Net) Close() error {
	if n.collConn != nil {
		n.collConn.Close()
	}
	n.dataMu.Lock()
	for _, c := range n.data {
		c.Close()
	}
	n.dataMu.Unlock()
	return n.ln.Close()
}

func (n *Net) dial(rank int) (net.Conn, error) {
	var conn net.Conn
	var err error
	if n.dialTO != 0 {
		conn, err = net.DialTimeout("tcp", n.addrs[rank], n.dialTO)
	} else {
		conn, err = net.Dial("tcp", n.addrs[rank])
	}
	if err != nil {
		return nil, err
	}
	if err := clientHandshake(conn, n.key); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// dataConn returns the persistent connection used to issue
// Put/Get/IPut/IGet/scalar requests to rank, dialing lazily on first
// use.
func (n *Net) dataConn(rank int) (net.Conn, error) {
	n.dataMu.Lock()
	defer n.dataMu.Unlock()
	if c, ok := n.data[rank]; ok {
		return c, nil
	}
	conn, err := n.dial(rank)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write([]byte{'D'}); err != nil {
		conn.Close()
		return nil, err
	}
	n.data[rank] = conn
	return conn, nil
}

func (n *Net) MyRank() int { return n.rank }
func (n *Net) NRanks() int { return len(n.addrs) }
