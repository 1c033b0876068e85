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
)

// ckind tags the shape of a collective's contribution/result payload.
// Every rank issues collectives in the same order (spec section 5), so
// the coordinator on rank 0 never needs to match calls by anything
// other than arrival order, but the kind byte lets it decode the
// contribution generically instead of one handler per RPC method.
type ckind byte

const (
	ckAlloc ckind = iota + 1
	ckFree
	ckBarrier
	ckFCollect
	ckReduceAnd
	ckReduceSum
)

// serveCollective is rank 0's per-peer reader: it decodes one
// collective-enter frame at a time from this connection (a given rank
// is single-threaded, so at most one is ever in flight) and feeds it
// into the shared coordinator rendezvous.
func (n *Net) serveCollective(conn net.Conn, rank int) {
	defer conn.Close()
	for {
		f, err := readFrame(conn)
		if err != nil {
			return
		}
		if f.op != opCollectEnter || len(f.payload) == 0 {
			return
		}
		kind := ckind(f.payload[0])
		contribution := decodeContribution(kind, f.payload[1:])
		res, err := n.coord.enter(rank, contribution, n.computeFor(kind))
		if err != nil {
			return
		}
		reply := frame{op: opCollectResult, payload: encodeResult(kind, res)}
		if err := writeFrame(conn, reply); err != nil {
			return
		}
	}
}

func decodeContribution(kind ckind, b []byte) any {
	switch kind {
	case ckAlloc:
		return int64(binary.BigEndian.Uint64(b))
	case ckFree:
		return binary.BigEndian.Uint64(b)
	case ckBarrier:
		return nil
	case ckFCollect:
		out := make([]byte, len(b))
		copy(out, b)
		return out
	case ckReduceAnd:
		return b[0] != 0
	case ckReduceSum:
		return int64(binary.BigEndian.Uint64(b))
	}
	return nil
}

func encodeResult(kind ckind, res any) []byte {
	switch kind {
	case ckAlloc:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], res.(uint64))
		return buf[:]
	case ckFree, ckBarrier:
		return nil
	case ckFCollect:
		return res.([]byte)
	case ckReduceAnd:
		if res.(bool) {
			return []byte{1}
		}
		return []byte{0}
	case ckReduceSum:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(res.(int64)))
		return buf[:]
	}
	return nil
}

// computeFor returns the rank-0 coordinator's compute function for one
// collective kind, shared by both the in-process caller (rank 0
// itself) and every network-fed caller (serveCollective above). It is
// only ever invoked by whichever caller is last to arrive for the
// current sequence number, so it is safe to treat inbox[i] as every
// rank's contribution for this call. The kind is captured by closure
// rather than stored on *Net so that two collective calls in flight
// for adjacent sequence numbers can never be confused about which
// kind's semantics to apply.
func (n *Net) computeFor(kind ckind) func(inbox []any) (any, error) {
	return func(inbox []any) (any, error) {
		switch kind {
		case ckAlloc:
			n.allocMu.Lock()
			n.nextID++
			id := n.nextID
			n.allocMu.Unlock()
			return id, nil
		case ckFree, ckBarrier:
			return nil, nil
		case ckFCollect:
			var out []byte
			for _, v := range inbox {
				out = append(out, v.([]byte)...)
			}
			return out, nil
		case ckReduceAnd:
			out := true
			for _, v := range inbox {
				out = out && v.(bool)
			}
			return out, nil
		case ckReduceSum:
			var sum int64
			for _, v := range inbox {
				sum += v.(int64)
			}
			return sum, nil
		default:
			return nil, fmt.Errorf("pgas: unset collective kind")
		}
	}
}

// runCollective drives one collective call for this rank: rank 0 calls
// the coordinator directly; every other rank round-trips the call over
// its dedicated connection to rank 0's serveCollective goroutine.
func (n *Net) runCollective(kind ckind, contribution any) (any, error) {
	if n.rank == 0 {
		return n.coord.enter(0, contribution, n.computeFor(kind))
	}
	payload := append([]byte{byte(kind)}, encodeContributionWire(kind, contribution)...)
	if err := writeFrame(n.collConn, frame{op: opCollectEnter, payload: payload}); err != nil {
		return nil, err
	}
	reply, err := readFrame(n.collConn)
	if err != nil {
		return nil, err
	}
	if reply.op != opCollectResult {
		return nil, fmt.Errorf("pgas: unexpected reply opcode %d", reply.op)
	}
	return decodeResultWire(kind, reply.payload), nil
}

func encodeContributionWire(kind ckind, v any) []byte {
	switch kind {
	case ckAlloc:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.(int64)))
		return buf[:]
	case ckFree:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], v.(uint64))
		return buf[:]
	case ckBarrier:
		return nil
	case ckFCollect:
		return v.([]byte)
	case ckReduceAnd:
		if v.(bool) {
			return []byte{1}
		}
		return []byte{0}
	case ckReduceSum:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.(int64)))
		return buf[:]
	}
	return nil
}

func decodeResultWire(kind ckind, b []byte) any {
	switch kind {
	case ckAlloc:
		return binary.BigEndian.Uint64(b)
	case ckFree, ckBarrier:
		return nil
	case ckFCollect:
		return b
	case ckReduceAnd:
		return len(b) > 0 && b[0] != 0
	case ckReduceSum:
		return int64(binary.BigEndian.Uint64(b))
	}
	return nil
}
