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
)

// Alloc agrees on a fleet-wide allocation id via the ckAlloc collective,
// then creates this rank's own local arena of nbytes. Every other rank
// does the same under the same id, so Put/Get addressed to (id, rank)
// always lands in that rank's own arena regardless of which process
// issues the request.
func (n *Net) Alloc(nbytes int64) (SymPtr, error) {
	res, err := n.runCollective(ckAlloc, nbytes)
	if err != nil {
		return SymPtr{}, err
	}
	id := res.(uint64)
	buf, err := newArena(nbytes)
	if err != nil {
		return SymPtr{}, err
	}
	n.arenaMu.Lock()
	n.arenas[id] = buf
	n.arenaMu.Unlock()
	return SymPtr{id: id, size: nbytes}, nil
}

// Free collectively releases a prior Alloc; each rank frees its own
// local arena after every rank has reached the ckFree collective.
func (n *Net) Free(p SymPtr) {
	n.runCollective(ckFree, p.id)
	n.arenaMu.Lock()
	buf, ok := n.arenas[p.id]
	if ok {
		delete(n.arenas, p.id)
	}
	n.arenaMu.Unlock()
	if ok {
		freeArena(buf)
	}
}

func (n *Net) BarrierAll() {
	n.runCollective(ckBarrier, nil)
}

// remoteRequest sends a request frame to rank's data connection and
// returns its reply frame. Local loopback (rank == n.rank) still goes
// through the same connection-based path as a remote rank would, since
// dataConn dials n.addrs[n.rank] like any other address; this keeps
// Put/Get uniform regardless of which rank owns the target arena.
func (n *Net) remoteRequest(rank int, f frame) (frame, error) {
	conn, err := n.dataConn(rank)
	if err != nil {
		return frame{}, err
	}
	if err := writeFrame(conn, f); err != nil {
		return frame{}, err
	}
	return readFrame(conn)
}

func (n *Net) Put(p SymPtr, dstOff int64, src []byte, rank int) error {
	payload := make([]byte, 16+len(src))
	binary.BigEndian.PutUint64(payload[0:8], p.id)
	binary.BigEndian.PutUint64(payload[8:16], uint64(dstOff))
	copy(payload[16:], src)
	reply, err := n.remoteRequest(rank, frame{op: opPut, payload: payload})
	if err != nil {
		return err
	}
	return statusErr(reply, "Put")
}

func (n *Net) Get(p SymPtr, srcOff int64, dst []byte, rank int) error {
	var payload [20]byte
	binary.BigEndian.PutUint64(payload[0:8], p.id)
	binary.BigEndian.PutUint64(payload[8:16], uint64(srcOff))
	binary.BigEndian.PutUint32(payload[16:20], uint32(len(dst)))
	reply, err := n.remoteRequest(rank, frame{op: opGet, payload: payload[:]})
	if err != nil {
		return err
	}
	if len(reply.payload) == 0 || reply.payload[0] != ok8 {
		return fmt.Errorf("pgas: Get failed for rank %d", rank)
	}
	copy(dst, reply.payload[1:])
	return nil
}

func (n *Net) IPut(p SymPtr, dstOff int64, dstStride int, src []byte, srcStride int, nElts int, eltSize int, rank int) error {
	// The wire format only carries the destination stride, so the
	// source must already be packed (srcStride==1); any other source
	// stride is rejected rather than flattened. fleetsort never calls
	// IPut with a strided source.
	if srcStride != 1 {
		return fmt.Errorf("pgas: Net.IPut requires srcStride==1, got %d", srcStride)
	}
	packed := compressControl(src[:nElts*eltSize])
	payload := make([]byte, 25+len(packed))
	binary.BigEndian.PutUint64(payload[0:8], p.id)
	binary.BigEndian.PutUint64(payload[8:16], uint64(dstOff))
	binary.BigEndian.PutUint32(payload[16:20], uint32(dstStride))
	binary.BigEndian.PutUint32(payload[20:24], uint32(eltSize))
	payload[24] = 1
	copy(payload[25:], packed)
	reply, err := n.remoteRequest(rank, frame{op: opIPut, payload: payload})
	if err != nil {
		return err
	}
	return statusErr(reply, "IPut")
}

func (n *Net) IGet(p SymPtr, srcOff int64, srcStride int, dst []byte, dstStride int, nElts int, eltSize int, rank int) error {
	if dstStride != 1 {
		return fmt.Errorf("pgas: Net.IGet requires dstStride==1, got %d", dstStride)
	}
	var payload [28]byte
	binary.BigEndian.PutUint64(payload[0:8], p.id)
	binary.BigEndian.PutUint64(payload[8:16], uint64(srcOff))
	binary.BigEndian.PutUint32(payload[16:20], uint32(srcStride))
	binary.BigEndian.PutUint32(payload[20:24], uint32(nElts))
	binary.BigEndian.PutUint32(payload[24:28], uint32(eltSize))
	reply, err := n.remoteRequest(rank, frame{op: opIGet, payload: payload[:]})
	if err != nil {
		return err
	}
	out := reply.payload
	if reply.compressed {
		out, err = decompressControl(out)
		if err != nil {
			return err
		}
	}
	if len(out) != nElts*eltSize {
		return fmt.Errorf("pgas: IGet short reply from rank %d: got %d want %d", rank, len(out), nElts*eltSize)
	}
	copy(dst[:nElts*eltSize], out)
	return nil
}

func (n *Net) PutScalarI64(p SymPtr, off int64, value int64, rank int) error {
	var payload [24]byte
	binary.BigEndian.PutUint64(payload[0:8], p.id)
	binary.BigEndian.PutUint64(payload[8:16], uint64(off))
	binary.BigEndian.PutUint64(payload[16:24], uint64(value))
	reply, err := n.remoteRequest(rank, frame{op: opPutScalar, payload: payload[:]})
	if err != nil {
		return err
	}
	return statusErr(reply, "PutScalarI64")
}

func (n *Net) GetScalarI64(p SymPtr, off int64, rank int) (int64, error) {
	var payload [16]byte
	binary.BigEndian.PutUint64(payload[0:8], p.id)
	binary.BigEndian.PutUint64(payload[8:16], uint64(off))
	reply, err := n.remoteRequest(rank, frame{op: opGetScalar, payload: payload[:]})
	if err != nil {
		return 0, err
	}
	if len(reply.payload) != 9 || reply.payload[0] != ok8 {
		return 0, fmt.Errorf("pgas: GetScalarI64 failed for rank %d", rank)
	}
	return int64(binary.BigEndian.Uint64(reply.payload[1:])), nil
}

func (n *Net) FCollect(src []byte) ([]byte, error) {
	res, err := n.runCollective(ckFCollect, src)
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func (n *Net) ReduceAndI8(value bool) (bool, error) {
	res, err := n.runCollective(ckReduceAnd, value)
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (n *Net) ReduceSumI64(value int64) (int64, error) {
	res, err := n.runCollective(ckReduceSum, value)
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

func statusErr(f frame, op string) error {
	if len(f.payload) == 0 || f.payload[0] != ok8 {
		return fmt.Errorf("pgas: %s failed", op)
	}
	return nil
}
