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

// Package pgas implements the symmetric-memory allocator abstraction that
// the rest of fleetsort is built on: every rank collectively allocates the
// same number of bytes at the same logical address, and any rank may
// read or write any other rank's region by (rank, local offset).
//
// Two implementations are provided. Local runs every rank as a goroutine
// sharing mmap-backed arenas in a single process; Net runs every rank as
// a separate OS process and serves remote-memory operations over TCP.
// Both satisfy the Allocator interface, so everything above this package
// (distarray, conveyor, histogram, scan, shuffle, radixsort) is written
// once against the interface.
package pgas

import "fmt"

// SymPtr is a handle to a symmetric allocation: every rank has made the
// same collective Alloc call, so SymPtr only needs to carry the size and
// an allocation-local identifier, not a concrete address.
type SymPtr struct {
	id   uint64
	size int64
}

// Size returns the number of bytes allocated per rank for this SymPtr.
func (p SymPtr) Size() int64 { return p.size }

func (p SymPtr) String() string {
	return fmt.Sprintf("sym(%d,%d)", p.id, p.size)
}

// Allocator is the symmetric-memory contract described in spec section 4.1.
// Alloc, Free, BarrierAll, FCollect, ReduceAndI8 and ReduceSumI64 are
// collective: all ranks must call them, in the same order, before any
// rank's call returns. MyRank, NRanks, and the Put/Get family
// (including the strided and scalar variants) are one-sided and return
// without involving any other rank's caller.
type Allocator interface {
	// MyRank returns this process's rank in [0, NRanks()).
	MyRank() int
	// NRanks returns the fleet size.
	NRanks() int

	// Alloc collectively allocates nbytes of symmetric storage on every
	// rank and returns a handle usable by every rank.
	Alloc(nbytes int64) (SymPtr, error)
	// Free collectively releases a prior Alloc.
	Free(p SymPtr)

	// BarrierAll blocks until every rank has entered the barrier. All
	// Put/IPut operations issued by any rank before its call to
	// BarrierAll are visible to Get/IGet on every rank after the
	// barrier returns.
	BarrierAll()

	// Put blocking-writes src into rank's region of p at local byte
	// offset dstOff.
	Put(p SymPtr, dstOff int64, src []byte, rank int) error
	// Get blocking-reads len(dst) bytes from rank's region of p at
	// local byte offset srcOff into dst.
	Get(p SymPtr, srcOff int64, dst []byte, rank int) error

	// IPut issues a strided write of nElts elements of eltSize bytes
	// from src (source stride srcStride elements) to rank's region of
	// p (destination stride dstStride elements), starting at dstOff.
	IPut(p SymPtr, dstOff int64, dstStride int, src []byte, srcStride int, nElts int, eltSize int, rank int) error
	// IGet is the strided read counterpart of IPut.
	IGet(p SymPtr, srcOff int64, srcStride int, dst []byte, dstStride int, nElts int, eltSize int, rank int) error

	// PutScalarI64 writes a single int64 to rank's region of p at byte
	// offset off ("p" in spec terminology).
	PutScalarI64(p SymPtr, off int64, value int64, rank int) error
	// GetScalarI64 reads a single int64 back.
	GetScalarI64(p SymPtr, off int64, rank int) (int64, error)

	// FCollect has every rank contribute src; the result, identical on
	// every rank, is the concatenation of every rank's contribution in
	// rank order.
	FCollect(src []byte) ([]byte, error)

	// ReduceAndI8 performs a fleet-wide logical AND of every rank's
	// input, returning the identical result on every rank.
	ReduceAndI8(value bool) (bool, error)
	// ReduceSumI64 performs a fleet-wide sum, returning the identical
	// result on every rank.
	ReduceSumI64(value int64) (int64, error)
}
