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

// Package distarray implements the Distributed Array: a symmetric
// buffer of C elements per rank (C the block-partition capacity)
// addressed either by local index or by a global index that maps to
// exactly one (rank, local) pair.
package distarray

import (
	"fmt"

	"github.com/fleetsort/fleetsort/internal/pgas"
)

// Array is a distributed array of N elements of type T, spread across
// NRanks() ranks with block partitioning: rank r owns global indices
// [r*Cap(), min((r+1)*Cap(), N)). T must be fixed-size POD since the
// underlying storage is raw bytes moved by pgas.Allocator.
type Array[T pgas.POD] struct {
	alloc  pgas.Allocator
	name   string
	n      int64
	cap    int64
	ptr    pgas.SymPtr
	decode func([]byte) T
	local  []T // decoded staging buffer for pgas.Net; a direct alias over the arena for pgas.Local is not exposed by Allocator, so both transports populate this the same way
}

// Create collectively allocates a distributed array of n elements.
// Every rank must call Create with the same n, in the same relative
// order as every other collective call on alloc (spec section 5).
// decode reconstructs one T from its Size()-byte encoding, the
// counterpart to T.Encode.
func Create[T pgas.POD](alloc pgas.Allocator, name string, n int64, decode func([]byte) T) (*Array[T], error) {
	if n < 0 {
		return nil, fmt.Errorf("distarray: negative length %d for %q", n, name)
	}
	p := alloc.NRanks()
	c := ceilDiv(n, int64(p))
	var zero T
	elemSize := zero.Size()
	ptr, err := alloc.Alloc(c * int64(elemSize))
	if err != nil {
		return nil, fmt.Errorf("distarray: allocating %q: %w", name, err)
	}
	alloc.BarrierAll()
	a := &Array[T]{
		alloc:  alloc,
		name:   name,
		n:      n,
		cap:    c,
		ptr:    ptr,
		decode: decode,
		local:  make([]T, c),
	}
	if err := a.fetchLocal(); err != nil {
		return nil, err
	}
	return a, nil
}

func ceilDiv(n, p int64) int64 {
	if p == 0 {
		return 0
	}
	return (n + p - 1) / p
}

// Destroy collectively releases the array's symmetric storage.
func (a *Array[T]) Destroy() {
	a.alloc.Free(a.ptr)
}

// N returns the array's total element count, identical on every rank.
func (a *Array[T]) N() int64 { return a.n }

// Cap returns the per-rank capacity C, identical on every rank.
func (a *Array[T]) Cap() int64 { return a.cap }

// Rank returns this process's rank.
func (a *Array[T]) Rank() int { return a.alloc.MyRank() }

// NRanks returns the fleet size.
func (a *Array[T]) NRanks() int { return a.alloc.NRanks() }

// Len returns H, the number of valid elements this rank actually
// holds: Cap() for the leading ranks; the rank whose block reaches N
// may hold fewer, and any ranks after it hold zero (e.g. N=5, P=4
// gives 2, 2, 1, 0).
func (a *Array[T]) Len() int64 {
	start := int64(a.Rank()) * a.cap
	if start >= a.n {
		return 0
	}
	end := start + a.cap
	if end > a.n {
		end = a.n
	}
	return end - start
}

// Global maps this rank's local index l to a global index.
func (a *Array[T]) Global(l int) int64 {
	return int64(a.Rank())*a.cap + int64(l)
}

// Owner maps a global index to the (rank, local index) pair that
// holds it under the block partition.
func (a *Array[T]) Owner(g int64) (rank int, local int) {
	return int(g / a.cap), int(g % a.cap)
}

// Ptr returns the underlying symmetric handle, for callers (conveyor,
// histogram, scan, shuffle) that issue raw Put/Get/IPut/IGet against
// the array's storage directly instead of through Local/fetchLocal.
func (a *Array[T]) Ptr() pgas.SymPtr { return a.ptr }

func (a *Array[T]) elemSize() int {
	var zero T
	return zero.Size()
}

// fetchLocal loads this rank's own region into the decoded staging
// buffer returned by Local. Called once at Create time; callers that
// mutate Local() and need the write visible to remote Get/IGet calls
// must flush it back with Flush, and callers that expect to observe
// another rank's remote writes must call Refresh after a BarrierAll.
func (a *Array[T]) fetchLocal() error {
	sz := a.elemSize()
	buf := make([]byte, int(a.cap)*sz)
	if err := a.alloc.Get(a.ptr, 0, buf, a.Rank()); err != nil {
		return err
	}
	for i := range a.local {
		a.local[i] = a.decode(buf[i*sz : (i+1)*sz])
	}
	return nil
}

// Local returns this rank's local slice of length Cap(), indices
// [0,Len()) valid and the remainder (if any) undefined per spec
// section 4.2. Mutations are only visible to other ranks' Get/IGet
// after a call to Flush.
func (a *Array[T]) Local() []T { return a.local }

// Flush writes the current contents of Local() back to this rank's
// own symmetric region, making them visible to Get/IGet issued by any
// rank after the next BarrierAll.
func (a *Array[T]) Flush() error {
	sz := a.elemSize()
	buf := make([]byte, int(a.cap)*sz)
	for i := range a.local {
		a.local[i].Encode(buf[i*sz : (i+1)*sz])
	}
	return a.alloc.Put(a.ptr, 0, buf, a.Rank())
}

// Refresh reloads Local() from this rank's own symmetric region,
// observing whatever is there now: this rank's last Flush and any
// remote Put/IPut that landed since (visible after a BarrierAll).
func (a *Array[T]) Refresh() error { return a.fetchLocal() }
