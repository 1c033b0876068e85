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
	"sync"
)

// Local is an in-process emulation of the symmetric allocator contract:
// every rank is a goroutine, and every rank's symmetric region is a
// distinct arena reachable by every other rank through the shared
// *Local value. This is the "non-distributed implementation... that can
// substitute the same contract" the design allows for testing, and it
// is also fleetsort's default runtime transport since it needs no
// external launcher.
type Local struct {
	nranks int
	rv     *rendezvous

	allocMu   sync.Mutex
	nextAlloc uint64
	arenas    map[uint64][][]byte
}

// NewLocal constructs a shared emulated fleet of the given size. Call
// Rank(r) once per logical rank to obtain that rank's Allocator handle;
// all P handles must be driven concurrently (typically one goroutine
// per rank) for collectives to make progress.
func NewLocal(nranks int) *Local {
	return &Local{
		nranks: nranks,
		rv:     newRendezvous(nranks),
		arenas: make(map[uint64][][]byte),
	}
}

// Rank returns the Allocator handle for logical rank r.
func (l *Local) Rank(r int) Allocator {
	if r < 0 || r >= l.nranks {
		panic(fmt.Sprintf("pgas.Local: rank %d out of range [0,%d)", r, l.nranks))
	}
	return &rankAllocator{l: l, rank: r}
}

func (l *Local) arena(p SymPtr, rank int) ([]byte, error) {
	l.allocMu.Lock()
	arenas, ok := l.arenas[p.id]
	l.allocMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("pgas: unknown symmetric allocation %v", p)
	}
	if rank < 0 || rank >= len(arenas) {
		return nil, fmt.Errorf("pgas: rank %d out of range [0,%d)", rank, len(arenas))
	}
	return arenas[rank], nil
}

type rankAllocator struct {
	l    *Local
	rank int
}

func (r *rankAllocator) MyRank() int { return r.rank }
func (r *rankAllocator) NRanks() int { return r.l.nranks }

func (r *rankAllocator) Alloc(nbytes int64) (SymPtr, error) {
	res, err := r.l.rv.enter(r.rank, nbytes, func(inbox []any) (any, error) {
		arenas := make([][]byte, r.l.nranks)
		for i := range arenas {
			buf, err := newArena(nbytes)
			if err != nil {
				return nil, err
			}
			arenas[i] = buf
		}
		r.l.allocMu.Lock()
		id := r.l.nextAlloc
		r.l.nextAlloc++
		r.l.arenas[id] = arenas
		r.l.allocMu.Unlock()
		return SymPtr{id: id, size: nbytes}, nil
	})
	if err != nil {
		return SymPtr{}, err
	}
	return res.(SymPtr), nil
}

func (r *rankAllocator) Free(p SymPtr) {
	r.l.rv.enter(r.rank, p, func(inbox []any) (any, error) {
		r.l.allocMu.Lock()
		arenas, ok := r.l.arenas[p.id]
		if ok {
			delete(r.l.arenas, p.id)
		}
		r.l.allocMu.Unlock()
		if ok {
			for _, buf := range arenas {
				freeArena(buf)
			}
		}
		return nil, nil
	})
}

func (r *rankAllocator) BarrierAll() {
	r.l.rv.enter(r.rank, nil, func(inbox []any) (any, error) { return nil, nil })
}

func (r *rankAllocator) Put(p SymPtr, dstOff int64, src []byte, rank int) error {
	arena, err := r.l.arena(p, rank)
	if err != nil {
		return err
	}
	if dstOff < 0 || dstOff+int64(len(src)) > int64(len(arena)) {
		return fmt.Errorf("pgas: Put out of bounds: off=%d len=%d arena=%d", dstOff, len(src), len(arena))
	}
	copy(arena[dstOff:], src)
	return nil
}

func (r *rankAllocator) Get(p SymPtr, srcOff int64, dst []byte, rank int) error {
	arena, err := r.l.arena(p, rank)
	if err != nil {
		return err
	}
	if srcOff < 0 || srcOff+int64(len(dst)) > int64(len(arena)) {
		return fmt.Errorf("pgas: Get out of bounds: off=%d len=%d arena=%d", srcOff, len(dst), len(arena))
	}
	copy(dst, arena[srcOff:])
	return nil
}

func (r *rankAllocator) IPut(p SymPtr, dstOff int64, dstStride int, src []byte, srcStride int, nElts int, eltSize int, rank int) error {
	arena, err := r.l.arena(p, rank)
	if err != nil {
		return err
	}
	for i := 0; i < nElts; i++ {
		do := dstOff + int64(i*dstStride*eltSize)
		so := i * srcStride * eltSize
		if do < 0 || do+int64(eltSize) > int64(len(arena)) {
			return fmt.Errorf("pgas: IPut out of bounds at element %d", i)
		}
		copy(arena[do:do+int64(eltSize)], src[so:so+eltSize])
	}
	return nil
}

func (r *rankAllocator) IGet(p SymPtr, srcOff int64, srcStride int, dst []byte, dstStride int, nElts int, eltSize int, rank int) error {
	arena, err := r.l.arena(p, rank)
	if err != nil {
		return err
	}
	for i := 0; i < nElts; i++ {
		so := srcOff + int64(i*srcStride*eltSize)
		do := i * dstStride * eltSize
		if so < 0 || so+int64(eltSize) > int64(len(arena)) {
			return fmt.Errorf("pgas: IGet out of bounds at element %d", i)
		}
		copy(dst[do:do+eltSize], arena[so:so+int64(eltSize)])
	}
	return nil
}

func (r *rankAllocator) PutScalarI64(p SymPtr, off int64, value int64, rank int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(value))
	return r.Put(p, off, buf[:], rank)
}

func (r *rankAllocator) GetScalarI64(p SymPtr, off int64, rank int) (int64, error) {
	var buf [8]byte
	if err := r.Get(p, off, buf[:], rank); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

func (r *rankAllocator) FCollect(src []byte) ([]byte, error) {
	res, err := r.l.rv.enter(r.rank, src, func(inbox []any) (any, error) {
		var out []byte
		for _, v := range inbox {
			out = append(out, v.([]byte)...)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func (r *rankAllocator) ReduceAndI8(value bool) (bool, error) {
	res, err := r.l.rv.enter(r.rank, value, func(inbox []any) (any, error) {
		out := true
		for _, v := range inbox {
			out = out && v.(bool)
		}
		return out, nil
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (r *rankAllocator) ReduceSumI64(value int64) (int64, error) {
	res, err := r.l.rv.enter(r.rank, value, func(inbox []any) (any, error) {
		var sum int64
		for _, v := range inbox {
			sum += v.(int64)
		}
		return sum, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}
