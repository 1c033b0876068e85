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
	"sync"
	"testing"
)

// runFleet drives body concurrently across nranks goroutines, one per
// rank of a fresh Local, and waits for every rank to return; failures
// are reported by body itself through t.
func runFleet(t *testing.T, nranks int, body func(t *testing.T, alloc Allocator)) {
	t.Helper()
	l := NewLocal(nranks)
	var wg sync.WaitGroup
	wg.Add(nranks)
	for r := 0; r < nranks; r++ {
		go func(r int) {
			defer wg.Done()
			body(t, l.Rank(r))
		}(r)
	}
	wg.Wait()
}

func TestLocalPutGet(t *testing.T) {
	runFleet(t, 4, func(t *testing.T, alloc Allocator) {
		p, err := alloc.Alloc(64)
		if err != nil {
			t.Fatalf("Alloc: %s", err)
		}
		defer alloc.Free(p)

		me := alloc.MyRank()
		src := []byte{byte(me), byte(me + 1), byte(me + 2)}
		if err := alloc.Put(p, 0, src, me); err != nil {
			t.Fatalf("Put: %s", err)
		}
		alloc.BarrierAll()

		next := (me + 1) % alloc.NRanks()
		dst := make([]byte, 3)
		if err := alloc.Get(p, 0, dst, next); err != nil {
			t.Fatalf("Get: %s", err)
		}
		want := []byte{byte(next), byte(next + 1), byte(next + 2)}
		for i := range want {
			if dst[i] != want[i] {
				t.Fatalf("rank %d read %v from rank %d, want %v", me, dst, next, want)
			}
		}
	})
}

func TestLocalScalarsAndBarrier(t *testing.T) {
	runFleet(t, 3, func(t *testing.T, alloc Allocator) {
		p, err := alloc.Alloc(8)
		if err != nil {
			t.Fatalf("Alloc: %s", err)
		}
		defer alloc.Free(p)

		me := alloc.MyRank()
		if err := alloc.PutScalarI64(p, 0, int64(me)*10, me); err != nil {
			t.Fatalf("PutScalarI64: %s", err)
		}
		alloc.BarrierAll()

		for r := 0; r < alloc.NRanks(); r++ {
			v, err := alloc.GetScalarI64(p, 0, r)
			if err != nil {
				t.Fatalf("GetScalarI64(%d): %s", r, err)
			}
			if v != int64(r)*10 {
				t.Fatalf("rank %d: GetScalarI64(%d) = %d, want %d", me, r, v, r*10)
			}
		}
	})
}

func TestLocalIPutIGet(t *testing.T) {
	runFleet(t, 2, func(t *testing.T, alloc Allocator) {
		p, err := alloc.Alloc(80)
		if err != nil {
			t.Fatalf("Alloc: %s", err)
		}
		defer alloc.Free(p)

		me := alloc.MyRank()
		src := make([]byte, 5*8)
		for i := 0; i < 5; i++ {
			binary.LittleEndian.PutUint64(src[i*8:], uint64(me*100+i))
		}
		// strided write: every other 8-byte slot
		if err := alloc.IPut(p, 0, 2, src, 1, 5, 8, me); err != nil {
			t.Fatalf("IPut: %s", err)
		}
		alloc.BarrierAll()

		dst := make([]byte, 5*8)
		if err := alloc.IGet(p, 0, 2, dst, 1, 5, 8, me); err != nil {
			t.Fatalf("IGet: %s", err)
		}
		for i := 0; i < 5; i++ {
			got := binary.LittleEndian.Uint64(dst[i*8:])
			want := uint64(me*100 + i)
			if got != want {
				t.Fatalf("element %d = %d, want %d", i, got, want)
			}
		}
	})
}

func TestLocalCollectives(t *testing.T) {
	const n = 4
	runFleet(t, n, func(t *testing.T, alloc Allocator) {
		me := alloc.MyRank()

		sum, err := alloc.ReduceSumI64(int64(me + 1))
		if err != nil {
			t.Fatalf("ReduceSumI64: %s", err)
		}
		if sum != n*(n+1)/2 {
			t.Fatalf("ReduceSumI64 = %d, want %d", sum, n*(n+1)/2)
		}

		allTrue, err := alloc.ReduceAndI8(true)
		if err != nil {
			t.Fatalf("ReduceAndI8: %s", err)
		}
		if !allTrue {
			t.Fatalf("ReduceAndI8(all true) = false")
		}

		anyFalse, err := alloc.ReduceAndI8(me != 1)
		if err != nil {
			t.Fatalf("ReduceAndI8: %s", err)
		}
		if anyFalse {
			t.Fatalf("ReduceAndI8 with one false contributor = true")
		}

		contribution := []byte{byte(me)}
		collected, err := alloc.FCollect(contribution)
		if err != nil {
			t.Fatalf("FCollect: %s", err)
		}
		if len(collected) != n {
			t.Fatalf("FCollect returned %d bytes, want %d", len(collected), n)
		}
		for r := 0; r < n; r++ {
			if collected[r] != byte(r) {
				t.Fatalf("FCollect[%d] = %d, want %d", r, collected[r], r)
			}
		}
	})
}
