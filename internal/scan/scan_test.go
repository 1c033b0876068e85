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

package scan

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/fleetsort/fleetsort/internal/distarray"
	"github.com/fleetsort/fleetsort/internal/pgas"
)

func runFleet(t *testing.T, nranks int, body func(t *testing.T, alloc pgas.Allocator)) {
	t.Helper()
	l := pgas.NewLocal(nranks)
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

// checkScan fills src with the given global values on every rank, runs
// ExclusiveScan, and checks invariant 5: dst[g] == sum(src[0:g]).
func checkScan(t *testing.T, nranks int, values []int64) {
	t.Helper()
	n := int64(len(values))
	runFleet(t, nranks, func(t *testing.T, alloc pgas.Allocator) {
		src, err := distarray.Create[pgas.I64](alloc, "src", n, pgas.DecodeI64)
		if err != nil {
			t.Fatalf("Create src: %s", err)
		}
		defer src.Destroy()
		dst, err := distarray.Create[pgas.I64](alloc, "dst", n, pgas.DecodeI64)
		if err != nil {
			t.Fatalf("Create dst: %s", err)
		}
		defer dst.Destroy()

		local := src.Local()
		for i := range local {
			g := src.Global(i)
			if g >= n {
				continue // padding slot past N
			}
			local[i] = pgas.I64(values[g])
		}
		if err := src.Flush(); err != nil {
			t.Fatalf("Flush: %s", err)
		}
		alloc.BarrierAll()

		ExclusiveScan(alloc, src, dst, nil)

		dlocal := dst.Local()
		for i := range dlocal {
			g := dst.Global(i)
			if g >= n {
				continue // padding slot past N
			}
			var want int64
			for _, v := range values[:g] {
				want += v
			}
			if int64(dlocal[i]) != want {
				t.Fatalf("rank %d dst[%d] = %d, want %d", alloc.MyRank(), g, dlocal[i], want)
			}
		}
	})
}

func TestExclusiveScanBasic(t *testing.T) {
	cases := []struct {
		name   string
		nranks int
		values []int64
	}{
		{"all zero", 3, []int64{0, 0, 0, 0, 0, 0}},
		{"evenly divisible", 2, []int64{1, 2, 3, 4}},
		{"not evenly divisible", 3, []int64{5, 1, 4, 2, 8, 7, 3}},
		{"single rank", 1, []int64{1, 2, 3}},
		{"fewer elements than ranks", 4, []int64{3, 5}},
	}
	for _, c := range cases {
		t.Run(c.name, checkScanFunc(c.nranks, c.values))
	}
}

func checkScanFunc(nranks int, values []int64) func(t *testing.T) {
	return func(t *testing.T) { checkScan(t, nranks, values) }
}

func TestExclusiveScanRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	for trial := 0; trial < 10; trial++ {
		n := rng.Intn(40)
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(rng.Intn(1000))
		}
		nranks := 1 + rng.Intn(5)
		checkScan(t, nranks, values)
	}
}
