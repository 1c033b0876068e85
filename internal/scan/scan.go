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

// Package scan implements the Distributed Exclusive Scan: given a
// distributed array of i64, produce a same-shaped array whose element
// g holds the sum of every element before it fleet-wide.
package scan

import (
	"github.com/fleetsort/fleetsort/internal/distarray"
	"github.com/fleetsort/fleetsort/internal/fleet"
	"github.com/fleetsort/fleetsort/internal/pgas"
)

// ExclusiveScan computes dst[g] = sum(src[g'] for g' < g) across the
// whole fleet. O(P) sequential work on rank 0, O(N/P) local work per
// rank, per spec section 4.5; an invariant violation here (a failed
// Put/Get against storage this call itself just allocated) is fatal,
// not a recoverable error, since it can only indicate a bug.
func ExclusiveScan(alloc pgas.Allocator, src *distarray.Array[pgas.I64], dst *distarray.Array[pgas.I64], log fleet.Logger) {
	n := src.N()
	if dst.N() != n {
		fleet.Fatalf(log, "scan: src/dst length mismatch: %d vs %d", n, dst.N())
	}

	srcLocal := src.Local()
	h := src.Len()

	var myTotal int64
	for i := int64(0); i < h; i++ {
		myTotal += int64(srcLocal[i])
	}

	totals, err := alloc.Alloc(int64(alloc.NRanks()) * 8)
	if err != nil {
		fleet.Fatalf(log, "scan: allocating per-rank totals: %s", err)
	}
	defer alloc.Free(totals)

	myRank := alloc.MyRank()
	if err := alloc.PutScalarI64(totals, int64(myRank)*8, myTotal, 0); err != nil {
		fleet.Fatalf(log, "scan: publishing rank total: %s", err)
	}
	alloc.BarrierAll()

	if myRank == 0 {
		p := alloc.NRanks()
		sums := make([]int64, p)
		for r := 0; r < p; r++ {
			v, err := alloc.GetScalarI64(totals, int64(r)*8, 0)
			if err != nil {
				fleet.Fatalf(log, "scan: reading rank %d total: %s", r, err)
			}
			sums[r] = v
		}
		var running int64
		for r := 0; r < p; r++ {
			excl := running
			running += sums[r]
			if err := alloc.PutScalarI64(totals, 0, excl, r); err != nil {
				fleet.Fatalf(log, "scan: scattering rank %d start: %s", r, err)
			}
		}
	}
	alloc.BarrierAll()

	myStart, err := alloc.GetScalarI64(totals, 0, myRank)
	if err != nil {
		fleet.Fatalf(log, "scan: reading own start: %s", err)
	}

	dstLocal := dst.Local()
	running := myStart
	for i := int64(0); i < h; i++ {
		dstLocal[i] = pgas.I64(running)
		running += int64(srcLocal[i])
	}
	if err := dst.Flush(); err != nil {
		fleet.Fatalf(log, "scan: flushing local prefix sums: %s", err)
	}
	alloc.BarrierAll()
}
