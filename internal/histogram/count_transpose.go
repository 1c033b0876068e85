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

package histogram

import (
	"encoding/binary"

	"github.com/fleetsort/fleetsort/internal/conveyor"
	"github.com/fleetsort/fleetsort/internal/distarray"
	"github.com/fleetsort/fleetsort/internal/fleet"
	"github.com/fleetsort/fleetsort/internal/pgas"
)

// CopyCountsStrided publishes localCounts[i] to global index i*P+myRank
// of gca, for every bin i, using one strided IPut per contiguous run of
// bins that share a destination rank.
func CopyCountsStrided(alloc pgas.Allocator, localCounts []int64, gca *distarray.Array[pgas.I64]) error {
	p := int64(alloc.NRanks())
	myRank := int64(alloc.MyRank())
	b := int64(len(localCounts))

	for i := int64(0); i < b; {
		g := i*p + myRank
		owner, local0 := gca.Owner(g)
		k := int64(1)
		for i+k < b {
			g2 := (i+k)*p + myRank
			owner2, _ := gca.Owner(g2)
			if owner2 != owner {
				break
			}
			k++
		}
		src := make([]byte, k*8)
		for j := int64(0); j < k; j++ {
			binary.LittleEndian.PutUint64(src[j*8:(j+1)*8], uint64(localCounts[i+j]))
		}
		if err := alloc.IPut(gca.Ptr(), int64(local0)*8, alloc.NRanks(), src, 1, int(k), 8, owner); err != nil {
			return err
		}
		i += k
	}
	alloc.BarrierAll()
	return nil
}

// CopyCountsAggregated is the conveyor-based realization of the same
// operation: each local bin is pushed as a {dstLocalIndex, value}
// record through a request aggregator, drained directly into gca's
// storage on the receiving rank.
func CopyCountsAggregated(alloc pgas.Allocator, localCounts []int64, gca *distarray.Array[pgas.I64], ringCap int, log fleet.Logger) error {
	req := conveyor.New(alloc, log)
	if err := req.Begin(pairRecordSize, ringCap); err != nil {
		return err
	}
	defer req.Reset()

	p := int64(alloc.NRanks())
	myRank := alloc.MyRank()
	n := int64(len(localCounts))

	next := int64(0)
	for {
		for next < n {
			g := next*p + int64(myRank)
			dstRank, dstLocal := gca.Owner(g)
			if !req.Push(encodePair(int64(dstLocal), localCounts[next]), dstRank) {
				break
			}
			next++
		}
		more := req.Advance(next >= n)
		for {
			rec, _, ok := req.APull()
			if !ok {
				break
			}
			locIdx, value := decodePair(rec)
			if err := alloc.PutScalarI64(gca.Ptr(), locIdx*8, value, myRank); err != nil {
				return err
			}
		}
		if !more {
			break
		}
	}
	alloc.BarrierAll()
	return nil
}
