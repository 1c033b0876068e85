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

package radixsort

import (
	"math"

	"github.com/fleetsort/fleetsort/internal/distarray"
	"github.com/fleetsort/fleetsort/internal/pgas"
	locsort "github.com/fleetsort/fleetsort/internal/sort"
)

// Verify reports whether a is globally sorted ascending by Key: every
// rank's own local slice is non-decreasing, and the boundary between
// consecutive ranks is non-decreasing too (this rank's last key <= the
// next rank's first key). The scratch symmetric region used for the
// boundary exchange is allocated and freed within this call, never
// left live past return.
func Verify(alloc pgas.Allocator, a *distarray.Array[Record]) (bool, error) {
	local := a.Local()
	h := a.Len()

	keys := make([]uint64, h)
	for i := int64(0); i < h; i++ {
		keys[i] = local[i].Key
	}
	ok := locsort.IsSortedAsc(keys)

	rank := alloc.MyRank()

	bounds, err := alloc.Alloc(16)
	if err != nil {
		return false, err
	}
	defer alloc.Free(bounds)

	first, last := uint64(math.MaxUint64), uint64(0)
	if h > 0 {
		first, last = keys[0], keys[len(keys)-1]
	}
	if err := alloc.PutScalarI64(bounds, 0, int64(first), rank); err != nil {
		return false, err
	}
	if err := alloc.PutScalarI64(bounds, 8, int64(last), rank); err != nil {
		return false, err
	}
	alloc.BarrierAll()

	if rank > 0 && h > 0 {
		prevLastBits, err := alloc.GetScalarI64(bounds, 8, rank-1)
		if err != nil {
			return false, err
		}
		if uint64(prevLastBits) > first {
			ok = false
		}
	}

	return alloc.ReduceAndI8(ok)
}
