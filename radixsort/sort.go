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
	"github.com/fleetsort/fleetsort/internal/distarray"
	"github.com/fleetsort/fleetsort/internal/pgas"
	"github.com/fleetsort/fleetsort/internal/shuffle"
)

// Sort runs an LSD radix sort of a in place across the fleet, using b as
// scratch. Requires p.D even (checked at Params construction): for
// digit = 0, 2, 4, ..., D-2, shuffles a into b on digit, then b into a
// on digit+1, so after D passes the sorted sequence is back in a.
//
// a and b must have identical shape (same N, same Cap, same NRanks).
func Sort(alloc pgas.Allocator, a, b *distarray.Array[Record], p Params) error {
	cfg := p.shuffleConfig()
	for digit := 0; digit < p.D; digit += 2 {
		if err := pass(alloc, a, b, p.R, digit, p, cfg); err != nil {
			return err
		}
		if err := pass(alloc, b, a, p.R, digit+1, p, cfg); err != nil {
			return err
		}
	}
	return nil
}

func pass(alloc pgas.Allocator, src, dst *distarray.Array[Record], r, digit int, p Params, cfg shuffle.Config) error {
	strategy, err := p.newDeliverer(alloc)
	if err != nil {
		return err
	}
	if err := shuffle.GlobalShuffle(alloc, src, dst, bucketFunc(r, digit), strategy, cfg); err != nil {
		return err
	}
	return dst.Refresh()
}

// bucketFunc extracts R bits of key starting at bit digit*R, the
// current-pass digit used to bucket e: bucket(e, d) = (e.key >> (R*d)) & (B-1).
func bucketFunc(r, digit int) func(Record) int64 {
	mask := (uint64(1) << uint(r)) - 1
	shift := uint(r * digit)
	return func(e Record) int64 { return int64((e.Key >> shift) & mask) }
}
