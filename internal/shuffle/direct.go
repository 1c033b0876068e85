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

package shuffle

import (
	"github.com/fleetsort/fleetsort/internal/distarray"
	"github.com/fleetsort/fleetsort/internal/fleet"
	"github.com/fleetsort/fleetsort/internal/pgas"
)

// DirectPut delivers every record with its own one-sided Put and never
// buffers, so step 6's starts[b]++ always advances -- the simplest
// realization of the shuffle, and the CLI's default.
type DirectPut[T pgas.POD] struct {
	Log fleet.Logger
}

func (d DirectPut[T]) Deliver(alloc pgas.Allocator, dst *distarray.Array[T], rec T, globalIdx int64) bool {
	rank, local := dst.Owner(globalIdx)
	if rank < 0 || rank >= dst.NRanks() {
		fleet.Fatalf(d.Log, "shuffle: direct put: owner rank %d for global index %d outside [0,%d)", rank, globalIdx, dst.NRanks())
	}
	buf := make([]byte, rec.Size())
	rec.Encode(buf)
	if err := alloc.Put(dst.Ptr(), int64(local)*int64(rec.Size()), buf, rank); err != nil {
		fleet.Fatalf(d.Log, "shuffle: direct put to rank %d: %s", rank, err)
	}
	return true
}

func (DirectPut[T]) Drain(alloc pgas.Allocator, dst *distarray.Array[T]) {}

func (DirectPut[T]) Flush(alloc pgas.Allocator, dst *distarray.Array[T]) {}
