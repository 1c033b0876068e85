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

// Package shuffle implements the Global Shuffle: given per-rank bucket
// counts, establish global destination offsets (via internal/histogram
// and internal/scan) and deliver every local record to its exact
// target slot, preserving the stability LSD radix sort depends on.
//
// GlobalShuffle is generic over any pgas.POD element (the same "plan
// vs deliver" factoring spec.md section 9 calls for) rather than fixed
// to radixsort.Record: radixsort is the top-level package that calls
// into this one, so naming radixsort.Record here would form an import
// cycle. A caller-supplied bucket function stands in for Record.Key's
// digit extraction.
package shuffle

import (
	"github.com/fleetsort/fleetsort/internal/distarray"
	"github.com/fleetsort/fleetsort/internal/pgas"
)

// Deliverer is the delivery-strategy seam: DirectPut issues one-sided
// puts immediately; Conveyed batches through a request conveyor.
type Deliverer[T pgas.POD] interface {
	// Deliver writes rec to dst's global position globalIdx, returning
	// whether the write (or, for a batching strategy, the enqueue) was
	// accepted. A false return means the caller must retry this same
	// record on a later call without advancing its local starts[b].
	Deliver(alloc pgas.Allocator, dst *distarray.Array[T], rec T, globalIdx int64) bool

	// Drain makes progress on any deliveries still in flight and
	// applies newly-arrived records directly into dst's local storage.
	// It is a no-op for DirectPut, which never buffers.
	Drain(alloc pgas.Allocator, dst *distarray.Array[T])

	// Flush blocks until every record ever accepted by Deliver has
	// been fully applied fleet-wide. Called once after the shuffle's
	// local-order delivery loop completes.
	Flush(alloc pgas.Allocator, dst *distarray.Array[T])
}
