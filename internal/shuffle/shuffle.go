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
	"github.com/fleetsort/fleetsort/internal/histogram"
	"github.com/fleetsort/fleetsort/internal/pgas"
	"github.com/fleetsort/fleetsort/internal/scan"
)

// Aggregation selects which realization internal/histogram uses to move
// counts and starts between ranks; it has no effect on how strategy
// delivers records.
type Aggregation int

const (
	Strided Aggregation = iota
	Aggregated
)

// Config bundles GlobalShuffle's tuning knobs so radixsort.Params can
// hold one value instead of threading four parameters through Sort's
// per-digit loop.
type Config struct {
	Buckets     int64 // B, the number of buckets this digit sorts into (1<<R)
	Aggregation Aggregation
	RingCap     int // conveyor ring capacity, used only when Aggregation == Aggregated
	Log         fleet.Logger
}

// GlobalShuffle implements spec.md section 4.7's six steps: count local
// buckets, publish counts fleet-wide, exclusive-scan them into global
// starting offsets, pull each rank's own starts back, then deliver
// every local record (visited in increasing local index, for
// stability) to its exact global destination slot via strategy.
func GlobalShuffle[T pgas.POD](alloc pgas.Allocator, src, dst *distarray.Array[T], bucket func(T) int64, strategy Deliverer[T], cfg Config) error {
	b := cfg.Buckets
	h := src.Len()
	srcLocal := src.Local()

	counts := make([]int64, b)
	bins := make([]int64, h)
	for i := int64(0); i < h; i++ {
		bin := bucket(srcLocal[i])
		if bin < 0 || bin >= b {
			fleet.Fatalf(cfg.Log, "shuffle: bucket function returned %d outside [0,%d)", bin, b)
		}
		bins[i] = bin
		counts[bin]++
	}

	p := int64(alloc.NRanks())
	gca, err := distarray.Create[pgas.I64](alloc, "shuffle-counts", b*p, pgas.DecodeI64)
	if err != nil {
		return err
	}
	defer gca.Destroy()
	gsa, err := distarray.Create[pgas.I64](alloc, "shuffle-starts", b*p, pgas.DecodeI64)
	if err != nil {
		return err
	}
	defer gsa.Destroy()

	if cfg.Aggregation == Aggregated {
		if err := histogram.CopyCountsAggregated(alloc, counts, gca, cfg.RingCap, cfg.Log); err != nil {
			return err
		}
	} else {
		if err := histogram.CopyCountsStrided(alloc, counts, gca); err != nil {
			return err
		}
	}

	scan.ExclusiveScan(alloc, gca, gsa, cfg.Log)

	starts := make([]int64, b)
	if cfg.Aggregation == Aggregated {
		if err := histogram.CopyStartsAggregated(alloc, gsa, starts, cfg.RingCap, cfg.Log); err != nil {
			return err
		}
	} else {
		if err := histogram.CopyStartsStrided(alloc, gsa, starts); err != nil {
			return err
		}
	}

	for i := int64(0); i < h; i++ {
		bin := bins[i]
		for !strategy.Deliver(alloc, dst, srcLocal[i], starts[bin]) {
			strategy.Drain(alloc, dst)
		}
		starts[bin]++
		strategy.Drain(alloc, dst)
	}
	strategy.Flush(alloc, dst)
	alloc.BarrierAll()
	return nil
}
