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
	"fmt"

	"github.com/fleetsort/fleetsort/internal/fleet"
	"github.com/fleetsort/fleetsort/internal/pgas"
	"github.com/fleetsort/fleetsort/internal/shuffle"
)

// Strategy names the delivery strategy a pass uses, selected by
// cmd/fleetsort's --shuffle flag.
type Strategy int

const (
	Direct Strategy = iota
	Conveyor
)

// Params configures a Sort call. R must divide 64 and D = 64/R must be
// even (an LSD radix sort needs an even number of passes so that the
// fully-sorted result ends up back in the caller's source array rather
// than its scratch array); both are checked here, at construction, so
// a misconfiguration is reported before any collective call is issued,
// not mid-sort.
type Params struct {
	R int
	D int

	Strategy    Strategy
	Aggregation shuffle.Aggregation // histogram transpose/reverse-transpose realization
	RingCap     int                 // conveyor ring capacity, used by Conveyor and Aggregated
	Log         fleet.Logger
}

// NewParams validates r and returns a Params with the remaining fields
// at their documented defaults (Direct strategy, Strided aggregation,
// ring capacity 256, nil log).
func NewParams(r int) (Params, error) {
	if r <= 0 || r > 64 || 64%r != 0 {
		return Params{}, fmt.Errorf("radixsort: radix width %d must evenly divide 64", r)
	}
	d := 64 / r
	if d%2 != 0 {
		return Params{}, fmt.Errorf("radixsort: digit count %d (64/%d) must be even", d, r)
	}
	return Params{
		R:           r,
		D:           d,
		Strategy:    Direct,
		Aggregation: shuffle.Strided,
		RingCap:     256,
	}, nil
}

// Buckets returns B = 2^R.
func (p Params) Buckets() int64 { return int64(1) << uint(p.R) }

func (p Params) newDeliverer(alloc pgas.Allocator) (shuffle.Deliverer[Record], error) {
	switch p.Strategy {
	case Conveyor:
		return shuffle.NewConveyed[Record](alloc, p.RingCap, DecodeRecord, p.Log)
	default:
		return shuffle.DirectPut[Record]{Log: p.Log}, nil
	}
}

func (p Params) shuffleConfig() shuffle.Config {
	return shuffle.Config{
		Buckets:     p.Buckets(),
		Aggregation: p.Aggregation,
		RingCap:     p.RingCap,
		Log:         p.Log,
	}
}
