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

// CopyStartsStrided pulls gsa[i*P+myRank] into localStarts[i] for
// every bin i, using one strided IGet per contiguous run of bins that
// share a source rank.
func CopyStartsStrided(alloc pgas.Allocator, gsa *distarray.Array[pgas.I64], localStarts []int64) error {
	p := int64(alloc.NRanks())
	myRank := int64(alloc.MyRank())
	b := int64(len(localStarts))

	for i := int64(0); i < b; {
		g := i*p + myRank
		owner, local0 := gsa.Owner(g)
		k := int64(1)
		for i+k < b {
			g2 := (i+k)*p + myRank
			owner2, _ := gsa.Owner(g2)
			if owner2 != owner {
				break
			}
			k++
		}
		dst := make([]byte, k*8)
		if err := alloc.IGet(gsa.Ptr(), int64(local0)*8, alloc.NRanks(), dst, 1, int(k), 8, owner); err != nil {
			return err
		}
		for j := int64(0); j < k; j++ {
			localStarts[i+j] = int64(binary.LittleEndian.Uint64(dst[j*8 : (j+1)*8]))
		}
		i += k
	}
	alloc.BarrierAll()
	return nil
}

// CopyStartsAggregated is the request/reply conveyor realization:
// rank r pushes a {bin, srcLocalIndex} request to the rank owning
// bin's global-starts cell; that rank replies with {bin, value}; the
// originator stores replies into localStarts. A reply push that fails
// (the reply aggregator is backpressured) re-queues the request with
// Unpull so it is answered again on a later round.
func CopyStartsAggregated(alloc pgas.Allocator, gsa *distarray.Array[pgas.I64], localStarts []int64, ringCap int, log fleet.Logger) error {
	req := conveyor.New(alloc, log)
	reply := conveyor.New(alloc, log)
	if err := req.Begin(pairRecordSize, ringCap); err != nil {
		return err
	}
	defer req.Reset()
	if err := reply.Begin(pairRecordSize, ringCap); err != nil {
		return err
	}
	defer reply.Reset()

	p := int64(alloc.NRanks())
	myRank := alloc.MyRank()
	n := int64(len(localStarts))

	nextReq := int64(0)
	reqMore := true
	for {
		for nextReq < n {
			g := nextReq*p + int64(myRank)
			srcRank, srcLocal := gsa.Owner(g)
			if !req.Push(encodePair(nextReq, int64(srcLocal)), srcRank) {
				break
			}
			nextReq++
		}
		reqMore = req.Advance(nextReq >= n)

		for {
			rec, srcRank, ok := req.APull()
			if !ok {
				break
			}
			bin, srcLocal := decodePair(rec)
			val, err := alloc.GetScalarI64(gsa.Ptr(), srcLocal*8, myRank)
			if err != nil {
				return err
			}
			if !reply.Push(encodePair(bin, val), srcRank) {
				req.Unpull()
				break
			}
		}

		replyMore := reply.Advance(!reqMore)

		for {
			rec, _, ok := reply.APull()
			if !ok {
				break
			}
			bin, val := decodePair(rec)
			localStarts[bin] = val
		}

		if !reqMore && !replyMore {
			break
		}
	}
	alloc.BarrierAll()
	return nil
}
