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
	"encoding/binary"

	"github.com/fleetsort/fleetsort/internal/conveyor"
	"github.com/fleetsort/fleetsort/internal/distarray"
	"github.com/fleetsort/fleetsort/internal/fleet"
	"github.com/fleetsort/fleetsort/internal/pgas"
)

// Conveyed routes deliveries through a request conveyor instead of
// writing each record straight into its destination rank: Deliver
// pushes {dstLocalIndex, record}, and Drain/Flush pull inbound records
// and apply them with a local Put into dst's storage on the owning
// rank.
type Conveyed[T pgas.POD] struct {
	conv    *conveyor.Conveyor
	decode  func([]byte) T
	recSize int
	log     fleet.Logger
}

// NewConveyed begins a conveyor session sized for one T per record
// plus an 8-byte destination-local-index header. Collective.
func NewConveyed[T pgas.POD](alloc pgas.Allocator, ringCap int, decode func([]byte) T, log fleet.Logger) (*Conveyed[T], error) {
	var zero T
	recSize := 8 + zero.Size()
	c := conveyor.New(alloc, log)
	if err := c.Begin(recSize, ringCap); err != nil {
		return nil, err
	}
	return &Conveyed[T]{conv: c, decode: decode, recSize: recSize, log: log}, nil
}

func (d *Conveyed[T]) Deliver(alloc pgas.Allocator, dst *distarray.Array[T], rec T, globalIdx int64) bool {
	dstRank, dstLocal := dst.Owner(globalIdx)
	buf := make([]byte, d.recSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(dstLocal))
	rec.Encode(buf[8:])
	ok := d.conv.Push(buf, dstRank)
	if ok {
		d.Drain(alloc, dst)
	}
	return ok
}

// Drain advances the conveyor once (non-terminal) and applies any
// newly-arrived records.
func (d *Conveyed[T]) Drain(alloc pgas.Allocator, dst *distarray.Array[T]) {
	d.conv.Advance(false)
	d.apply(alloc, dst)
}

// Flush advances until every record this rank has ever pushed has
// been delivered and drained fleet-wide, and every record addressed
// to this rank has been applied.
func (d *Conveyed[T]) Flush(alloc pgas.Allocator, dst *distarray.Array[T]) {
	for {
		more := d.conv.Advance(true)
		d.apply(alloc, dst)
		if !more {
			break
		}
	}
	d.conv.Reset()
}

func (d *Conveyed[T]) apply(alloc pgas.Allocator, dst *distarray.Array[T]) {
	myRank := alloc.MyRank()
	for {
		rec, _, ok := d.conv.APull()
		if !ok {
			break
		}
		dstLocal := int64(binary.LittleEndian.Uint64(rec[0:8]))
		val := d.decode(rec[8:])
		buf := make([]byte, val.Size())
		val.Encode(buf)
		if err := alloc.Put(dst.Ptr(), dstLocal*int64(val.Size()), buf, myRank); err != nil {
			fleet.Fatalf(d.log, "shuffle: applying conveyed record: %s", err)
		}
	}
}
