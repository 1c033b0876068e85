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

// Package conveyor implements the Batched Aggregator: a many-to-many
// small-message exchanger that queues fixed-size records destined
// for remote ranks and flushes them cooperatively through a
// pgas.Allocator. Records wait in a local per-destination queue until
// Advance; there each record is written into the destination's mailbox
// ring with its own Put, and one fill-count update per destination
// then publishes the whole batch.
//
// The shape is the teacher's tenant/dcache worker/reservation pair
// (a bounded local queue that a cooperative drain step empties into
// durable storage) generalized from one in-process channel per query
// to per-peer symmetric mailboxes addressed by (sender, ring slot).
package conveyor

import (
	"github.com/fleetsort/fleetsort/internal/fleet"
	"github.com/fleetsort/fleetsort/internal/pgas"
)

// Conveyor is one exchange session. Two instances commonly coexist per
// rank for request/reply patterns (internal/histogram's reverse
// transpose); each is entirely independent.
type Conveyor struct {
	alloc   pgas.Allocator
	log     fleet.Logger
	recSize int
	cap     int // per-sender ring capacity, in records
	nranks  int
	rank    int

	mailbox   pgas.SymPtr // P*cap*recSize bytes; slot s is this rank's receive buffer for sender s
	fillCount pgas.SymPtr // P int64s; fillCount[s] = records sender s has published into slot s of my mailbox
	ackCount  pgas.SymPtr // P int64s; ackCount[s] = records I have consumed from sender s's stream

	outbound  [][][]byte // outbound[d] is my pending, not-yet-flushed records for dst d
	published []int64    // published[d] = cumulative records I have written into d's mailbox
	credit    []int64    // credit[d] = last-known count d has consumed of my stream (my own view)
	consumed  []int64    // consumed[s] = records I have decoded out of sender s's slot

	inboundRec [][]byte // FIFO of decoded records ready for Pull/APull
	inboundSrc []int    // parallel source-rank slice

	lastAPull struct {
		valid bool
		rec   []byte
		src   int
	}
	requeued struct {
		valid bool
		rec   []byte
		src   int
	}
}

// New constructs a conveyor bound to alloc; the caller must still call
// Begin (collectively, on every rank) before Push/Pull/Advance. log may
// be nil.
func New(alloc pgas.Allocator, log fleet.Logger) *Conveyor {
	return &Conveyor{alloc: alloc, log: log}
}

// Begin opens an exchange session sized for records of recSize bytes
// with a per-sender ring capacity of cap records. Collective: every
// rank must call Begin with identical recSize and cap, in the same
// relative collective order as every other call on alloc.
func (c *Conveyor) Begin(recSize, cap int) error {
	c.recSize = recSize
	c.cap = cap
	c.nranks = c.alloc.NRanks()
	c.rank = c.alloc.MyRank()

	mailbox, err := c.alloc.Alloc(int64(c.nranks * cap * recSize))
	if err != nil {
		return err
	}
	fillCount, err := c.alloc.Alloc(int64(c.nranks * 8))
	if err != nil {
		return err
	}
	ackCount, err := c.alloc.Alloc(int64(c.nranks * 8))
	if err != nil {
		return err
	}
	c.alloc.BarrierAll()

	c.mailbox, c.fillCount, c.ackCount = mailbox, fillCount, ackCount
	c.outbound = make([][][]byte, c.nranks)
	c.published = make([]int64, c.nranks)
	c.credit = make([]int64, c.nranks)
	c.consumed = make([]int64, c.nranks)
	c.inboundRec = nil
	c.inboundSrc = nil
	c.lastAPull.valid = false
	c.requeued.valid = false
	return nil
}

// Push enqueues a copy of record for delivery to dstRank. Returns
// false if this rank's local outbound buffer for dstRank is already
// at capacity (backpressure); the caller should retry after the next
// Advance.
func (c *Conveyor) Push(record []byte, dstRank int) bool {
	if len(c.outbound[dstRank]) >= c.cap {
		return false
	}
	cp := make([]byte, len(record))
	copy(cp, record)
	c.outbound[dstRank] = append(c.outbound[dstRank], cp)
	return true
}

// Pull removes and copies one received record (from any source) into
// dst, which must be at least recSize bytes. Returns false if nothing
// is currently available.
func (c *Conveyor) Pull(dst []byte) bool {
	if len(c.inboundRec) == 0 {
		return false
	}
	rec := c.inboundRec[0]
	c.inboundRec = c.inboundRec[1:]
	c.inboundSrc = c.inboundSrc[1:]
	copy(dst, rec)
	return true
}

// APull returns a borrowed pointer to the next received record and its
// source rank, without copying. The returned slice is only valid until
// the next call to Advance or Pull on this instance.
func (c *Conveyor) APull() (rec []byte, srcRank int, ok bool) {
	if len(c.inboundRec) == 0 {
		c.lastAPull.valid = false
		return nil, 0, false
	}
	rec, src := c.inboundRec[0], c.inboundSrc[0]
	c.inboundRec = c.inboundRec[1:]
	c.inboundSrc = c.inboundSrc[1:]
	c.lastAPull = struct {
		valid bool
		rec   []byte
		src   int
	}{true, rec, src}
	return rec, src, true
}

// Unpull re-queues the most recent APull result. It is honored exactly
// once per APull and is guaranteed to survive exactly one subsequent
// Advance on this instance before becoming eligible for APull again.
func (c *Conveyor) Unpull() {
	if !c.lastAPull.valid {
		return
	}
	c.requeued = struct {
		valid bool
		rec   []byte
		src   int
	}{true, c.lastAPull.rec, c.lastAPull.src}
	c.lastAPull.valid = false
}

// Reset releases this session's symmetric storage, returning the
// instance to a clean state ready for the next Begin. Collective.
func (c *Conveyor) Reset() {
	c.alloc.Free(c.mailbox)
	c.alloc.Free(c.fillCount)
	c.alloc.Free(c.ackCount)
	*c = Conveyor{alloc: c.alloc, log: c.log}
}
