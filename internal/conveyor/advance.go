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

package conveyor

import "github.com/fleetsort/fleetsort/internal/fleet"

// Advance is the only place network progress happens: it flushes as
// much of each peer's outbound queue as that peer's ring has credit
// for ("data then doorbell" -- the per-record Puts land before the
// fillCount bump that makes them visible), then drains every sender's
// newly-visible records into the local inbound queue and publishes an
// updated ack.
//
// done asserts that this rank will Push no more records on this
// instance. Advance returns true until a fleet-wide AND-reduction
// confirms every rank is both locally quiescent (no outbound backlog,
// nothing in flight unacknowledged) and has itself called
// Advance(true).
func (c *Conveyor) Advance(done bool) bool {
	if c.requeued.valid {
		c.inboundRec = append([][]byte{c.requeued.rec}, c.inboundRec...)
		c.inboundSrc = append([]int{c.requeued.src}, c.inboundSrc...)
		c.requeued.valid = false
	}

	quiescent := true

	for d := 0; d < c.nranks; d++ {
		ack, err := c.alloc.GetScalarI64(c.ackCount, int64(c.rank)*8, d)
		if err != nil {
			c.fatal(err)
		}
		c.credit[d] = ack

		inFlight := c.published[d] - c.credit[d]
		available := int64(c.cap) - inFlight
		n := int64(len(c.outbound[d]))
		if n > available {
			n = available
		}
		if n > 0 {
			c.flush(d, int(n))
		}
		if len(c.outbound[d]) > 0 || c.published[d] > c.credit[d] {
			quiescent = false
		}
	}

	for s := 0; s < c.nranks; s++ {
		remoteFill, err := c.alloc.GetScalarI64(c.fillCount, int64(s)*8, c.rank)
		if err != nil {
			c.fatal(err)
		}
		newCount := remoteFill - c.consumed[s]
		if newCount > 0 {
			c.drain(s, newCount)
			if err := c.alloc.PutScalarI64(c.ackCount, int64(s)*8, c.consumed[s], c.rank); err != nil {
				c.fatal(err)
			}
		}
	}

	localReady := quiescent && done
	allReady, err := c.alloc.ReduceAndI8(localReady)
	if err != nil {
		c.fatal(err)
	}
	return !allReady
}

// flush writes the first n pending records for dst into dst's
// mailbox ring and publishes the new fill count, popping them from
// the outbound queue.
func (c *Conveyor) flush(dst int, n int) {
	base := c.published[dst]
	for i := 0; i < n; i++ {
		ringIdx := (base + int64(i)) % int64(c.cap)
		off := int64(c.rank)*int64(c.cap)*int64(c.recSize) + ringIdx*int64(c.recSize)
		if err := c.alloc.Put(c.mailbox, off, c.outbound[dst][i], dst); err != nil {
			c.fatal(err)
		}
	}
	c.outbound[dst] = c.outbound[dst][n:]
	c.published[dst] = base + int64(n)
	if err := c.alloc.PutScalarI64(c.fillCount, int64(c.rank)*8, c.published[dst], dst); err != nil {
		c.fatal(err)
	}
}

// drain decodes newCount newly-visible records out of sender src's
// ring slot in my own mailbox and appends them to the inbound queue.
func (c *Conveyor) drain(src int, newCount int64) {
	base := c.consumed[src]
	for i := int64(0); i < newCount; i++ {
		ringIdx := (base + i) % int64(c.cap)
		off := int64(src)*int64(c.cap)*int64(c.recSize) + ringIdx*int64(c.recSize)
		buf := make([]byte, c.recSize)
		if err := c.alloc.Get(c.mailbox, off, buf, c.rank); err != nil {
			c.fatal(err)
		}
		c.inboundRec = append(c.inboundRec, buf)
		c.inboundSrc = append(c.inboundSrc, src)
	}
	c.consumed[src] = base + newCount
}

// fatal reports a conveyor-internal invariant violation: a failed
// Put/Get against storage this same rank just collectively agreed to
// allocate can only mean a bug, not recoverable caller misuse.
func (c *Conveyor) fatal(err error) {
	fleet.Fatalf(c.log, "conveyor: %s", err)
}
