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

package pgas

import "sync"

// rendezvous implements the "every rank enters in identical order"
// collective rendezvous shared by both Allocator implementations: Local
// uses one directly (every rank is a goroutine calling enter), and Net
// uses one on rank 0 only, fed by per-peer network reader goroutines
// instead of direct calls (serveCollective in
// internal/pgas/remote_collective.go).
//
// Because every rank is required to issue collectives in the same
// order (spec section 5), a monotonically increasing sequence number
// is enough to line up matching calls across ranks without needing to
// name which collective is in flight.
type rendezvous struct {
	n int

	mu   sync.Mutex
	cond *sync.Cond

	seq       uint64
	arrived   int
	inbox     []any
	result    any
	resultErr error
}

func newRendezvous(n int) *rendezvous {
	r := &rendezvous{n: n, inbox: make([]any, n)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// enter records who's contribution and blocks until every one of the n
// participants has called enter for the current sequence number. The
// last participant to arrive calls compute once with every recorded
// contribution (indexed by participant id) and that result is handed
// back to all n callers.
func (r *rendezvous) enter(who int, contribution any, compute func(inbox []any) (any, error)) (any, error) {
	r.mu.Lock()
	r.inbox[who] = contribution
	mySeq := r.seq
	r.arrived++
	if r.arrived == r.n {
		res, err := compute(r.inbox)
		r.result, r.resultErr = res, err
		r.arrived = 0
		r.seq++
		r.cond.Broadcast()
	} else {
		for r.seq == mySeq {
			r.cond.Wait()
		}
	}
	res, err := r.result, r.resultErr
	r.mu.Unlock()
	return res, err
}
