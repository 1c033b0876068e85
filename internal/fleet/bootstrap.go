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

package fleet

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fleetsort/fleetsort/internal/pgas"
)

// RankEnv reads the external launcher's rank-identity contract
// (FLEETSORT_RANK, FLEETSORT_NRANKS). ok is false if either variable
// is absent or malformed; cmd/fleetsort's --transport net treats that
// as a fatal usage error.
func RankEnv() (rank, nranks int, ok bool) {
	rs, nsPresent := os.LookupEnv("FLEETSORT_RANK")
	ns, rsPresent := os.LookupEnv("FLEETSORT_NRANKS")
	if !nsPresent || !rsPresent {
		return 0, 0, false
	}
	r, err1 := strconv.Atoi(rs)
	n, err2 := strconv.Atoi(ns)
	if err1 != nil || err2 != nil || n <= 0 || r < 0 || r >= n {
		return 0, 0, false
	}
	return r, n, true
}

// LocalNRanks picks the goroutine fleet size for pgas.Local when no
// external launcher is present: FLEETSORT_NRANKS if set (even without
// FLEETSORT_RANK, since a goroutine fleet has no per-process rank to
// assign), else def.
func LocalNRanks(def int) int {
	if ns, present := os.LookupEnv("FLEETSORT_NRANKS"); present {
		if n, err := strconv.Atoi(ns); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// NewRunID tags one invocation (every rank's log lines, in every
// transport) for cross-rank correlation, mirroring the teacher's use
// of google/uuid for per-request identifiers.
func NewRunID() uuid.UUID { return uuid.New() }

// DialNet resolves the --peers source into this rank's NetConfig and
// dials pgas.Net. nranks must match the resolved peer count exactly:
// a mismatch means the launcher and the peer manifest disagree about
// fleet size, which is an environment error (spec section 7), not an
// internal one.
func DialNet(rank, nranks int, peersSource string, port int, key pgas.ClusterKey, dialTimeout time.Duration) (*pgas.Net, error) {
	addrs, err := LoadPeers(peersSource, port)
	if err != nil {
		return nil, err
	}
	if len(addrs) != nranks {
		return nil, fmt.Errorf("fleet: peer manifest %q has %d peers, want %d", peersSource, len(addrs), nranks)
	}
	return pgas.Dial(pgas.NetConfig{
		Rank:        rank,
		Addrs:       addrs,
		Key:         key,
		DialTimeout: dialTimeout,
	})
}
