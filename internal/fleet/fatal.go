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
)

// Fatalf is the single choke point for an internal invariant
// violation: something that should be provably impossible given a
// correct caller (a destination rank outside [0,P), a conveyor Put
// against an id it just allocated failing). It logs on the offending
// rank only and exits; no fleet-wide graceful shutdown is attempted,
// matching spec section 7 -- a peer blocked on a collective with this
// rank will simply hang, which is an acceptable failure mode for an
// invariant that should never trigger.
func Fatalf(l Logger, format string, args ...any) {
	safe(l).Printf("fatal: "+format, args...)
	fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	os.Exit(1)
}
