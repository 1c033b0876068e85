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

// Package energy is a best-effort reader of the Linux RAPL
// power-capping counter, used to print an optional "Energy: <joules>"
// instrumentation line. Grounded on the teacher's (now-removed)
// cgroup package's convention of probing a /sys pseudo-file and
// treating its absence as "feature unavailable" rather than an error
// -- see DESIGN.md.
package energy

import (
	"os"
	"strconv"
	"strings"
)

const raplCounterPath = "/sys/class/powercap/intel-rapl:0/energy_uj"

// Reader samples the cumulative RAPL energy counter. A zero Reader
// reads the package-0 counter; Reader{Path: ...} overrides it, mainly
// for tests.
type Reader struct {
	Path string
}

func (r Reader) path() string {
	if r.Path != "" {
		return r.Path
	}
	return raplCounterPath
}

// readMicrojoules reads the counter's current value, or ok=false if
// the counter is absent, unreadable, or the host isn't Linux -- any
// of which degrades silently per spec section 7's "optional
// instrumentation failure" category.
func (r Reader) readMicrojoules() (uj int64, ok bool) {
	data, err := os.ReadFile(r.path())
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Sample is one energy measurement over an interval.
type Sample struct {
	start int64
	ok    bool
}

// Begin starts an energy measurement window.
func (r Reader) Begin() Sample {
	v, ok := r.readMicrojoules()
	return Sample{start: v, ok: ok}
}

// End returns the joules consumed since Begin divided by nodes, a
// count the caller supplies rather than a hard-coded fleet size
// (cmd/fleetsort passes the allocator's rank count). ok is false if
// the counter was unavailable at either end of the window, in which
// case the caller should print no "Energy:" line at all.
func (s Sample) End(r Reader, nodes int) (joules float64, ok bool) {
	if !s.ok || nodes <= 0 {
		return 0, false
	}
	end, ok2 := r.readMicrojoules()
	if !ok2 || end < s.start {
		return 0, false
	}
	return float64(end-s.start) / 1e6 / float64(nodes), true
}
