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

package sort

import "testing"

func TestIsSortedAsc(t *testing.T) {
	cases := []struct {
		name string
		seq  []uint64
		want bool
	}{
		{"empty", nil, true},
		{"single", []uint64{5}, true},
		{"ascending", []uint64{1, 2, 2, 3}, true},
		{"descending", []uint64{3, 2, 1}, false},
		{"dip in middle", []uint64{1, 5, 3, 7}, false},
		{"all equal", []uint64{4, 4, 4}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsSortedAsc(c.seq); got != c.want {
				t.Errorf("IsSortedAsc(%v) = %v, want %v", c.seq, got, c.want)
			}
		})
	}
}

func TestIsSortedDesc(t *testing.T) {
	cases := []struct {
		name string
		seq  []uint64
		want bool
	}{
		{"empty", nil, true},
		{"descending", []uint64{9, 5, 5, 1}, true},
		{"ascending", []uint64{1, 2, 3}, false},
		{"rise in middle", []uint64{9, 2, 7}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsSortedDesc(c.seq); got != c.want {
				t.Errorf("IsSortedDesc(%v) = %v, want %v", c.seq, got, c.want)
			}
		})
	}
}
