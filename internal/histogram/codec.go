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

// Package histogram implements the Count/Transpose and Reverse
// Transpose steps the radix sort's shuffle uses to turn per-rank bin
// counts into fleet-wide starting offsets and back.
package histogram

import "encoding/binary"

// pairRecord is the fixed 16-byte {index, value} record conveyed by
// both the count-transpose and reverse-transpose aggregated
// realizations.
const pairRecordSize = 16

func encodePair(a, b int64) []byte {
	buf := make([]byte, pairRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(a))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(b))
	return buf
}

func decodePair(buf []byte) (a, b int64) {
	a = int64(binary.LittleEndian.Uint64(buf[0:8]))
	b = int64(binary.LittleEndian.Uint64(buf[8:16]))
	return a, b
}
