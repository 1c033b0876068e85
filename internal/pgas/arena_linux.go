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

//go:build linux
// +build linux

package pgas

import "golang.org/x/sys/unix"

// newArena backs a rank's symmetric region with an anonymous mmap rather
// than a plain make([]byte, n) allocation, so the emulated symmetric
// heap is a distinct memory mapping per allocation the way a real PGAS
// runtime's registered memory would be, instead of ordinary
// garbage-collector-managed heap.
func newArena(n int64) ([]byte, error) {
	if n == 0 {
		// mmap of length 0 fails on Linux; treat it as a valid
		// empty arena instead (e.g. the count array on a fleet
		// with zero ranks can never happen, but an empty Alloc
		// call should not need special-casing by callers).
		return []byte{}, nil
	}
	return unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
}

func freeArena(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return unix.Munmap(buf)
}
