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

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
)

// opcode identifies the remote-memory operation carried by a frame.
type opcode byte

const (
	opPut opcode = iota + 1
	opGet
	opIPut
	opIGet
	opPutScalar
	opGetScalar
	opCollectEnter
	opCollectResult
)

// frame is the wire representation of one request or response. Control
// frames (strided put/get, used to move the B*P count/starts arrays)
// are compressed with s2 because those arrays are long runs of small
// repeated integers; per-record frames (opPut/opGet in the direct
// shuffle) are left uncompressed because 16 bytes of (key, value) is
// effectively incompressible entropy and the s2 framing overhead would
// only cost cycles.
type frame struct {
	op         opcode
	compressed bool
	payload    []byte
}

func writeFrame(w io.Writer, f frame) error {
	var hdr [6]byte
	hdr[0] = byte(f.op)
	hdr[1] = 0
	if f.compressed {
		hdr[1] = 1
	}
	binary.BigEndian.PutUint32(hdr[2:], uint32(len(f.payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("pgas: writing frame header: %w", err)
	}
	if len(f.payload) == 0 {
		return nil
	}
	_, err := w.Write(f.payload)
	return err
}

func readFrame(r io.Reader) (frame, error) {
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return frame{}, err
	}
	n := binary.BigEndian.Uint32(hdr[2:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return frame{}, fmt.Errorf("pgas: reading frame payload: %w", err)
		}
	}
	return frame{op: opcode(hdr[0]), compressed: hdr[1] != 0, payload: payload}, nil
}

// compressControl wraps a control-plane payload (count/starts array
// fragments) with s2, the same streaming compressor the teacher uses
// for on-disk segment compression, repurposed here for wire framing.
func compressControl(b []byte) []byte {
	return s2.Encode(nil, b)
}

func decompressControl(b []byte) ([]byte, error) {
	return s2.Decode(nil, b)
}
