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
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/dchest/siphash"
	"golang.org/x/crypto/blake2b"
)

// ClusterKey authenticates connections within one fleetsort run: every
// rank is launched with the same 256-bit key (out of band, by whatever
// launcher started the fleet) and uses it to answer a siphash challenge
// at connection setup. This reuses the teacher's siphash-for-partitioning
// trick (Splitter.partition hashed blob ETags to pick a peer) for a
// different purpose: here the hash authenticates a peer rather than
// routing to one.
type ClusterKey [32]byte

func (k ClusterKey) sipKeys() (uint64, uint64) {
	return binary.LittleEndian.Uint64(k[0:8]), binary.LittleEndian.Uint64(k[8:16])
}

// digest binds the challenge to the full cluster key with blake2b,
// mirroring the teacher's use of golang.org/x/crypto for credential
// material in elasticproxy/proxy_http/cryptbytes.go (there: encrypting
// an API key; here: keying a handshake MAC) so a bare siphash reply
// alone isn't sufficient to impersonate a peer holding only the low 16
// bytes of the key.
func (k ClusterKey) digest(challenge []byte) ([]byte, error) {
	mac, err := blake2b.New256(k[:])
	if err != nil {
		return nil, fmt.Errorf("pgas: building handshake digest: %w", err)
	}
	mac.Write(challenge)
	return mac.Sum(nil), nil
}

// serverHandshake is run by the rank accepting a connection: it issues
// a random challenge, expects back a siphash of the challenge (proof
// the dialer has low_128(key)) and a blake2b digest (proof it has the
// full key), and fails the connection otherwise.
func serverHandshake(conn net.Conn, key ClusterKey) error {
	challenge := make([]byte, 16)
	if _, err := rand.Read(challenge); err != nil {
		return err
	}
	if _, err := conn.Write(challenge); err != nil {
		return err
	}
	k0, k1 := key.sipKeys()
	want := siphash.Hash(k0, k1, challenge)
	wantDigest, err := key.digest(challenge)
	if err != nil {
		return err
	}
	var reply [8]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return fmt.Errorf("pgas: reading handshake reply: %w", err)
	}
	gotDigest := make([]byte, len(wantDigest))
	if _, err := io.ReadFull(conn, gotDigest); err != nil {
		return fmt.Errorf("pgas: reading handshake digest: %w", err)
	}
	got := binary.LittleEndian.Uint64(reply[:])
	if got != want {
		return fmt.Errorf("pgas: handshake siphash mismatch")
	}
	for i := range wantDigest {
		if gotDigest[i] != wantDigest[i] {
			return fmt.Errorf("pgas: handshake digest mismatch")
		}
	}
	return nil
}

// clientHandshake is run by the rank dialing out.
func clientHandshake(conn net.Conn, key ClusterKey) error {
	challenge := make([]byte, 16)
	if _, err := io.ReadFull(conn, challenge); err != nil {
		return fmt.Errorf("pgas: reading handshake challenge: %w", err)
	}
	k0, k1 := key.sipKeys()
	sum := siphash.Hash(k0, k1, challenge)
	var reply [8]byte
	binary.LittleEndian.PutUint64(reply[:], sum)
	if _, err := conn.Write(reply[:]); err != nil {
		return err
	}
	digest, err := key.digest(challenge)
	if err != nil {
		return err
	}
	_, err = conn.Write(digest)
	return err
}
