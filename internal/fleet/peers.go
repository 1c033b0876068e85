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
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"time"

	"sigs.k8s.io/yaml"
)

// peerDesc and peerManifest mirror the JSON cmd/fleet-peers emits;
// sigs.k8s.io/yaml parses that JSON directly since JSON is a YAML
// subset, so a static on-disk manifest and fleet-peers' stdout are
// interchangeable inputs to --peers.
type peerDesc struct {
	Addr string `json:"addr"`
}

type peerManifest struct {
	Peers []peerDesc `json:"peers"`
}

const dnsWaitTimeout = 10 * time.Second

// LoadPeers resolves the --peers argument into a rank-ordered list of
// dial addresses. source is tried as a manifest file path first; if it
// doesn't exist, it's treated as a headless-service DNS name and
// resolved the same way cmd/fleet-peers does (LookupIP, sorted by IP,
// combined with port).
func LoadPeers(source string, port int) ([]string, error) {
	if data, err := os.ReadFile(source); err == nil {
		var m peerManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("fleet: parsing peer manifest %q: %w", source, err)
		}
		addrs := make([]string, len(m.Peers))
		for i, p := range m.Peers {
			addrs[i] = p.Addr
		}
		return addrs, nil
	}
	return resolveDNS(source, port)
}

func resolveDNS(name string, port int) ([]string, error) {
	start := time.Now()
	var ips []net.IP
	for {
		var err error
		ips, err = net.LookupIP(name)
		if err == nil {
			break
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound && time.Since(start) < dnsWaitTimeout {
			time.Sleep(250 * time.Millisecond)
			continue
		}
		return nil, fmt.Errorf("fleet: net.LookupIP(%q): %w", name, err)
	}

	tcpAddrs := make([]*net.TCPAddr, 0, len(ips))
	for _, ip := range ips {
		tcpAddrs = append(tcpAddrs, &net.TCPAddr{IP: ip, Port: port})
	}
	sort.Slice(tcpAddrs, func(i, j int) bool {
		return bytes.Compare(tcpAddrs[i].IP, tcpAddrs[j].IP) < 0
	})

	addrs := make([]string, len(tcpAddrs))
	for i, a := range tcpAddrs {
		addrs[i] = a.String()
	}
	return addrs, nil
}
