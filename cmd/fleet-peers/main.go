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

// Command fleet-peers resolves a Kubernetes headless Service for a
// fleetsort StatefulSet into the sorted, rank-ordered peer list
// internal/fleet's pgas.Net bootstrap expects in its --peers file:
// each pod's IP, sorted, becomes rank 0..P-1 in order.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"sort"
	"time"
)

const maxWaitForHost = 10 * time.Second

var (
	headlessServiceName string
	portnum             int
)

func init() {
	flag.StringVar(&headlessServiceName, "s", "", "headless service name")
	flag.IntVar(&portnum, "p", 8001, "fixed port number every rank listens on")
}

type peerDesc struct {
	Addr string `json:"addr"`
}

type peerManifest struct {
	Peers []peerDesc `json:"peers"`
}

func main() {
	flag.Parse()
	if headlessServiceName == "" {
		flag.Usage()
		os.Exit(1)
	}

	start := time.Now()
retry:
	ips, err := net.LookupIP(headlessServiceName)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound && time.Since(start) < maxWaitForHost {
			time.Sleep(250 * time.Millisecond)
			goto retry
		}
		fmt.Fprintf(os.Stderr, "net.LookupIP(%q): %s\n", headlessServiceName, err)
		os.Exit(1)
	}

	addrs := make([]*net.TCPAddr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: portnum})
	}

	// Sort by IP so that every pod running this binary against the same
	// Service derives the identical rank assignment without a separate
	// coordination step.
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i].IP, addrs[j].IP) < 0
	})

	var manifest peerManifest
	for _, a := range addrs {
		manifest.Peers = append(manifest.Peers, peerDesc{Addr: a.String()})
	}
	if err := json.NewEncoder(os.Stdout).Encode(&manifest); err != nil {
		fmt.Fprintf(os.Stderr, "encoding peer manifest: %s\n", err)
		os.Exit(1)
	}
}
