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

// Command fleetsort drives a distributed LSD radix sort of a randomly
// generated sequence of records, either as a single process emulating
// a fleet of goroutines (--transport local, the default, needing no
// external launcher) or as one rank of a real multi-process fleet
// (--transport net, launched once per rank with FLEETSORT_RANK /
// FLEETSORT_NRANKS set and a --peers manifest or DNS name supplied).
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetsort/fleetsort/internal/distarray"
	"github.com/fleetsort/fleetsort/internal/energy"
	"github.com/fleetsort/fleetsort/internal/fleet"
	"github.com/fleetsort/fleetsort/internal/pgas"
	"github.com/fleetsort/fleetsort/radixsort"
)

const defaultLocalRanks = 4

func fatalf(f string, args ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", args...)
	os.Exit(1)
}

func main() {
	var (
		n          int64
		print      bool
		verify     bool
		noVerify   bool
		transport  string
		shuffleOpt string
		radixBits  int
		peers      string
		port       int
	)
	flag.Int64Var(&n, "n", 100_000_000, "problem size in records")
	flag.BoolVar(&print, "print", false, "sample and print source and result arrays")
	flag.BoolVar(&verify, "verify", true, "run post-sort verification")
	flag.BoolVar(&noVerify, "no-verify", false, "skip verification (overrides --verify)")
	flag.StringVar(&transport, "transport", "local", "symmetric-memory backend: local|net")
	flag.StringVar(&shuffleOpt, "shuffle", "direct", "shuffle delivery strategy: direct|conveyor")
	flag.IntVar(&radixBits, "radix-bits", 16, "R, the radix bit-width")
	flag.StringVar(&peers, "peers", "", "net transport only: YAML peer manifest path or headless-service DNS name")
	flag.IntVar(&port, "port", 8001, "net transport only: port every rank listens on")
	flag.Parse()

	if noVerify {
		verify = false
	}
	if n < 0 {
		flag.Usage()
		fatalf("usage: --n must be >= 0")
	}

	params, err := radixsort.NewParams(radixBits)
	if err != nil {
		fatalf("%s", err)
	}
	switch shuffleOpt {
	case "direct":
		params.Strategy = radixsort.Direct
	case "conveyor":
		params.Strategy = radixsort.Conveyor
	default:
		fatalf("fleetsort: unknown --shuffle %q", shuffleOpt)
	}

	runID := fleet.NewRunID()

	switch transport {
	case "local":
		runLocal(n, print, verify, params, runID)
	case "net":
		runNet(n, print, verify, params, runID, peers, port)
	default:
		fatalf("fleetsort: unknown --transport %q", transport)
	}
}

func runLocal(n int64, print, verify bool, params radixsort.Params, runID uuid.UUID) {
	nranks := fleet.LocalNRanks(defaultLocalRanks)
	fleetAlloc := pgas.NewLocal(nranks)

	var wg sync.WaitGroup
	wg.Add(nranks)
	for r := 0; r < nranks; r++ {
		r := r
		go func() {
			defer wg.Done()
			alloc := fleetAlloc.Rank(r)
			logger := log.New(os.Stderr, fmt.Sprintf("[%v rank=%d] ", runID, r), log.LstdFlags)
			params := params
			params.Log = loggerAdapter{logger}
			run(alloc, params, n, print, verify, r == 0)
		}()
	}
	wg.Wait()
}

func runNet(n int64, print, verify bool, params radixsort.Params, runID uuid.UUID, peers string, port int) {
	rank, nranks, ok := fleet.RankEnv()
	if !ok {
		fatalf("fleetsort: --transport net requires FLEETSORT_RANK and FLEETSORT_NRANKS")
	}
	if peers == "" {
		fatalf("fleetsort: --transport net requires --peers")
	}
	var key pgas.ClusterKey
	net, err := fleet.DialNet(rank, nranks, peers, port, key, 30*time.Second)
	if err != nil {
		fatalf("fleetsort: dialing net fleet: %s", err)
	}
	logger := log.New(os.Stderr, fmt.Sprintf("[%v rank=%d] ", runID, rank), log.LstdFlags)
	params.Log = loggerAdapter{logger}
	run(net, params, n, print, verify, rank == 0)
}

// loggerAdapter satisfies internal/fleet.Logger with a standard
// library *log.Logger, the way cmd/fleetsort wires a concrete backend
// for packages that otherwise only depend on the narrow interface.
type loggerAdapter struct{ l *log.Logger }

func (a loggerAdapter) Printf(format string, args ...any) { a.l.Printf(format, args...) }

func run(alloc pgas.Allocator, params radixsort.Params, n int64, print, verify bool, report bool) {
	genStart := time.Now()
	a, err := distarray.Create[radixsort.Record](alloc, "a", n, radixsort.DecodeRecord)
	if err != nil {
		fatalf("fleetsort: allocating array a: %s", err)
	}
	defer a.Destroy()
	b, err := distarray.Create[radixsort.Record](alloc, "b", n, radixsort.DecodeRecord)
	if err != nil {
		fatalf("fleetsort: allocating array b: %s", err)
	}
	defer b.Destroy()

	rng := rand.New(rand.NewSource(int64(alloc.MyRank()) + 1))
	local := a.Local()
	h := a.Len()
	for i := int64(0); i < h; i++ {
		local[i] = radixsort.Record{Key: rng.Uint64(), Value: uint64(a.Global(int(i)))}
	}
	if err := a.Flush(); err != nil {
		fatalf("fleetsort: flushing generated records: %s", err)
	}
	alloc.BarrierAll()
	genElapsed := time.Since(genStart)

	if print && report {
		printSample("source", a)
	}

	energyReader := energy.Reader{}
	sample := energyReader.Begin()

	if report {
		fmt.Printf("fleet size: %d\n", alloc.NRanks())
		fmt.Printf("problem size: %d records\n", n)
		fmt.Printf("generation time: %s\n", genElapsed)
		fmt.Println("Sorting")
	}

	sortStart := time.Now()
	if err := radixsort.Sort(alloc, a, b, params); err != nil {
		fatalf("fleetsort: sort: %s", err)
	}
	sortElapsed := time.Since(sortStart)

	if report {
		fmt.Printf("sort time: %s\n", sortElapsed)
		throughput := float64(n) / sortElapsed.Seconds() / 1e6
		fmt.Printf("throughput: %.3f M elements / s\n", throughput)
	}

	if print && report {
		printSample("result", a)
	}

	if verify {
		ok, err := radixsort.Verify(alloc, a)
		if err != nil {
			fatalf("fleetsort: verify: %s", err)
		}
		if report {
			if ok {
				fmt.Println("Array is sorted")
			} else {
				fmt.Println("Array is NOT sorted")
			}
		}
		if joules, ok := sample.End(energyReader, alloc.NRanks()); ok && report {
			fmt.Fprintf(os.Stderr, "Energy: %.3f\n", joules)
		}
		if !ok {
			os.Exit(1)
		}
		return
	}

	if joules, ok := sample.End(energyReader, alloc.NRanks()); ok && report {
		fmt.Fprintf(os.Stderr, "Energy: %.3f\n", joules)
	}
}

const sampleStride = 997

func printSample(label string, a *distarray.Array[radixsort.Record]) {
	local := a.Local()
	h := a.Len()
	fmt.Printf("%s sample (rank 0, every %dth record):\n", label, sampleStride)
	for i := int64(0); i < h; i += sampleStride {
		fmt.Printf("  [%d] key=%d value=%d\n", a.Global(int(i)), local[i].Key, local[i].Value)
	}
}
