// Command gorent downloads a single-file torrent described by a metainfo
// file on the local disk: contact the tracker, pull pieces from the peer
// swarm, verify each one, and assemble the output file.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/arakawa-dl/gorent/assembler"
	"github.com/arakawa-dl/gorent/metainfo"
	"github.com/arakawa-dl/gorent/p2p"
	"github.com/arakawa-dl/gorent/tracker"
	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"
)

// localPort is advertised to the tracker. This implementation never
// accepts incoming connections, so the value is nominal.
const localPort = 6881

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <metainfo-file>\n", os.Args[0])
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(flag.Arg(0)); err != nil {
		colorstring.Fprintf(os.Stderr, "[red]gorent: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening metainfo: %w", err)
	}
	defer f.Close()

	desc, err := metainfo.Parse(f)
	if err != nil {
		return fmt.Errorf("parsing metainfo: %w", err)
	}

	peerID := generatePeerID()

	colorstring.Printf("[blue]contacting tracker for %s[reset]\n", desc.Name)
	addrs, err := tracker.RequestPeers(desc.Announce, desc.InfoHash, peerID, desc.TotalLength, localPort)
	if err != nil {
		return fmt.Errorf("requesting peers: %w", err)
	}
	log.Printf("tracker returned %d peers", len(addrs))

	jobs := make([]p2p.PieceJob, desc.PieceCount())
	for i := range jobs {
		jobs[i] = p2p.PieceJob{
			Index:        i,
			ExpectedHash: desc.PieceHashes[i],
			Length:       desc.PieceLengthAt(i),
		}
	}

	results, err := p2p.Download(addrs, peerID, desc.InfoHash, jobs)
	if err != nil {
		return fmt.Errorf("starting download: %w", err)
	}

	out, err := assembler.Create(desc.Name, int64(desc.TotalLength), desc.PieceLength)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}

	bar := progressbar.Default(int64(desc.PieceCount()), desc.Name)
	err = assembler.Drain(out, results, desc.PieceCount(), func(p2p.PieceResult) {
		bar.Add(1)
	})
	if err != nil {
		return fmt.Errorf("assembling output file: %w", err)
	}

	colorstring.Printf("[green]saved %s[reset]\n", desc.Name)
	return nil
}

// generatePeerID produces an Azureus-style peer id: a two-letter client
// tag, a four-digit version, and 12 random bytes.
func generatePeerID() [20]byte {
	var id [20]byte
	copy(id[:], "-GR0001-")
	rand.Read(id[8:])
	return id
}
