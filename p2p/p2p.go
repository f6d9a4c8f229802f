// Package p2p implements the piece downloader and the work-distribution
// engine: it fans a sequence of piece jobs out across peer workers,
// pipelines block requests within one piece, and collects verified piece
// buffers on a result channel.
package p2p

import (
	"fmt"
	"log"
	"time"

	"github.com/arakawa-dl/gorent/client"
	"github.com/arakawa-dl/gorent/errs"
	"github.com/arakawa-dl/gorent/integrity"
	"github.com/arakawa-dl/gorent/message"
	"github.com/arakawa-dl/gorent/peer"
)

const (
	// BlockSize is the largest number of bytes a single REQUEST can ask for.
	BlockSize = 16 * 1024
	// MaxBacklog is the number of unfulfilled requests a worker keeps in
	// flight against one peer for one piece.
	MaxBacklog = 5
	// ReadStepTimeout bounds each message read during a piece download.
	ReadStepTimeout = 30 * time.Second
)

// PieceJob is one unit of work: the piece to fetch, its expected hash, and
// its length. Jobs flow through the work queue by value and may be
// requeued unchanged after a worker failure.
type PieceJob struct {
	Index        int
	ExpectedHash [20]byte
	Length       int
}

// PieceResult is a verified piece buffer, ready for the assembler.
type PieceResult struct {
	Index  int
	Buffer []byte
}

// inFlight tracks one piece download attempt against one peer session. It
// is local to downloadPiece and never outlives it.
type inFlight struct {
	index      int
	buf        []byte
	downloaded int
	requested  int
	backlog    int
}

// downloadPiece drives job to completion over c using the bounded
// block-request pipeline, then verifies its SHA-1 hash.
func downloadPiece(c *client.Client, job PieceJob) ([]byte, error) {
	state := &inFlight{index: job.Index, buf: make([]byte, job.Length)}
	defer c.Conn.SetDeadline(time.Time{})

	for state.downloaded < job.Length {
		if !c.Choked {
			for state.backlog < MaxBacklog && state.requested < job.Length {
				size := BlockSize
				if job.Length-state.requested < size {
					size = job.Length - state.requested
				}
				if err := c.SendRequest(job.Index, state.requested, size); err != nil {
					return nil, err
				}
				state.backlog++
				state.requested += size
			}
		}

		if err := c.Conn.SetDeadline(time.Now().Add(ReadStepTimeout)); err != nil {
			return nil, errs.New(errs.IO, err)
		}

		if err := state.readStep(c); err != nil {
			return nil, err
		}
	}

	if err := integrity.Verify(state.buf, job.ExpectedHash); err != nil {
		return nil, err
	}

	return state.buf, nil
}

// readStep reads one message and applies its effect on the piece being
// assembled. CHOKE/UNCHOKE/HAVE/BITFIELD are applied to c by
// ReadAndUpdate; a mismatched-index PIECE is discarded silently.
func (state *inFlight) readStep(c *client.Client) error {
	msg, err := c.ReadAndUpdate()
	if err != nil {
		return err
	}
	if msg == nil || msg.ID != message.Piece {
		return nil
	}

	n, err := msg.ParsePiece(state.index, state.buf)
	if err != nil {
		if message.IsMismatchedIndex(err) {
			return nil
		}
		return err
	}
	state.downloaded += n
	state.backlog--
	return nil
}

// startWorker opens a session against addr, drains jobs from workQueue, and
// pushes verified results onto results. It never blocks the caller: it is
// meant to run in its own goroutine and returns when the work queue is
// closed and empty, or when the session fails.
func startWorker(addr peer.Address, peerID, infoHash [20]byte, workQueue chan PieceJob, results chan<- PieceResult) {
	c, err := client.New(addr, peerID, infoHash)
	if err != nil {
		log.Printf("info: peer %s: handshake failed, disconnecting: %v", addr, err)
		return
	}
	defer c.Close()

	lastSkipped := -1

	for job := range workQueue {
		if !c.HasPiece(job.Index) {
			workQueue <- job
			if job.Index == lastSkipped {
				return
			}
			lastSkipped = job.Index
			continue
		}

		if err := c.SendInterested(); err != nil {
			log.Printf("info: peer %s: %v", addr, err)
			workQueue <- job
			return
		}
		if err := awaitUnchoke(c); err != nil {
			log.Printf("info: peer %s: %v", addr, err)
			workQueue <- job
			return
		}

		buf, err := downloadPiece(c, job)
		if err != nil {
			if errs.Is(err, errs.Integrity) {
				log.Printf("warn: peer %s: piece #%d failed integrity check", addr, job.Index)
			} else {
				log.Printf("info: peer %s: %v", addr, err)
			}
			workQueue <- job
			return
		}

		// Best-effort: the peer is not required to act on this, and a
		// send failure here does not invalidate the piece we just got.
		_ = c.SendHave(job.Index)

		results <- PieceResult{Index: job.Index, Buffer: buf}
	}
}

// awaitUnchoke reads messages until the session is unchoked, each read
// bounded by ReadStepTimeout. A peer that goes silent after the handshake
// fails the job instead of parking the worker in an unbounded read forever.
func awaitUnchoke(c *client.Client) error {
	return awaitUnchokeWithin(c, ReadStepTimeout)
}

// awaitUnchokeWithin is awaitUnchoke parameterized on the per-read-step
// deadline, so tests can exercise the timeout path without waiting out the
// production ReadStepTimeout.
func awaitUnchokeWithin(c *client.Client, timeout time.Duration) error {
	defer c.Conn.SetDeadline(time.Time{})
	for c.Choked {
		if err := c.Conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return errs.New(errs.IO, err)
		}
		if _, err := c.ReadAndUpdate(); err != nil {
			return err
		}
	}
	return nil
}

// Download runs the work engine to completion: it seeds one job per piece,
// spawns one worker per peer address, and returns PieceResults in whatever
// order they complete, via the returned channel. The channel is closed
// after len(jobs) results have been produced.
func Download(addrs []peer.Address, peerID, infoHash [20]byte, jobs []PieceJob) (<-chan PieceResult, error) {
	if len(addrs) == 0 {
		return nil, errs.New(errs.NoPeers, fmt.Errorf("no peer addresses to connect to"))
	}

	workQueue := make(chan PieceJob, len(jobs))
	for _, job := range jobs {
		workQueue <- job
	}

	collected := make(chan PieceResult, len(jobs))
	out := make(chan PieceResult, len(jobs))

	for _, addr := range addrs {
		go startWorker(addr, peerID, infoHash, workQueue, collected)
	}

	go func() {
		defer close(out)
		defer close(workQueue)
		for i := 0; i < len(jobs); i++ {
			out <- <-collected
		}
	}()

	return out, nil
}
