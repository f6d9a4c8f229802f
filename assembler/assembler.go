// Package assembler writes verified piece buffers to their correct offsets
// in a single output file, opened once for random-access writing.
package assembler

import (
	"fmt"
	"os"

	"github.com/arakawa-dl/gorent/errs"
	"github.com/arakawa-dl/gorent/p2p"
)

// Assembler owns the output file handle for the duration of one download.
// It is single-threaded relative to its caller: Write must not be called
// concurrently from more than one goroutine.
type Assembler struct {
	file        *os.File
	pieceLength int
}

// Create opens (or truncates) name for random-access writing, sized to
// totalLength, ready to receive piece writes at index*pieceLength.
func Create(name string, totalLength int64, pieceLength int) (*Assembler, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errs.New(errs.IO, err)
	}
	if err := f.Truncate(totalLength); err != nil {
		f.Close()
		return nil, errs.New(errs.IO, err)
	}
	return &Assembler{file: f, pieceLength: pieceLength}, nil
}

// Write persists one verified piece result at its file offset. Results may
// arrive out of order; each write is independent of the others.
func (a *Assembler) Write(res p2p.PieceResult) error {
	offset := int64(res.Index) * int64(a.pieceLength)
	if _, err := a.file.WriteAt(res.Buffer, offset); err != nil {
		return errs.New(errs.IO, fmt.Errorf("writing piece %d: %w", res.Index, err))
	}
	return nil
}

// Close closes the output file. Call once all pieces have been written.
func (a *Assembler) Close() error {
	if err := a.file.Close(); err != nil {
		return errs.New(errs.IO, err)
	}
	return nil
}

// Drain consumes results from results, writing each to disk, until
// wantCount pieces have landed or results is closed early. It closes the
// assembler's file before returning. onWritten, if non-nil, is called after
// each successful write so a caller can drive a progress indicator.
func Drain(a *Assembler, results <-chan p2p.PieceResult, wantCount int, onWritten func(p2p.PieceResult)) error {
	defer a.Close()
	written := 0
	for res := range results {
		if err := a.Write(res); err != nil {
			return err
		}
		written++
		if onWritten != nil {
			onWritten(res)
		}
		if written == wantCount {
			return nil
		}
	}
	return errs.New(errs.IO, fmt.Errorf("result channel closed after %d/%d pieces", written, wantCount))
}
