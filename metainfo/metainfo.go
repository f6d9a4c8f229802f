// Package metainfo parses a bencoded single-file torrent metainfo document
// into a TorrentDescriptor: the read-only facts the rest of the downloader
// needs (info-hash, piece hashes, piece length, total length, output name).
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"

	"github.com/arakawa-dl/gorent/errs"
	"github.com/jackpal/bencode-go"
)

const hashLen = 20

// bencodeInfo mirrors the metainfo "info" dictionary for a single-file
// torrent. Multi-file torrents (a "files" list instead of "length") are out
// of scope.
type bencodeInfo struct {
	Pieces      string `bencode:"pieces"`
	PieceLength int    `bencode:"piece length"`
	Length      int    `bencode:"length"`
	Name        string `bencode:"name"`
}

// bencodeMetainfo mirrors the top-level metainfo dictionary.
type bencodeMetainfo struct {
	Announce string      `bencode:"announce"`
	Info     bencodeInfo `bencode:"info"`
}

// TorrentDescriptor is the read-only view of a parsed metainfo document
// consumed by the tracker client and the work engine.
type TorrentDescriptor struct {
	Announce    string
	InfoHash    [20]byte
	PieceHashes [][20]byte
	PieceLength int
	TotalLength int
	Name        string
}

// PieceCount returns the number of pieces described by the descriptor.
func (d *TorrentDescriptor) PieceCount() int { return len(d.PieceHashes) }

// PieceLengthAt returns the length of piece index: PieceLength for every
// piece but the last, which is truncated to the remainder of TotalLength.
func (d *TorrentDescriptor) PieceLengthAt(index int) int {
	begin := index * d.PieceLength
	end := begin + d.PieceLength
	if end > d.TotalLength {
		end = d.TotalLength
	}
	return end - begin
}

// Parse reads a bencoded metainfo document from r and adapts it into a
// TorrentDescriptor. Fails with a ConfigError if the document is malformed
// or the piece hash string is not a multiple of 20 bytes.
func Parse(r io.Reader) (*TorrentDescriptor, error) {
	var raw bencodeMetainfo
	if err := bencode.Unmarshal(r, &raw); err != nil {
		return nil, errs.New(errs.Config, fmt.Errorf("decoding metainfo: %w", err))
	}

	infoHash, err := hashInfoDict(raw.Info)
	if err != nil {
		return nil, err
	}

	pieceHashes, err := splitPieceHashes(raw.Info.Pieces)
	if err != nil {
		return nil, err
	}

	return &TorrentDescriptor{
		Announce:    raw.Announce,
		InfoHash:    infoHash,
		PieceHashes: pieceHashes,
		PieceLength: raw.Info.PieceLength,
		TotalLength: raw.Info.Length,
		Name:        raw.Info.Name,
	}, nil
}

// hashInfoDict re-encodes the info dictionary exactly as it was decoded and
// takes its SHA-1, which is the torrent's identity.
func hashInfoDict(info bencodeInfo) ([20]byte, error) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, info); err != nil {
		return [20]byte{}, errs.New(errs.Config, fmt.Errorf("re-encoding info dict: %w", err))
	}
	return sha1.Sum(buf.Bytes()), nil
}

func splitPieceHashes(pieces string) ([][20]byte, error) {
	data := []byte(pieces)
	if len(data)%hashLen != 0 {
		return nil, errs.New(errs.Config, fmt.Errorf("malformed pieces string: %d bytes is not a multiple of %d", len(data), hashLen))
	}

	n := len(data) / hashLen
	hashes := make([][20]byte, n)
	for i := 0; i < n; i++ {
		copy(hashes[i][:], data[i*hashLen:(i+1)*hashLen])
	}
	return hashes, nil
}
