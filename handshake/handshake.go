// Package handshake serializes and parses the fixed-shape BitTorrent
// handshake frame that opens every peer connection.
package handshake

import (
	"fmt"
	"io"

	"github.com/arakawa-dl/gorent/errs"
)

// Pstr is the protocol identifier this implementation sends. Peers that
// answer with a different string are still accepted; only the info hash is
// validated (see client.Client).
const Pstr = "BitTorrent protocol"

// Handshake is the handshake frame: 1 byte pstrlen, pstrlen bytes protocol
// id, 8 reserved bytes, a 20-byte info hash, and a 20-byte peer id.
type Handshake struct {
	Pstr     string
	InfoHash [20]byte
	PeerID   [20]byte
}

// New builds a Handshake using this implementation's protocol id.
func New(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{
		Pstr:     Pstr,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
}

// Serialize encodes the handshake frame for writing to a peer connection.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, len(h.Pstr)+49)
	buf[0] = byte(len(h.Pstr))
	cur := 1
	cur += copy(buf[cur:], h.Pstr)
	cur += copy(buf[cur:], make([]byte, 8)) // reserved, zero on send
	cur += copy(buf[cur:], h.InfoHash[:])
	copy(buf[cur:], h.PeerID[:])
	return buf
}

// Read parses a handshake frame from r. pstrlen == 0 or a short read of the
// frame is a Protocol error.
func Read(r io.Reader) (*Handshake, error) {
	lenBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, errs.FromRead(fmt.Errorf("reading pstrlen: %w", err))
	}
	pstrlen := int(lenBuf[0])
	if pstrlen == 0 {
		return nil, errs.New(errs.Protocol, fmt.Errorf("pstrlen cannot be 0"))
	}

	rest := make([]byte, pstrlen+48)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, errs.FromRead(fmt.Errorf("reading handshake body: %w", err))
	}

	var h Handshake
	h.Pstr = string(rest[0:pstrlen])
	cur := pstrlen + 8 // skip reserved bytes
	copy(h.InfoHash[:], rest[cur:cur+20])
	cur += 20
	copy(h.PeerID[:], rest[cur:cur+20])

	return &h, nil
}
