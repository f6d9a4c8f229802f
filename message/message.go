// Package message implements the length-prefixed peer wire protocol: framing
// and typed encode/decode for the 9 BitTorrent message ids plus the id-less
// keep-alive.
package message

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/arakawa-dl/gorent/errs"
)

// ID identifies a message kind on the wire.
type ID uint8

const (
	Choke         ID = 0
	Unchoke       ID = 1
	Interested    ID = 2
	NotInterested ID = 3
	Have          ID = 4
	Bitfield      ID = 5
	Request       ID = 6
	Piece         ID = 7
	Cancel        ID = 8
)

func (id ID) String() string {
	switch id {
	case Choke:
		return "Choke"
	case Unchoke:
		return "Unchoke"
	case Interested:
		return "Interested"
	case NotInterested:
		return "NotInterested"
	case Have:
		return "Have"
	case Bitfield:
		return "Bitfield"
	case Request:
		return "Request"
	case Piece:
		return "Piece"
	case Cancel:
		return "Cancel"
	default:
		return fmt.Sprintf("Unknown#%d", uint8(id))
	}
}

// Message is a single framed peer message. A nil *Message represents a
// KEEP-ALIVE, which carries no id or payload.
type Message struct {
	ID      ID
	Payload []byte
}

// New builds a fixed, payload-less message (Choke, Unchoke, Interested, or
// NotInterested).
func New(id ID) *Message { return &Message{ID: id} }

// NewRequest builds a REQUEST message for a block of a piece.
func NewRequest(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: Request, Payload: payload}
}

// NewCancel builds a CANCEL message, identical in shape to REQUEST.
func NewCancel(index, begin, length int) *Message {
	m := NewRequest(index, begin, length)
	m.ID = Cancel
	return m
}

// NewHave builds a HAVE message announcing possession of piece index.
func NewHave(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: Have, Payload: payload}
}

// NewBitfield builds a BITFIELD message carrying a raw bitfield payload.
func NewBitfield(payload []byte) *Message {
	return &Message{ID: Bitfield, Payload: payload}
}

// Have parses a HAVE message's piece index.
func (m *Message) Have() (int, error) {
	if m.ID != Have {
		return 0, errs.New(errs.Protocol, fmt.Errorf("expected HAVE, got %s", m.ID))
	}
	if len(m.Payload) != 4 {
		return 0, errs.New(errs.Protocol, fmt.Errorf("HAVE payload length %d, want 4", len(m.Payload)))
	}
	return int(binary.BigEndian.Uint32(m.Payload)), nil
}

// BlockRequest describes a decoded REQUEST or CANCEL payload.
type BlockRequest struct {
	Index, Begin, Length int
}

// AsRequest parses a REQUEST or CANCEL message's payload.
func (m *Message) AsRequest() (BlockRequest, error) {
	if m.ID != Request && m.ID != Cancel {
		return BlockRequest{}, errs.New(errs.Protocol, fmt.Errorf("expected REQUEST or CANCEL, got %s", m.ID))
	}
	if len(m.Payload) != 12 {
		return BlockRequest{}, errs.New(errs.Protocol, fmt.Errorf("%s payload length %d, want 12", m.ID, len(m.Payload)))
	}
	return BlockRequest{
		Index:  int(binary.BigEndian.Uint32(m.Payload[0:4])),
		Begin:  int(binary.BigEndian.Uint32(m.Payload[4:8])),
		Length: int(binary.BigEndian.Uint32(m.Payload[8:12])),
	}, nil
}

// ParsePiece validates and copies a PIECE message's block into buf at its
// begin offset, returning the number of bytes copied. expectedIndex lets the
// downloader silently discard blocks for a different piece (a peer may be
// multiplexing outstanding requests across pieces); a mismatched index is
// reported, not treated as fatal, by the caller.
func (m *Message) ParsePiece(expectedIndex int, buf []byte) (int, error) {
	if m.ID != Piece {
		return 0, errs.New(errs.Protocol, fmt.Errorf("expected PIECE, got %s", m.ID))
	}
	if len(m.Payload) < 8 {
		return 0, errs.New(errs.Protocol, fmt.Errorf("PIECE payload too short: %d < 8", len(m.Payload)))
	}
	index := int(binary.BigEndian.Uint32(m.Payload[0:4]))
	if index != expectedIndex {
		return 0, errMismatchedIndex{got: index, want: expectedIndex}
	}
	begin := int(binary.BigEndian.Uint32(m.Payload[4:8]))
	if begin >= len(buf) {
		return 0, errs.New(errs.Protocol, fmt.Errorf("begin %d out of range for length %d", begin, len(buf)))
	}
	block := m.Payload[8:]
	if begin+len(block) > len(buf) {
		return 0, errs.New(errs.Protocol, fmt.Errorf("block of %d bytes at offset %d overruns length %d", len(block), begin, len(buf)))
	}
	copy(buf[begin:], block)
	return len(block), nil
}

// errMismatchedIndex is returned by ParsePiece when a PIECE belongs to a
// different piece than expected. It is never wrapped in errs.Protocol: the
// spec requires the downloader to discard these silently rather than fail
// the job.
type errMismatchedIndex struct{ got, want int }

func (e errMismatchedIndex) Error() string {
	return fmt.Sprintf("piece index %d does not match expected %d", e.got, e.want)
}

// IsMismatchedIndex reports whether err is the stale-block condition that
// ParsePiece signals for a PIECE belonging to another in-flight piece.
func IsMismatchedIndex(err error) bool {
	_, ok := err.(errMismatchedIndex)
	return ok
}

// Serialize encodes m as a wire frame: <length><id><payload>. A nil
// receiver serializes to the 4-byte KEEP-ALIVE frame.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// minPayloadLen is the minimum payload length per message id; a longer
// payload is accepted. Bitfield is absent from this map and accepts any
// length; Choke/Unchoke/Interested/NotInterested have a 0 entry.
var minPayloadLen = map[ID]int{
	Choke:         0,
	Unchoke:       0,
	Interested:    0,
	NotInterested: 0,
	Have:          4,
	Request:       12,
	Piece:         8,
	Cancel:        12,
}

// Read parses one message from r. A nil *Message with a nil error means
// KEEP-ALIVE. A frame that carries only an id yields a nil Payload, as New
// builds it. Decode fails with a Protocol error on an unknown id or a body
// shorter than the id's schema requires.
func Read(r io.Reader) (*Message, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, errs.FromRead(fmt.Errorf("reading message length: %w", err))
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length == 0 {
		return nil, nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errs.FromRead(fmt.Errorf("reading message body: %w", err))
	}

	id := ID(body[0])
	want, known := minPayloadLen[id]
	if !known && id != Bitfield {
		return nil, errs.New(errs.Protocol, fmt.Errorf("unknown message id %d", body[0]))
	}
	var payload []byte
	if len(body) > 1 {
		payload = body[1:]
	}
	if known && len(payload) < want {
		return nil, errs.New(errs.Protocol, fmt.Errorf("%s payload too short: %d < %d", id, len(payload), want))
	}

	return &Message{ID: id, Payload: payload}, nil
}

func (m *Message) String() string {
	if m == nil {
		return "KeepAlive"
	}
	return fmt.Sprintf("%s[%d]", m.ID, len(m.Payload))
}
