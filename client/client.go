// Package client implements the per-connection peer session: handshake,
// bitfield intake, choke/interested state, and the running message exchange
// with one remote peer.
package client

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/arakawa-dl/gorent/bitfield"
	"github.com/arakawa-dl/gorent/errs"
	"github.com/arakawa-dl/gorent/handshake"
	"github.com/arakawa-dl/gorent/message"
	"github.com/arakawa-dl/gorent/peer"
)

// HandshakeTimeout bounds the connect-and-handshake round trip, including
// the initial bitfield intake.
const HandshakeTimeout = 3 * time.Second

// Client is a live TCP session with one peer: the socket, the remote's
// advertised bitfield, and whether the remote is choking us.
type Client struct {
	Conn     net.Conn
	Choked   bool
	Bitfield bitfield.Bitfield

	addr     peer.Address
	infoHash [20]byte
	peerID   [20]byte
}

// New dials addr, completes the handshake, and reads the peer's opening
// BITFIELD message. Any failure along the way closes the connection and
// returns an error; construction never leaves a half-open socket behind.
func New(addr peer.Address, peerID, infoHash [20]byte) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr.String(), HandshakeTimeout)
	if err != nil {
		return nil, errs.New(errs.IO, err)
	}

	if err := conn.SetDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		conn.Close()
		return nil, errs.New(errs.IO, err)
	}

	if _, err := completeHandshake(conn, infoHash, peerID); err != nil {
		conn.Close()
		return nil, err
	}

	bf, err := receiveBitfield(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, errs.New(errs.IO, err)
	}

	return &Client{
		Conn:     conn,
		Choked:   true,
		Bitfield: bf,
		addr:     addr,
		infoHash: infoHash,
		peerID:   peerID,
	}, nil
}

// completeHandshake sends our handshake and validates the reply's info
// hash. The remote's protocol-id string is not required to match ours
// byte-for-byte (lenient, per spec).
func completeHandshake(conn net.Conn, infoHash, peerID [20]byte) (*handshake.Handshake, error) {
	req := handshake.New(infoHash, peerID)
	if _, err := conn.Write(req.Serialize()); err != nil {
		return nil, errs.New(errs.IO, err)
	}

	res, err := handshake.Read(conn)
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(res.InfoHash[:], infoHash[:]) {
		return nil, errs.New(errs.Protocol, fmt.Errorf("info hash mismatch: expected %x, got %x", infoHash, res.InfoHash))
	}

	return res, nil
}

// receiveBitfield reads the mandatory first post-handshake message and
// requires it to be a BITFIELD.
func receiveBitfield(conn net.Conn) (bitfield.Bitfield, error) {
	msg, err := message.Read(conn)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, errs.New(errs.Protocol, fmt.Errorf("expected BITFIELD, got KEEP-ALIVE"))
	}
	if msg.ID != message.Bitfield {
		return nil, errs.New(errs.Protocol, fmt.Errorf("expected BITFIELD, got %s", msg.ID))
	}
	return bitfield.Bitfield(msg.Payload), nil
}

// Read reads and returns the next message from the connection, unchanged.
// Callers that need state tracking should use ReadAndUpdate instead.
func (c *Client) Read() (*message.Message, error) {
	return message.Read(c.Conn)
}

// ReadAndUpdate reads one message and applies its effect on local session
// state: CHOKE/UNCHOKE flip Choked, HAVE sets a bit in Bitfield, a rare
// post-handshake BITFIELD overwrites it outright. PIECE, REQUEST, CANCEL,
// and KEEP-ALIVE (nil) are returned to the caller untouched.
func (c *Client) ReadAndUpdate() (*message.Message, error) {
	msg, err := c.Read()
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}

	switch msg.ID {
	case message.Choke:
		c.Choked = true
	case message.Unchoke:
		c.Choked = false
	case message.Have:
		index, err := msg.Have()
		if err != nil {
			return nil, err
		}
		c.Bitfield.Set(index)
	case message.Bitfield:
		c.Bitfield = bitfield.Bitfield(msg.Payload)
	}

	return msg, nil
}

// HasPiece reports whether the remote has advertised piece index.
func (c *Client) HasPiece(index int) bool {
	return c.Bitfield.Has(index)
}

func (c *Client) send(msg *message.Message) error {
	if _, err := c.Conn.Write(msg.Serialize()); err != nil {
		return errs.New(errs.IO, err)
	}
	return nil
}

// SendInterested tells the remote we want to download from it.
func (c *Client) SendInterested() error { return c.send(message.New(message.Interested)) }

// SendNotInterested tells the remote we no longer want to download from it.
func (c *Client) SendNotInterested() error { return c.send(message.New(message.NotInterested)) }

// SendUnchoke tells the remote it may request blocks from us.
func (c *Client) SendUnchoke() error { return c.send(message.New(message.Unchoke)) }

// SendHave announces possession of piece index.
func (c *Client) SendHave(index int) error { return c.send(message.NewHave(index)) }

// SendRequest asks the remote for a block of a piece. No flow-control
// accounting is performed here; the piece downloader enforces the backlog.
func (c *Client) SendRequest(index, begin, length int) error {
	return c.send(message.NewRequest(index, begin, length))
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.Conn.Close() }
