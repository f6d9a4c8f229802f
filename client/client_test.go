package client

import (
	"net"
	"testing"
	"time"

	"github.com/arakawa-dl/gorent/bitfield"
	"github.com/arakawa-dl/gorent/errs"
	"github.com/arakawa-dl/gorent/handshake"
	"github.com/arakawa-dl/gorent/message"
	"github.com/arakawa-dl/gorent/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listenLocal starts a one-shot TCP listener on loopback and returns its
// address and a channel delivering the single accepted connection.
func listenLocal(t *testing.T) (*net.TCPAddr, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ch := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			ch <- conn
		}
	}()
	return ln.Addr().(*net.TCPAddr), ch
}

func peerAddrFor(a *net.TCPAddr) peer.Address {
	return peer.Address{IP: a.IP, Port: uint16(a.Port)}
}

func TestNewCompletesHandshakeAndReceivesBitfield(t *testing.T) {
	infoHash := [20]byte{1, 2, 3}
	localID := [20]byte{4, 5, 6}
	remoteID := [20]byte{7, 8, 9}

	tcpAddr, connCh := listenLocal(t)

	go func() {
		conn := <-connCh
		defer conn.Close()

		hs, err := handshake.Read(conn)
		if err != nil || hs.InfoHash != infoHash {
			return
		}
		reply := handshake.New(infoHash, remoteID)
		conn.Write(reply.Serialize())

		bf := message.NewBitfield([]byte{0xff})
		conn.Write(bf.Serialize())

		// Keep the connection open briefly so the client's post-handshake
		// deadline reset has something to apply to.
		time.Sleep(50 * time.Millisecond)
	}()

	addr := peerAddrFor(tcpAddr)

	c, err := New(addr, localID, infoHash)
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.Choked)
	assert.True(t, bitfield.Bitfield(c.Bitfield).Has(0))
}

func TestNewRejectsInfoHashMismatch(t *testing.T) {
	infoHash := [20]byte{1, 2, 3}
	otherHash := [20]byte{9, 9, 9}
	localID := [20]byte{4, 5, 6}

	tcpAddr, connCh := listenLocal(t)

	go func() {
		conn := <-connCh
		defer conn.Close()
		if _, err := handshake.Read(conn); err != nil {
			return
		}
		reply := handshake.New(otherHash, [20]byte{7, 8, 9})
		conn.Write(reply.Serialize())
	}()

	addr := peerAddrFor(tcpAddr)

	_, err := New(addr, localID, infoHash)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Protocol))
}

func TestReadAndUpdateTracksChokeAndHave(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := &Client{Conn: client, Choked: true, Bitfield: bitfield.New(8)}

	go func() {
		server.Write(message.New(message.Unchoke).Serialize())
		server.Write(message.NewHave(3).Serialize())
	}()

	msg, err := c.ReadAndUpdate()
	require.NoError(t, err)
	assert.Equal(t, message.Unchoke, msg.ID)
	assert.False(t, c.Choked)

	msg, err = c.ReadAndUpdate()
	require.NoError(t, err)
	assert.Equal(t, message.Have, msg.ID)
	assert.True(t, c.HasPiece(3))
}
