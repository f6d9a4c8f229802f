package tracker

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arakawa-dl/gorent/errs"
	"github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentEncodeMatchesTrackerConvention(t *testing.T) {
	infoHash, err := hex.DecodeString("D8F739CEC328956CCC5BBF1F86D9FDCFDBA8CEB6")
	require.NoError(t, err)
	assert.Equal(t, "%D8%F79%CE%C3%28%95l%CC%5B%BF%1F%86%D9%FD%CF%DB%A8%CE%B6", percentEncode(infoHash))

	peerID := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
	assert.Equal(t, "%01%02%03%04%05%06%07%08%09%0A%0B%0C%0D%0E%0F%10%11%12%13%14", percentEncode(peerID))
}

func TestBuildURLContainsExpectedQuery(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], mustDecode(t, "D8F739CEC328956CCC5BBF1F86D9FDCFDBA8CEB6"))
	for i := range peerID {
		peerID[i] = byte(i + 1)
	}

	got, err := buildURL("http://bttracker.debian.org:6969/announce", infoHash, peerID, 351272960, 6882)
	require.NoError(t, err)

	assert.Contains(t, got, "info_hash=%D8%F79%CE%C3%28%95l%CC%5B%BF%1F%86%D9%FD%CF%DB%A8%CE%B6")
	assert.Contains(t, got, "peer_id=%01%02%03%04%05%06%07%08%09%0A%0B%0C%0D%0E%0F%10%11%12%13%14")
	assert.Contains(t, got, "left=351272960")
	assert.Contains(t, got, "port=6882")
	assert.Contains(t, got, "compact=1")
}

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestRequestPeersParsesCompactList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bencode.Marshal(w, response{
			Interval: 1800,
			Peers:    string([]byte{192, 0, 2, 123, 0x1A, 0xE1, 127, 0, 0, 1, 0x1A, 0xE9}),
		})
	}))
	defer srv.Close()

	var infoHash, peerID [20]byte
	addrs, err := RequestPeers(srv.URL, infoHash, peerID, 100, 6881)
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, "192.0.2.123", addrs[0].IP.String())
	assert.Equal(t, "127.0.0.1", addrs[1].IP.String())
}

func TestRequestPeersEmptyListIsNoPeersError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bencode.Marshal(w, response{Interval: 1800, Peers: ""})
	}))
	defer srv.Close()

	var infoHash, peerID [20]byte
	_, err := RequestPeers(srv.URL, infoHash, peerID, 100, 6881)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NoPeers))
}
