// Package tracker implements the HTTP tracker client: it builds the
// announce URL, issues the GET request, and adapts the bencoded response
// into a list of peer addresses.
package tracker

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/arakawa-dl/gorent/errs"
	"github.com/arakawa-dl/gorent/peer"
	"github.com/jackpal/bencode-go"
)

// Timeout bounds the tracker HTTP round trip.
const Timeout = 15 * time.Second

// response mirrors the bencoded tracker reply. interval is accepted but
// unused: this implementation does not re-announce.
type response struct {
	Interval int    `bencode:"interval"`
	Peers    string `bencode:"peers"`
}

var client = &http.Client{Timeout: Timeout}

// RequestPeers builds the announce URL for announce/infoHash/totalLength/
// peerID/port, performs the tracker GET, and parses the compact peer list
// from the response.
func RequestPeers(announce string, infoHash, peerID [20]byte, totalLength int, port uint16) ([]peer.Address, error) {
	reqURL, err := buildURL(announce, infoHash, peerID, totalLength, port)
	if err != nil {
		return nil, err
	}

	resp, err := client.Get(reqURL)
	if err != nil {
		return nil, errs.New(errs.IO, err)
	}
	defer resp.Body.Close()

	var tr response
	if err := bencode.Unmarshal(resp.Body, &tr); err != nil {
		return nil, errs.New(errs.Config, fmt.Errorf("decoding tracker response: %w", err))
	}

	addrs, err := peer.Unmarshal([]byte(tr.Peers))
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, errs.New(errs.NoPeers, fmt.Errorf("tracker returned an empty peer list"))
	}
	return addrs, nil
}

func buildURL(announce string, infoHash, peerID [20]byte, totalLength int, port uint16) (string, error) {
	base, err := url.Parse(announce)
	if err != nil {
		return "", errs.New(errs.Config, fmt.Errorf("parsing announce URL: %w", err))
	}

	query := url.Values{
		"compact":    []string{"1"},
		"downloaded": []string{"0"},
		"uploaded":   []string{"0"},
		"left":       []string{strconv.Itoa(totalLength)},
		"port":       []string{strconv.Itoa(int(port))},
	}
	base.RawQuery = query.Encode() +
		"&info_hash=" + percentEncode(infoHash[:]) +
		"&peer_id=" + percentEncode(peerID[:])
	return base.String(), nil
}

// literal reports whether b may appear unescaped in the tracker query
// string: ASCII letters, digits, and the four punctuation characters
// ".", "_", "~", "-".
func literal(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '~' || b == '-':
		return true
	default:
		return false
	}
}

// percentEncode applies the tracker's exact percent-encoding rule: literal
// bytes pass through unchanged, everything else becomes %XX in uppercase
// hex. This deliberately does not use net/url's QueryEscape, whose literal
// set and case do not match the tracker convention.
func percentEncode(data []byte) string {
	const hex = "0123456789ABCDEF"
	buf := make([]byte, 0, len(data))
	for _, b := range data {
		if literal(b) {
			buf = append(buf, b)
			continue
		}
		buf = append(buf, '%', hex[b>>4], hex[b&0x0f])
	}
	return string(buf)
}
