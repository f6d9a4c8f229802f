// Package peer models the immutable IPv4 address of a BitTorrent peer and
// parses the tracker's compact peer list.
package peer

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"

	"github.com/arakawa-dl/gorent/errs"
)

const addrSize = 6 // 4 bytes IPv4 + 2 bytes big-endian port

// Address is an immutable IPv4 peer address, as produced by the tracker
// adapter and consumed by peer workers.
type Address struct {
	IP   net.IP
	Port uint16
}

// String renders the address as host:port, suitable for net.Dial.
func (a Address) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(int(a.Port)))
}

// Unmarshal parses a tracker's compact peer list: a byte string whose length
// must be a multiple of 6, each 6-byte group being 4 bytes of IPv4 address
// followed by a 2-byte big-endian port.
func Unmarshal(compact []byte) ([]Address, error) {
	if len(compact)%addrSize != 0 {
		return nil, errs.New(errs.Config, fmt.Errorf("malformed compact peer list: %d bytes is not a multiple of %d", len(compact), addrSize))
	}

	n := len(compact) / addrSize
	addrs := make([]Address, n)
	for i := 0; i < n; i++ {
		off := i * addrSize
		ip := make(net.IP, 4)
		copy(ip, compact[off:off+4])
		addrs[i] = Address{
			IP:   ip,
			Port: binary.BigEndian.Uint16(compact[off+4 : off+6]),
		}
	}
	return addrs, nil
}
