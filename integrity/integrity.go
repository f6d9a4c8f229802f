// Package integrity verifies downloaded piece data against the SHA-1 hashes
// published in a torrent's metainfo.
package integrity

import (
	"crypto/sha1"
	"fmt"

	"github.com/arakawa-dl/gorent/errs"
)

// Verify reports an IntegrityError if the SHA-1 of data does not equal want.
func Verify(data []byte, want [20]byte) error {
	got := sha1.Sum(data)
	if got != want {
		return errs.New(errs.Integrity, fmt.Errorf("hash mismatch: expected %x, got %x", want, got))
	}
	return nil
}
