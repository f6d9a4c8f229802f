package integrity

import (
	"crypto/sha1"
	"testing"

	"github.com/arakawa-dl/gorent/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyMatch(t *testing.T) {
	data := []byte("the quick brown fox")
	want := sha1.Sum(data)
	assert.NoError(t, Verify(data, want))
}

func TestVerifyMismatch(t *testing.T) {
	data := []byte("the quick brown fox")
	var want [20]byte
	err := Verify(data, want)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Integrity))
}
