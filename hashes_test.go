package ark

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

func TestComputeDigestsMatchesStdlibAndCrypto(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	d := computeDigests(data)

	require.Equal(t, md5.Sum(data), d.MD5)
	require.Equal(t, sha1.Sum(data), d.SHA1)
	require.Equal(t, sha256.Sum256(data), d.SHA256)
	require.Equal(t, sha3.Sum256(data), d.SHA3_256)
	require.Equal(t, blake2b.Sum512(data), d.Blake2b512)
}

func TestSlicesOrderMatchesDigestNames(t *testing.T) {
	d := computeDigests([]byte("payload"))
	s := d.slices()
	require.Len(t, s, 5)
	require.Equal(t, d.MD5[:], s[0])
	require.Equal(t, d.Blake2b512[:], s[4])
	require.Equal(t, 5, len(digestNames))
}
