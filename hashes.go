package ark

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// digestNames is the fixed, ordered set of digests ark indexes a
// candidate under. BLAKE3 is intentionally absent — see DESIGN.md.
var digestNames = [5]string{"md5", "sha1", "sha256", "sha3-256", "blake2b-512"}

// Digests holds every digest computed for one candidate, in the same
// order as digestNames.
type Digests struct {
	MD5        [md5.Size]byte
	SHA1       [sha1.Size]byte
	SHA256     [sha256.Size]byte
	SHA3_256   [32]byte
	Blake2b512 [64]byte
}

// computeDigests hashes data under every digest in digestNames.
func computeDigests(data []byte) Digests {
	var d Digests
	d.MD5 = md5.Sum(data)
	d.SHA1 = sha1.Sum(data)
	d.SHA256 = sha256.Sum256(data)
	d.SHA3_256 = sha3.Sum256(data)
	d.Blake2b512 = blake2b.Sum512(data)
	return d
}

// slices returns d's digests as byte slices, ordered like digestNames.
func (d Digests) slices() [5][]byte {
	return [5][]byte{d.MD5[:], d.SHA1[:], d.SHA256[:], d.SHA3_256[:], d.Blake2b512[:]}
}
