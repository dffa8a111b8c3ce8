// Package cryptox holds the small crypto helpers used by the field agent:
// payload checksums for staged blobs and random suffixes for generated ids.
package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Checksum returns the BLAKE2b-256 digest of data.
func Checksum(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

// VerifyChecksum reports whether sum is the digest of data.
func VerifyChecksum(data, sum []byte) bool {
	return subtle.ConstantTimeCompare(Checksum(data), sum) == 1
}

// RandomSuffix returns size random bytes hex-encoded (2*size characters).
func RandomSuffix(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
