// Package hash fingerprints model parameter files so evaluation runs can be
// traced to the exact model they scored.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// FingerprintLen is the length of a short model fingerprint.
const FingerprintLen = 12

// Short returns the first n characters of a hex digest.
func Short(digest string, n int) string {
	if n > len(digest) {
		return digest
	}
	return digest[:n]
}

// Reader hashes everything read from r.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Fingerprint returns the short digest of a file's contents.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest, err := Reader(f)
	if err != nil {
		return "", err
	}
	return Short(digest, FingerprintLen), nil
}
