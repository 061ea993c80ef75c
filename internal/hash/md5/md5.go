// Package md5 provides the content hash used for asset deduplication.
package md5

import (
	"crypto/md5" //nolint:gosec // exact-duplicate detection, not a security boundary
	"encoding/hex"
)

// Hasher implements ingest.Hasher using MD5.
type Hasher struct{}

// New returns an MD5 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := md5.Sum(data) //nolint:gosec // see import note
	return hex.EncodeToString(sum[:]), nil
}
