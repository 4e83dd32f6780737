package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random 24-char hex id used for rows, jobs and requests.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
