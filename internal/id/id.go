package id

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// New returns a random 128-bit hex identifier for a conversion job.
func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "job-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
