package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// Dead-letter envelopes are stamped with one so they sort by failure time.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewCorrelationKey returns a random UUID v4 in its canonical textual form.
// Every publish gets a fresh key regardless of the record it carries.
func NewCorrelationKey() string {
	return uuid.NewString()
}

// IsCorrelationKey reports whether key is a canonical UUID v4.
func IsCorrelationKey(key string) bool {
	if len(key) != 36 {
		return false
	}
	parsed, err := uuid.Parse(key)
	if err != nil {
		return false
	}
	return parsed.Version() == 4 && parsed.Variant() == uuid.RFC4122
}
