package utils

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// GenerateID returns a prefixed random identifier, e.g. "chain_3f2c...".
func GenerateID(prefix string) string {
	return prefix + "_" + uuid.New().String()
}

// NewOfferID returns a ULID. IDs minted by one process sort in creation order,
// even within the same millisecond.
func NewOfferID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}
