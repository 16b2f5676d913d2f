// Package ids mints the identifiers used for users, roles, permissions and
// refresh token rows.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID: lexicographically sortable, so index pages fill in
// insertion order. The monotonic reader is not safe for concurrent use,
// hence the lock.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
