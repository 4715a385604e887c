// Package id generates time-sortable intent identifiers.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader

	epoch = time.Unix(0, 0)
)

func init() {
	// ulid.Monotonic keeps ids generated within one millisecond increasing.
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID stamped with the current wall clock time.
func New() ulid.ULID {
	return At(time.Now())
}

// At returns a ULID stamped with t. Replays use it so intent ids follow
// market time instead of wall time. Times outside the ULID range are
// clamped to its ends.
func At(t time.Time) ulid.ULID {
	ms := uint64(0)
	if t.After(epoch) {
		ms = min(ulid.Timestamp(t), ulid.MaxTime())
	}

	mu.Lock()
	defer mu.Unlock()
	id, err := ulid.New(ms, mono)
	if err != nil {
		// Only possible if the entropy source fails.
		panic(err)
	}
	return id
}

// Parse reads the canonical string form of a ULID.
func Parse(s string) (ulid.ULID, error) {
	return ulid.ParseStrict(s)
}
