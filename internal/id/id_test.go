package id

import (
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsMonotonic(t *testing.T) {
	t.Parallel()

	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		assert.Equal(t, 1, next.Compare(prev), "ids must strictly increase")
		prev = next
	}
}

// Not parallel: a past timestamp resets the monotonic entropy.
func TestAtUsesTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)
	got := At(ts)
	assert.Equal(t, ts, ulid.Time(got.Time()).UTC())
}

// Not parallel for the same reason.
func TestAtClampsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
		want uint64
	}{
		{"before epoch", time.Date(1969, 12, 31, 12, 0, 0, 0, time.UTC), 0},
		{"epoch", time.Unix(0, 0), 0},
		{"far future", time.Date(12000, 1, 1, 0, 0, 0, 0, time.UTC), ulid.MaxTime()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ulid.ULID
			require.NotPanics(t, func() { got = At(tt.ts) })
			assert.Equal(t, tt.want, got.Time())
		})
	}
}

func TestConcurrentNewUnique(t *testing.T) {
	t.Parallel()

	var (
		wg   sync.WaitGroup
		smu  sync.Mutex
		seen = map[ulid.ULID]bool{}
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				u := New()
				smu.Lock()
				seen[u] = true
				smu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1600)
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	u := New()
	got, err := Parse(u.String())
	require.NoError(t, err)
	assert.Equal(t, u, got)

	_, err = Parse("not-a-ulid")
	assert.Error(t, err)
}
