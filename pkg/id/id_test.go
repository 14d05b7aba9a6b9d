package id_test

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/id"
)

var crockford = regexp.MustCompile(`^[0-9A-HJ-KMNP-TV-Z]+$`)

func TestNewULID(t *testing.T) {
	t.Parallel()

	t.Run("shape", func(t *testing.T) {
		t.Parallel()

		ulid := id.NewULID()
		assert.Len(t, ulid, 26)
		require.True(t, crockford.MatchString(ulid), "invalid characters: %s", ulid)
		require.True(t, id.IsULID(ulid))
	})

	t.Run("unique under concurrency", func(t *testing.T) {
		t.Parallel()

		const goroutines, perGoroutine = 8, 250

		var (
			mu   sync.Mutex
			seen = make(map[string]struct{}, goroutines*perGoroutine)
			wg   sync.WaitGroup
		)
		for range goroutines {
			wg.Go(func() {
				for range perGoroutine {
					v := id.NewULID()
					mu.Lock()
					seen[v] = struct{}{}
					mu.Unlock()
				}
			})
		}
		wg.Wait()

		require.Len(t, seen, goroutines*perGoroutine)
	})

	t.Run("sortable by creation time", func(t *testing.T) {
		t.Parallel()

		first := id.NewULID()
		time.Sleep(3 * time.Millisecond)
		second := id.NewULID()

		require.Less(t, first[:10], second[:10])
	})
}

func TestNewShortID(t *testing.T) {
	t.Parallel()

	v := id.NewShortID()
	assert.Len(t, v, 16)
	assert.True(t, crockford.MatchString(v), "invalid characters: %s", v)
	assert.NotEqual(t, v, id.NewShortID())
	assert.False(t, id.IsULID(v))
}

func TestIsULID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want bool
	}{
		{name: "empty", in: "", want: false},
		{name: "too short", in: "01ARZ3NDEKTSV4RRFFQ69G5FA", want: false},
		{name: "valid", in: "01ARZ3NDEKTSV4RRFFQ69G5FAV", want: true},
		{name: "lowercase", in: "01arz3ndektsv4rrffq69g5fav", want: false},
		{name: "excluded letter", in: "01ARZ3NDEKTSV4RRFFQ69G5FAU", want: false},
		{name: "timestamp overflow", in: "81ARZ3NDEKTSV4RRFFQ69G5FAV", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, id.IsULID(tt.in))
		})
	}
}
