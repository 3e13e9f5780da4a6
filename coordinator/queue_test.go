package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyedQueue_OrderedPerKey(t *testing.T) {
	q := newKeyedQueue(context.Background())

	var mu sync.Mutex
	seen := map[string][]int{}

	for i := 0; i < 100; i++ {
		for _, key := range []string{"a", "b", "c"} {
			i, key := i, key
			require.True(t, q.Submit(key, func(_ context.Context) {
				mu.Lock()
				seen[key] = append(seen[key], i)
				mu.Unlock()
			}))
		}
	}
	q.Close()

	for _, key := range []string{"a", "b", "c"} {
		require.Len(t, seen[key], 100)
		for i, v := range seen[key] {
			require.Equal(t, i, v)
		}
	}
	require.Zero(t, q.Len())
	require.False(t, q.Submit("a", func(_ context.Context) {}))
}

func TestKeyedQueue_KeysRunInParallel(t *testing.T) {
	q := newKeyedQueue(context.Background())
	defer q.Close()

	release := make(chan struct{})
	q.Submit("blocked", func(_ context.Context) {
		<-release
	})

	err := q.Do(context.Background(), "free", func(_ context.Context) error {
		return nil
	})
	require.NoError(t, err)
	close(release)
}

func TestKeyedQueue_DoHonoursContext(t *testing.T) {
	q := newKeyedQueue(context.Background())
	defer q.Close()

	release := make(chan struct{})
	q.Submit("k", func(_ context.Context) {
		<-release
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	ran := make(chan struct{})
	err := q.Do(ctx, "k", func(_ context.Context) error {
		close(ran)
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The submitted work still runs once the lane frees up.
	close(release)
	<-ran
}
