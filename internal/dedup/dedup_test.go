package dedup

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/carpool-sync/internal/models"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func sets(t *testing.T) map[string]Set {
	_, client := setupMiniredis(t)
	return map[string]Set{
		"memory": NewMemory(),
		"redis":  NewRedis(client, "sess-1", "requests", time.Hour),
	}
}

func TestMarkedIsNeverNew(t *testing.T) {
	ctx := context.Background()
	for name, s := range sets(t) {
		t.Run(name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(7))
			marked := map[int64]bool{}
			for i := 0; i < 200; i++ {
				id := rng.Int63n(50)
				if rng.Intn(2) == 0 {
					require.NoError(t, s.MarkSeen(ctx, id))
					marked[id] = true
				}
				isNew, err := s.IsNew(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, !marked[id], isNew, "id %d", id)
			}
			isNew, err := s.IsNew(ctx, 10_000)
			require.NoError(t, err)
			assert.True(t, isNew)
		})
	}
}

func TestClaimOnlyOnce(t *testing.T) {
	ctx := context.Background()
	for name, s := range sets(t) {
		t.Run(name, func(t *testing.T) {
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := s.Claim(ctx, 42)
					assert.NoError(t, err)
					if ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.EqualValues(t, 1, wins.Load())

			isNew, err := s.IsNew(ctx, 42)
			require.NoError(t, err)
			assert.False(t, isNew)
		})
	}
}

func TestResetForgets(t *testing.T) {
	ctx := context.Background()
	for name, s := range sets(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.MarkSeen(ctx, 1))
			require.NoError(t, s.Reset(ctx))
			isNew, err := s.IsNew(ctx, 1)
			require.NoError(t, err)
			assert.True(t, isNew)
		})
	}
}

func TestRedisKeyHasTTL(t *testing.T) {
	mr, client := setupMiniredis(t)
	s := NewRedis(client, "sess-9", "notifications", 30*time.Minute)
	_, err := s.Claim(context.Background(), 5)
	require.NoError(t, err)

	key := seenKey("sess-9", "notifications")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 30*time.Minute, mr.TTL(key))
	members, err := mr.Members(key)
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, members)
}

func TestRedisErrorsSurface(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := NewRedis(client, "sess", "requests", 0)
	mr.Close()
	_, err = s.IsNew(context.Background(), 1)
	assert.Error(t, err)
}

func notes(ids ...int64) []models.Notification {
	out := make([]models.Notification, len(ids))
	for i, id := range ids {
		out[i] = models.Notification{ID: id, Type: models.NotifyMatchFound}
	}
	return out
}

// retained lists every id the window holds, dismissed or not.
func retained(w *Window) []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]int64, len(w.items))
	for i, n := range w.items {
		ids[i] = n.ID
	}
	return ids
}

func TestWindowMergePreservesOrder(t *testing.T) {
	w := NewWindow(10)
	fresh := w.Merge(notes(1, 2, 3))
	assert.Len(t, fresh, 3)

	fresh = w.Merge(notes(2, 3, 4))
	require.Len(t, fresh, 1)
	assert.EqualValues(t, 4, fresh[0].ID)
	assert.Equal(t, []int64{1, 2, 3, 4}, retained(w))
}

func TestWindowKeepsLastTen(t *testing.T) {
	w := NewWindow(10)
	w.Merge(notes(1, 2, 3, 4, 5, 6, 7, 8))
	w.Merge(notes(7, 8, 9, 10, 11, 12))
	assert.Equal(t, []int64{3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, retained(w))

	// an evicted id reported again stays out
	assert.Empty(t, w.Merge(notes(1)))
	assert.Len(t, retained(w), 10)
}

func TestWindowDismissHidesButStillCounts(t *testing.T) {
	w := NewWindow(3)
	w.Merge(notes(1, 2, 3))
	assert.True(t, w.Dismiss(2))
	assert.False(t, w.Dismiss(99))

	var visible []int64
	for _, n := range w.Visible() {
		visible = append(visible, n.ID)
	}
	assert.Equal(t, []int64{1, 3}, visible)

	// the bound counts by arrival, dismissed or not
	w.Merge(notes(4))
	assert.Equal(t, []int64{2, 3, 4}, retained(w))
}
