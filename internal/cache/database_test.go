package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teatalks/teatalks/internal/database/testutil"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newDatabaseStore(t *testing.T) (*DatabaseStore, *fakeClock) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewDatabaseStore(db, WithStoreClock(clock.Now)), clock
}

func TestDatabaseStoreIncrementUsesFixedWindow(t *testing.T) {
	store, clock := newDatabaseStore(t)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "rl:login:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)

	clock.Advance(20 * time.Second)
	count, ttl, err = store.IncrementWithTTL(ctx, "rl:login:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.Equal(t, 40*time.Second, ttl)

	clock.Advance(41 * time.Second)
	count, ttl, err = store.IncrementWithTTL(ctx, "rl:login:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)
}

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	store, clock := newDatabaseStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "stats", []byte("v1"), time.Minute))
	require.NoError(t, store.Set(ctx, "stats", []byte("v2"), time.Minute))

	value, ok, err := store.Get(ctx, "stats")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), value)

	clock.Advance(2 * time.Minute)
	_, ok, err = store.Get(ctx, "stats")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "forever", []byte("x"), 0))
	require.NoError(t, store.Delete(ctx, "forever"))
	_, ok, err = store.Get(ctx, "forever")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatabaseStorePurgeExpired(t *testing.T) {
	store, clock := newDatabaseStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("a"), time.Second))
	require.NoError(t, store.Set(ctx, "long", []byte("b"), time.Hour))
	require.NoError(t, store.Set(ctx, "forever", []byte("c"), 0))

	clock.Advance(time.Minute)
	removed, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	_, ok, err := store.Get(ctx, "long")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = store.Get(ctx, "forever")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestJSONHelpers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	type stats struct {
		Users int `json:"users"`
	}

	var out stats
	hit, err := GetJSON(ctx, store, "stats", &out)
	require.NoError(t, err)
	require.False(t, hit)

	require.NoError(t, SetJSON(ctx, store, "stats", stats{Users: 3}, time.Minute))
	hit, err = GetJSON(ctx, store, "stats", &out)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, 3, out.Users)

	require.NoError(t, store.Set(ctx, "broken", []byte("{"), time.Minute))
	hit, err = GetJSON(ctx, store, "broken", &out)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestMemoryStoreIncrementAndExpiry(t *testing.T) {
	store := NewMemoryStore()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	store.now = clock.Now
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, _, err := store.IncrementWithTTL(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.EqualValues(t, i, count)
	}

	clock.Advance(time.Minute + time.Second)
	count, ttl, err := store.IncrementWithTTL(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)
}
