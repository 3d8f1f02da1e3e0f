package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/aurora-bot/internal/models"
)

// newTestRedis connects to REDIS_ADDR (default localhost:6379) under a fresh
// key prefix, and skips the test when no server answers.
func newTestRedis(t *testing.T, historyLimit int) *RedisStorage {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 500 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}

	s := newRedisStorage(rdb, "aurora-test:"+uuid.NewString()+":", historyLimit)
	t.Cleanup(func() {
		ctx := context.Background()
		iter := rdb.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			rdb.Del(ctx, iter.Val())
		}
		_ = rdb.Close()
	})
	return s
}

func TestRedisStorage_Preferences(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t, 0)

	p, err := s.GetPreferences(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultFilterSpec(), p.Filter)

	th, err := s.LoadTheme(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, th)

	require.NoError(t, s.SaveTheme(ctx, 1, "dark"))
	require.NoError(t, s.SaveFilter(ctx, 1, models.FilterSpec{MinPrice: 5, MaxPrice: 49.99, MinRating: 4}))

	p, err = s.GetPreferences(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "dark", p.Theme)
	assert.Equal(t, models.FilterSpec{MinPrice: 5, MaxPrice: 49.99, MinRating: 4}, p.Filter)
	assert.False(t, p.UpdatedAt.IsZero())
}

func TestRedisStorage_HistoryIsCapped(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t, 3)

	for _, text := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.AppendMessage(ctx, 9, &models.Message{
			Role: models.RoleUser, Content: text, Status: models.StatusComplete,
		}))
	}
	n, err := s.rdb.LLen(ctx, s.chatKey(9)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	recent, err := s.RecentMessages(ctx, 9, 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].Content)
	assert.Equal(t, "e", recent[2].Content)
	assert.NotEmpty(t, recent[0].ID)

	recent, err = s.RecentMessages(ctx, 9, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "d", recent[0].Content)

	require.NoError(t, s.ClearConversation(ctx, 9))
	recent, err = s.RecentMessages(ctx, 9, 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestRedisStorage_CartMergesAndKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t, 0)

	lamp := models.Product{ID: "lamp", Description: "Desk lamp", Price: 20}
	rug := models.Product{ID: "rug", Description: "Rug", Price: 80}
	require.NoError(t, s.AddToCart(ctx, 1, lamp, 1))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.AddToCart(ctx, 1, rug, 0))
	require.NoError(t, s.AddToCart(ctx, 1, lamp, 2))

	items, err := s.GetCart(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "lamp", items[0].Product.ID)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, "rug", items[1].Product.ID)
	assert.Equal(t, 1, items[1].Quantity)
	assert.Equal(t, 140.0, models.CartTotal(items))

	require.NoError(t, s.RemoveFromCart(ctx, 1, "rug"))
	assert.ErrorIs(t, s.RemoveFromCart(ctx, 1, "rug"), ErrNotFound)

	require.NoError(t, s.ClearCart(ctx, 1))
	items, err = s.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRedisStorage_ConcurrentAddsAreNotLost(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t, 0)
	lamp := models.Product{ID: "lamp", Price: 20}

	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() { errs <- s.AddToCart(ctx, 1, lamp, 1) }()
	}
	added := 0
	for i := 0; i < n; i++ {
		// A lost optimistic-lock race surfaces as an error, never as a
		// silently dropped quantity.
		if err := <-errs; err == nil {
			added++
		}
	}

	items, err := s.GetCart(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, added, items[0].Quantity)
}
