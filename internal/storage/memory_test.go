package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/aurora-bot/internal/models"
	"github.com/xaenox/aurora-bot/internal/theme"
)

var _ theme.Store = (*MemoryStorage)(nil)
var _ theme.Store = (*PostgresStorage)(nil)
var _ theme.Store = (*RedisStorage)(nil)
var _ Storage = (*MemoryStorage)(nil)
var _ Storage = (*PostgresStorage)(nil)
var _ Storage = (*RedisStorage)(nil)

func TestMemoryStorage_Preferences(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	p, err := s.GetPreferences(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultFilterSpec(), p.Filter)
	assert.Empty(t, p.Theme)

	th, err := s.LoadTheme(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, th)

	require.NoError(t, s.SaveTheme(ctx, 1, "dark"))
	require.NoError(t, s.SaveFilter(ctx, 1, models.FilterSpec{MinPrice: 5, MaxPrice: 50, MinRating: 4}))

	p, err = s.GetPreferences(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "dark", p.Theme)
	assert.Equal(t, 50.0, p.Filter.MaxPrice)

	p.Theme = "light"
	again, _ := s.GetPreferences(ctx, 1)
	assert.Equal(t, "dark", again.Theme)
}

func TestMemoryStorage_Conversation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, s.AppendMessage(ctx, 9, &models.Message{
			ID: text, Role: models.RoleUser, Content: text, Status: models.StatusComplete,
		}))
	}

	recent, err := s.RecentMessages(ctx, 9, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Content)
	assert.Equal(t, "c", recent[1].Content)

	all, err := s.RecentMessages(ctx, 9, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.ClearConversation(ctx, 9))
	all, err = s.RecentMessages(ctx, 9, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryStorage_Cart(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	lamp := models.Product{ID: "lamp", Price: 10}
	desk := models.Product{ID: "desk", Price: 100}

	require.NoError(t, s.AddToCart(ctx, 1, lamp, 1))
	require.NoError(t, s.AddToCart(ctx, 1, lamp, 0))
	require.NoError(t, s.AddToCart(ctx, 1, desk, 1))

	cart, err := s.GetCart(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cart, 2)
	assert.Equal(t, "lamp", cart[0].Product.ID)
	assert.Equal(t, 2, cart[0].Quantity)
	assert.Equal(t, 120.0, models.CartTotal(cart))

	require.NoError(t, s.RemoveFromCart(ctx, 1, "lamp"))
	assert.ErrorIs(t, s.RemoveFromCart(ctx, 1, "lamp"), ErrNotFound)

	require.NoError(t, s.ClearCart(ctx, 1))
	cart, err = s.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cart)
}

func TestNew_SelectsDriver(t *testing.T) {
	s, err := New(context.Background(), DatabaseConfig{Driver: DriverPostgres, UseInMemory: true})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)

	_, err = New(context.Background(), DatabaseConfig{Driver: "mongo"})
	assert.Error(t, err)
}
