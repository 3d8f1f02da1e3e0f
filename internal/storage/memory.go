package storage

import (
	"context"
	"sync"
	"time"

	"github.com/xaenox/aurora-bot/internal/models"
)

type MemoryStorage struct {
	mu       sync.RWMutex
	prefs    map[int64]*models.Preferences
	messages map[int64][]*models.Message
	carts    map[int64][]models.CartItem
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		prefs:    make(map[int64]*models.Preferences),
		messages: make(map[int64][]*models.Message),
		carts:    make(map[int64][]models.CartItem),
	}
}

// Preference methods
func (s *MemoryStorage) GetPreferences(ctx context.Context, userID int64) (*models.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, exists := s.prefs[userID]; exists {
		c := *p
		return &c, nil
	}
	return models.DefaultPreferences(userID), nil
}

func (s *MemoryStorage) LoadTheme(ctx context.Context, userID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, exists := s.prefs[userID]; exists {
		return p.Theme, nil
	}
	return "", nil
}

func (s *MemoryStorage) SaveTheme(ctx context.Context, userID int64, theme string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.prefsLocked(userID)
	p.Theme = theme
	p.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) SaveFilter(ctx context.Context, userID int64, filter models.FilterSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.prefsLocked(userID)
	p.Filter = filter
	p.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) prefsLocked(userID int64) *models.Preferences {
	p, exists := s.prefs[userID]
	if !exists {
		p = models.DefaultPreferences(userID)
		s.prefs[userID] = p
	}
	return p
}

// Conversation methods
func (s *MemoryStorage) AppendMessage(ctx context.Context, chatID int64, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[chatID] = append(s.messages[chatID], msg.Clone())
	return nil
}

func (s *MemoryStorage) RecentMessages(ctx context.Context, chatID int64, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[chatID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]*models.Message, 0, len(all))
	for _, m := range all {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *MemoryStorage) ClearConversation(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, chatID)
	return nil
}

// Cart methods
func (s *MemoryStorage) AddToCart(ctx context.Context, userID int64, product models.Product, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	quantity = validQuantity(quantity)
	items := s.carts[userID]
	for i := range items {
		if items[i].Product.ID == product.ID {
			items[i].Quantity += quantity
			return nil
		}
	}
	s.carts[userID] = append(items, models.CartItem{
		Product:  product,
		Quantity: quantity,
		AddedAt:  time.Now(),
	})
	return nil
}

func (s *MemoryStorage) GetCart(ctx context.Context, userID int64) ([]models.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.CartItem{}, s.carts[userID]...), nil
}

func (s *MemoryStorage) RemoveFromCart(ctx context.Context, userID int64, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.carts[userID]
	for i := range items {
		if items[i].Product.ID == productID {
			s.carts[userID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStorage) ClearCart(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.carts, userID)
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
