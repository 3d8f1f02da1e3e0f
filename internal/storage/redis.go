package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/xaenox/aurora-bot/internal/models"
)

const defaultRedisHistory = 200

// RedisStorage keeps preferences and carts in hashes and each conversation
// in a capped list of JSON-encoded messages.
type RedisStorage struct {
	rdb          *goredis.Client
	prefix       string
	historyLimit int
}

func NewRedisStorage(ctx context.Context, config DatabaseConfig) (*RedisStorage, error) {
	addr := strings.TrimSpace(config.RedisAddr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}

	var opts *goredis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := goredis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{
			Addr:     addr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		}
	}
	opts.DialTimeout = 5 * time.Second

	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newRedisStorage(rdb, config.KeyPrefix, config.HistoryLimit), nil
}

func newRedisStorage(rdb *goredis.Client, prefix string, historyLimit int) *RedisStorage {
	if prefix == "" {
		prefix = "aurora:"
	}
	if historyLimit <= 0 {
		historyLimit = defaultRedisHistory
	}
	return &RedisStorage{rdb: rdb, prefix: prefix, historyLimit: historyLimit}
}

func (s *RedisStorage) prefsKey(userID int64) string {
	return s.prefix + "prefs:" + strconv.FormatInt(userID, 10)
}

func (s *RedisStorage) chatKey(chatID int64) string {
	return s.prefix + "chat:" + strconv.FormatInt(chatID, 10)
}

func (s *RedisStorage) cartKey(userID int64) string {
	return s.prefix + "cart:" + strconv.FormatInt(userID, 10)
}

func (s *RedisStorage) GetPreferences(ctx context.Context, userID int64) (*models.Preferences, error) {
	fields, err := s.rdb.HGetAll(ctx, s.prefsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get preferences: %w", err)
	}
	p := models.DefaultPreferences(userID)
	if len(fields) == 0 {
		return p, nil
	}
	p.Theme = fields["theme"]
	parseFloat := func(name string, dst *float64) {
		if v, ok := fields[name]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	parseFloat("min_price", &p.Filter.MinPrice)
	parseFloat("max_price", &p.Filter.MaxPrice)
	parseFloat("min_rating", &p.Filter.MinRating)
	if v, ok := fields["updated_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			p.UpdatedAt = t
		}
	}
	return p, nil
}

func (s *RedisStorage) LoadTheme(ctx context.Context, userID int64) (string, error) {
	theme, err := s.rdb.HGet(ctx, s.prefsKey(userID), "theme").Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis load theme: %w", err)
	}
	return theme, nil
}

func (s *RedisStorage) SaveTheme(ctx context.Context, userID int64, theme string) error {
	err := s.rdb.HSet(ctx, s.prefsKey(userID),
		"theme", theme,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("redis save theme: %w", err)
	}
	return nil
}

func (s *RedisStorage) SaveFilter(ctx context.Context, userID int64, filter models.FilterSpec) error {
	err := s.rdb.HSet(ctx, s.prefsKey(userID),
		"min_price", strconv.FormatFloat(filter.MinPrice, 'f', -1, 64),
		"max_price", strconv.FormatFloat(filter.MaxPrice, 'f', -1, 64),
		"min_rating", strconv.FormatFloat(filter.MinRating, 'f', -1, 64),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("redis save filter: %w", err)
	}
	return nil
}

func (s *RedisStorage) AppendMessage(ctx context.Context, chatID int64, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	key := s.chatKey(chatID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, key, raw)
		pipe.LTrim(ctx, key, int64(-s.historyLimit), -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append message: %w", err)
	}
	return nil
}

func (s *RedisStorage) RecentMessages(ctx context.Context, chatID int64, limit int) ([]*models.Message, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	items, err := s.rdb.LRange(ctx, s.chatKey(chatID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis recent messages: %w", err)
	}

	messages := make([]*models.Message, 0, len(items))
	for _, item := range items {
		var m models.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, nil
}

func (s *RedisStorage) ClearConversation(ctx context.Context, chatID int64) error {
	if err := s.rdb.Del(ctx, s.chatKey(chatID)).Err(); err != nil {
		return fmt.Errorf("redis clear conversation: %w", err)
	}
	return nil
}

func (s *RedisStorage) AddToCart(ctx context.Context, userID int64, product models.Product, quantity int) error {
	key := s.cartKey(userID)
	quantity = validQuantity(quantity)

	err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		item := models.CartItem{Product: product, AddedAt: time.Now()}
		existing, err := tx.HGet(ctx, key, product.ID).Result()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(existing), &item); err != nil {
				return fmt.Errorf("decode cart item: %w", err)
			}
		}
		item.Quantity += quantity

		raw, err := json.Marshal(item)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, product.ID, raw)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("redis add to cart: %w", err)
	}
	return nil
}

func (s *RedisStorage) GetCart(ctx context.Context, userID int64) ([]models.CartItem, error) {
	fields, err := s.rdb.HGetAll(ctx, s.cartKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	items := make([]models.CartItem, 0, len(fields))
	for _, raw := range fields {
		var it models.CartItem
		if err := json.Unmarshal([]byte(raw), &it); err != nil {
			return nil, fmt.Errorf("decode cart item: %w", err)
		}
		items = append(items, it)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].AddedAt.Before(items[j].AddedAt)
	})
	return items, nil
}

func (s *RedisStorage) RemoveFromCart(ctx context.Context, userID int64, productID string) error {
	n, err := s.rdb.HDel(ctx, s.cartKey(userID), productID).Result()
	if err != nil {
		return fmt.Errorf("redis remove cart item: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStorage) ClearCart(ctx context.Context, userID int64) error {
	if err := s.rdb.Del(ctx, s.cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis clear cart: %w", err)
	}
	return nil
}

func (s *RedisStorage) Close() error {
	return s.rdb.Close()
}
