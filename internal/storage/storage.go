package storage

import (
	"context"
	"errors"

	"github.com/xaenox/aurora-bot/internal/models"
)

var ErrNotFound = errors.New("not found")

type Storage interface {
	Close() error

	PreferenceStorage
	ConversationStorage
	CartStorage
}

// PreferenceStorage also satisfies theme.Store.
type PreferenceStorage interface {
	GetPreferences(ctx context.Context, userID int64) (*models.Preferences, error)
	LoadTheme(ctx context.Context, userID int64) (string, error)
	SaveTheme(ctx context.Context, userID int64, theme string) error
	SaveFilter(ctx context.Context, userID int64, filter models.FilterSpec) error
}

type ConversationStorage interface {
	AppendMessage(ctx context.Context, chatID int64, msg *models.Message) error
	// RecentMessages returns up to limit messages, oldest first.
	RecentMessages(ctx context.Context, chatID int64, limit int) ([]*models.Message, error)
	ClearConversation(ctx context.Context, chatID int64) error
}

type CartStorage interface {
	AddToCart(ctx context.Context, userID int64, product models.Product, quantity int) error
	GetCart(ctx context.Context, userID int64) ([]models.CartItem, error)
	RemoveFromCart(ctx context.Context, userID int64, productID string) error
	ClearCart(ctx context.Context, userID int64) error
}

type DatabaseConfig struct {
	Driver string

	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	HistoryLimit  int
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// New opens the backend selected by cfg. UseInMemory wins over Driver.
func New(ctx context.Context, cfg DatabaseConfig) (Storage, error) {
	driver := cfg.Driver
	if cfg.UseInMemory {
		driver = DriverMemory
	}
	switch driver {
	case "", DriverMemory:
		return NewMemoryStorage(), nil
	case DriverPostgres:
		return NewPostgresStorage(ctx, cfg)
	case DriverRedis:
		return NewRedisStorage(ctx, cfg)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func validQuantity(q int) int {
	if q <= 0 {
		return 1
	}
	return q
}
