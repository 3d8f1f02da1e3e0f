package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xaenox/aurora-bot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(ctx context.Context, config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db}

	if err := storage.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema(ctx context.Context) error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetPreferences(ctx context.Context, userID int64) (*models.Preferences, error) {
	query := `
		SELECT theme, min_price, max_price, min_rating, updated_at
		FROM user_preferences
		WHERE user_id = $1`

	p := &models.Preferences{UserID: userID}
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&p.Theme,
		&p.Filter.MinPrice,
		&p.Filter.MaxPrice,
		&p.Filter.MinRating,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultPreferences(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying preferences: %w", err)
	}
	return p, nil
}

func (s *PostgresStorage) LoadTheme(ctx context.Context, userID int64) (string, error) {
	var theme string
	err := s.db.QueryRowContext(ctx,
		`SELECT theme FROM user_preferences WHERE user_id = $1`, userID).Scan(&theme)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("error querying theme: %w", err)
	}
	return theme, nil
}

func (s *PostgresStorage) SaveTheme(ctx context.Context, userID int64, theme string) error {
	query := `
		INSERT INTO user_preferences (user_id, theme, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET theme = EXCLUDED.theme, updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query, userID, theme, time.Now()); err != nil {
		return fmt.Errorf("error saving theme: %w", err)
	}
	return nil
}

func (s *PostgresStorage) SaveFilter(ctx context.Context, userID int64, filter models.FilterSpec) error {
	query := `
		INSERT INTO user_preferences (user_id, min_price, max_price, min_rating, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET min_price = EXCLUDED.min_price,
		    max_price = EXCLUDED.max_price,
		    min_rating = EXCLUDED.min_rating,
		    updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		userID, filter.MinPrice, filter.MaxPrice, filter.MinRating, time.Now())
	if err != nil {
		return fmt.Errorf("error saving filter: %w", err)
	}
	return nil
}

func (s *PostgresStorage) AppendMessage(ctx context.Context, chatID int64, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	products, err := json.Marshal(nonNilProducts(msg.Products))
	if err != nil {
		return fmt.Errorf("error encoding products: %w", err)
	}
	var execution any
	if msg.Execution != nil {
		raw, err := json.Marshal(msg.Execution)
		if err != nil {
			return fmt.Errorf("error encoding execution trace: %w", err)
		}
		execution = raw
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO chat_messages (id, chat_id, role, content, products, suggestions, agent, status, execution, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		chatID,
		string(msg.Role),
		msg.Content,
		products,
		pq.Array(nonNilStrings(msg.Suggestions)),
		msg.Agent,
		string(msg.Status),
		execution,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("error saving message: %w", err)
	}
	return nil
}

func (s *PostgresStorage) RecentMessages(ctx context.Context, chatID int64, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, role, content, products, suggestions, agent, status, execution, created_at
		FROM (
			SELECT * FROM chat_messages
			WHERE chat_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var (
			m         = &models.Message{ChatID: chatID}
			role      string
			status    string
			products  []byte
			execution []byte
		)
		err := rows.Scan(
			&m.ID,
			&role,
			&m.Content,
			&products,
			pq.Array(&m.Suggestions),
			&m.Agent,
			&status,
			&execution,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		m.Role = models.Role(role)
		m.Status = models.MessageStatus(status)
		if len(products) > 0 {
			if err := json.Unmarshal(products, &m.Products); err != nil {
				return nil, fmt.Errorf("error decoding products: %w", err)
			}
		}
		if len(execution) > 0 {
			m.Execution = &models.ExecutionTrace{}
			if err := json.Unmarshal(execution, m.Execution); err != nil {
				return nil, fmt.Errorf("error decoding execution trace: %w", err)
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func (s *PostgresStorage) ClearConversation(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("error clearing conversation: %w", err)
	}
	return nil
}

func (s *PostgresStorage) AddToCart(ctx context.Context, userID int64, product models.Product, quantity int) error {
	raw, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("error encoding product: %w", err)
	}
	query := `
		INSERT INTO cart_items (user_id, product_id, product, quantity, added_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, product_id) DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity`

	_, err = s.db.ExecContext(ctx, query, userID, product.ID, raw, validQuantity(quantity), time.Now())
	if err != nil {
		return fmt.Errorf("error adding to cart: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetCart(ctx context.Context, userID int64) ([]models.CartItem, error) {
	query := `
		SELECT product, quantity, added_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY added_at ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying cart: %w", err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var (
			it  models.CartItem
			raw []byte
		)
		if err := rows.Scan(&raw, &it.Quantity, &it.AddedAt); err != nil {
			return nil, fmt.Errorf("error scanning cart item: %w", err)
		}
		if err := json.Unmarshal(raw, &it.Product); err != nil {
			return nil, fmt.Errorf("error decoding cart product: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart: %w", err)
	}
	return items, nil
}

func (s *PostgresStorage) RemoveFromCart(ctx context.Context, userID int64, productID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`, userID, productID)
	if err != nil {
		return fmt.Errorf("error removing cart item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) ClearCart(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("error clearing cart: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func nonNilProducts(p []models.Product) []models.Product {
	if p == nil {
		return []models.Product{}
	}
	return p
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
