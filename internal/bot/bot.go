package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/aurora-bot/internal/classifier"
	"github.com/xaenox/aurora-bot/internal/models"
	"github.com/xaenox/aurora-bot/internal/storage"
	"github.com/xaenox/aurora-bot/internal/transcript"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sender is the part of the Telegram API the bot talks to.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Backend is the storefront API.
type Backend interface {
	Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
	Category(ctx context.Context, term string, limit int) (*models.SearchResponse, error)
	Product(ctx context.Context, id string) (*models.Product, error)
	StreamChat(ctx context.Context, req models.ChatRequest, onEvent func(models.StreamEvent) error) (*models.ChatResponse, error)
	Health(ctx context.Context) (*models.HealthStatus, error)
	BaseURL() string
}

type Options struct {
	Greeting       string
	RevealInterval time.Duration
	EditInterval   time.Duration
	HealthInterval time.Duration
	SearchLimit    int
	HistoryLimit   int
	MinSimilarity  float64
}

func (o Options) withDefaults() Options {
	if o.Greeting == "" {
		o.Greeting = "Hi! I'm your shopping assistant. Ask me about products, prices or recommendations."
	}
	if o.RevealInterval <= 0 {
		o.RevealInterval = transcript.DefaultRevealInterval
	}
	if o.EditInterval <= 0 {
		o.EditInterval = time.Second
	}
	if o.SearchLimit <= 0 {
		o.SearchLimit = 20
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 10
	}
	return o
}

type Bot struct {
	api        Sender
	backend    Backend
	storage    storage.Storage
	classifier classifier.Classifier
	opts       Options
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[int64]*session

	healthy atomic.Bool
	wg      sync.WaitGroup
}

func New(api Sender, backend Backend, store storage.Storage, clf classifier.Classifier, opts Options, logger *zap.Logger) *Bot {
	if clf == nil {
		clf = classifier.NewSimpleClassifier()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		api:        api,
		backend:    backend,
		storage:    store,
		classifier: clf,
		opts:       opts.withDefaults(),
		logger:     logger,
		sessions:   make(map[int64]*session),
	}
}

// NewTelegram connects to the Bot API with token.
func NewTelegram(token string, debug bool) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = debug
	return api, nil
}

// Run consumes updates until ctx is done or the channel closes, and checks
// backend health alongside. In-flight handlers are waited for before it
// returns.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return b.consume(ctx, updates)
	})
	if b.opts.HealthInterval > 0 {
		g.Go(func() error {
			return b.monitorHealth(ctx)
		})
	}

	err := g.Wait()
	b.cancelAll()
	b.wg.Wait()
	return err
}

func (b *Bot) consume(ctx context.Context, updates <-chan tgbotapi.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleUpdate(ctx, update)
			}()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.Chat == nil {
		return
	}

	// Handle commands
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	text := message.Text
	if text == "" {
		text = message.Caption
	}
	if text == "" {
		return
	}

	s := b.session(ctx, message.Chat.ID, userID(message.From, message.Chat.ID))
	b.handleChat(ctx, s, text)
}

func (b *Bot) monitorHealth(ctx context.Context) error {
	ticker := time.NewTicker(b.opts.HealthInterval)
	defer ticker.Stop()

	b.checkHealth(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.checkHealth(ctx)
		}
	}
}

func (b *Bot) checkHealth(ctx context.Context) {
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	h, err := b.backend.Health(hctx)
	healthy := err == nil && h.Healthy()
	if prev := b.healthy.Swap(healthy); prev == healthy {
		return
	}
	if healthy {
		b.logger.Info("Backend is healthy",
			zap.String("base_url", b.backend.BaseURL()),
			zap.String("version", h.Version))
		return
	}
	fields := []zap.Field{zap.String("base_url", b.backend.BaseURL())}
	if err != nil {
		fields = append(fields, zap.Error(err))
	} else {
		fields = append(fields, zap.String("status", h.Status))
	}
	b.logger.Warn("Backend is unhealthy", fields...)
}

// BackendHealthy reports the result of the last periodic health check.
func (b *Bot) BackendHealthy() bool {
	return b.healthy.Load()
}

func userID(from *tgbotapi.User, chatID int64) int64 {
	if from != nil {
		return from.ID
	}
	return chatID
}
