package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/aurora-bot/internal/backend"
	"github.com/xaenox/aurora-bot/internal/catalog"
	"github.com/xaenox/aurora-bot/internal/classifier"
	"github.com/xaenox/aurora-bot/internal/models"
	"github.com/xaenox/aurora-bot/internal/render"
	"github.com/xaenox/aurora-bot/internal/storage"
	"github.com/xaenox/aurora-bot/internal/theme"
	"github.com/xaenox/aurora-bot/internal/transcript"
	"go.uber.org/zap"
)

const helpText = `Available commands:
/search <query> - Search the catalog, e.g. /search headphones under $100
/product <id> - Show the details of a product
/filter <min> <max> [rating] - Filter the last results, /filter reset to clear
/cart - Show your cart
/checkout - Place the order for everything in your cart
/theme [light|dark] - Switch between light and dark
/clear - Start a new conversation
/health - Check the shop backend
/help - Show this help message

Or just write what you are looking for and the assistant will answer.`

var checkoutSuggestions = []string{"Track my order", "Recommend accessories", "Show today's deals"}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	s := b.session(ctx, message.Chat.ID, userID(message.From, message.Chat.ID))
	args := strings.TrimSpace(message.CommandArguments())

	switch message.Command() {
	case "start":
		b.handleStart(s)
	case "help":
		b.sendMessage(s.chatID, helpText)
	case "search":
		b.handleSearch(ctx, s, args)
	case "product":
		b.handleProduct(ctx, s, args)
	case "filter":
		b.handleFilter(ctx, s, args)
	case "theme":
		b.handleTheme(ctx, s, args)
	case "cart":
		b.handleCart(ctx, s)
	case "checkout":
		b.handleCheckout(ctx, s)
	case "clear":
		b.handleClear(ctx, s)
	case "health":
		b.handleHealth(ctx, s)
	default:
		b.sendMessage(s.chatID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(s *session) {
	msg := s.transcript.AppendAssistant(b.opts.Greeting, classifier.DefaultSuggestions)
	s.setSuggestions(msg.Suggestions)

	text := render.EscapeMarkdown(msg.Content) + "\n\n" + render.EscapeMarkdown("Try one of these or type your own question. /help lists every command.")
	b.reply(s.chatID, text, keyboard(msg.Suggestions, nil))
}

func (b *Bot) handleSearch(ctx context.Context, s *session, args string) {
	if args == "" {
		b.sendMessage(s.chatID, "Usage: /search <query>, e.g. /search running shoes under $80")
		return
	}

	q := b.classifier.Classify(ctx, args)
	id, searchCtx, cancel := s.beginSearch(ctx)
	defer cancel()
	defer s.finishSearch(id)

	started := time.Now()
	resp, err := b.search(searchCtx, q)
	if !s.results.Current(id) {
		b.logger.Debug("Dropping superseded search",
			zap.Int64("chat_id", s.chatID),
			zap.String("query", q.Text))
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		b.logger.Error("Search failed",
			zap.Error(err),
			zap.Int64("chat_id", s.chatID),
			zap.String("query", q.Text))
		if errors.Is(err, backend.ErrUnavailable) {
			b.sendMessage(s.chatID, transcript.FailureText)
			return
		}
		b.sendErrorMessage(s.chatID, "Search failed. Please try again.")
		return
	}

	page := catalog.PageOf(q.Text, resp, time.Since(started))
	if !q.Filters.Empty() {
		spec := q.FilterSpec(s.results.Filter())
		page.Filter = &spec
	}
	shown, err := s.results.Replace(id, page)
	if err != nil {
		b.logger.Debug("Dropping superseded search",
			zap.Int64("chat_id", s.chatID),
			zap.String("query", q.Text))
		return
	}
	if page.Filter != nil {
		b.saveFilter(ctx, s, *page.Filter)
	}
	s.remember(page.Products)

	b.reply(s.chatID, render.MarkdownV2.SearchResults(s.results, s.theme.Palette(), 10), keyboard(nil, shown))
}

// search browses the category listing when the query only names a catalog
// category, and runs a semantic search otherwise or when the listing is
// empty.
func (b *Bot) search(ctx context.Context, q classifier.Query) (*models.SearchResponse, error) {
	if q.Filters.Empty() && classifier.Category(q.Text) {
		resp, err := b.backend.Category(ctx, q.Text, b.opts.SearchLimit)
		switch {
		case err == nil && len(resp.Results) > 0:
			return resp, nil
		case err != nil && ctx.Err() != nil:
			return nil, err
		case err != nil:
			b.logger.Warn("Category lookup failed",
				zap.Error(err),
				zap.String("category", q.Text))
		}
	}

	req := models.SearchRequest{
		Query: q.Text,
		Limit: b.opts.SearchLimit,
	}
	if !q.Filters.Empty() {
		filters := q.Filters
		req.Filters = &filters
	}
	if b.opts.MinSimilarity > 0 {
		minSim := b.opts.MinSimilarity
		req.MinSimilarity = &minSim
	}
	return b.backend.Search(ctx, req)
}

// handleProduct shows the details of one product. The backend is asked
// first; a product the chat has already seen is the fallback.
func (b *Bot) handleProduct(ctx context.Context, s *session, id string) {
	if id == "" {
		b.sendMessage(s.chatID, "Usage: /product <id>")
		return
	}

	p, err := b.backend.Product(ctx, id)
	if err != nil {
		var herr *backend.HTTPError
		notFound := errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound
		if !notFound {
			b.logger.Warn("Failed to fetch product",
				zap.Error(err),
				zap.String("product_id", id))
		}
		known, ok := s.product(id)
		switch {
		case ok:
			p = &known
		case notFound:
			b.sendErrorMessage(s.chatID, "No product with id "+id+".")
			return
		default:
			b.sendMessage(s.chatID, transcript.FailureText)
			return
		}
	}

	s.remember([]models.Product{*p})
	var markup *tgbotapi.InlineKeyboardMarkup
	if data := callbackAdd + p.ID; len(data) <= maxCallbackData {
		m := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🛒 Add to cart", data),
		))
		markup = &m
	}
	b.reply(s.chatID, render.MarkdownV2.ProductDetail(*p, s.theme.Palette()), markup)
}

func (b *Bot) handleFilter(ctx context.Context, s *session, args string) {
	var spec models.FilterSpec
	switch {
	case args == "":
		b.sendMessage(s.chatID, fmt.Sprintf("Current filter: %s\nUsage: /filter <min> <max> [rating] or /filter reset",
			catalog.Describe(s.results.Filter())))
		return
	case strings.EqualFold(args, "reset"):
		spec = models.DefaultFilterSpec()
	default:
		var err error
		spec, err = catalog.ParseFilterArgs(strings.Fields(args))
		if err != nil {
			b.sendErrorMessage(s.chatID, err.Error())
			return
		}
	}

	s.results.SetFilter(spec)
	b.saveFilter(ctx, s, spec)

	if s.results.Query() == "" {
		b.sendMessage(s.chatID, "Filter set to "+catalog.Describe(spec)+". It applies to your next /search.")
		return
	}
	b.reply(s.chatID, render.MarkdownV2.SearchResults(s.results, s.theme.Palette(), 10), keyboard(nil, s.results.Results()))
}

func (b *Bot) saveFilter(ctx context.Context, s *session, spec models.FilterSpec) {
	if err := b.storage.SaveFilter(ctx, s.userID, spec); err != nil {
		b.logger.Error("Failed to save filter",
			zap.Error(err),
			zap.Int64("user_id", s.userID))
	}
}

func (b *Bot) handleTheme(ctx context.Context, s *session, args string) {
	var (
		next theme.Theme
		err  error
	)
	if args == "" || strings.EqualFold(args, "toggle") {
		next, err = s.theme.Toggle(ctx)
	} else {
		t, ok := theme.Parse(args)
		if !ok {
			b.sendMessage(s.chatID, "Usage: /theme [light|dark]")
			return
		}
		next, err = t, s.theme.Set(ctx, t)
	}
	if err != nil {
		b.logger.Error("Failed to change theme",
			zap.Error(err),
			zap.Int64("user_id", s.userID))
		b.sendErrorMessage(s.chatID, "Couldn't save your theme. Please try again later.")
		return
	}

	pal := next.Palette()
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(pal.Toggle+" Switch theme", callbackTheme),
	))
	b.reply(s.chatID, render.EscapeMarkdown(fmt.Sprintf("%s Theme set to %s.", pal.Assistant, next)), &markup)
}

func (b *Bot) handleCart(ctx context.Context, s *session) {
	items, err := b.storage.GetCart(ctx, s.userID)
	if err != nil {
		b.logger.Error("Failed to get cart",
			zap.Error(err),
			zap.Int64("user_id", s.userID))
		b.sendErrorMessage(s.chatID, "Sorry, failed to retrieve your cart. Please try again later.")
		return
	}
	b.reply(s.chatID, render.MarkdownV2.Cart(items, s.theme.Palette()), cartKeyboard(items))
}

func (b *Bot) handleCheckout(ctx context.Context, s *session) {
	items, err := b.storage.GetCart(ctx, s.userID)
	if err != nil {
		b.logger.Error("Failed to get cart",
			zap.Error(err),
			zap.Int64("user_id", s.userID))
		b.sendErrorMessage(s.chatID, "Sorry, checkout failed. Please try again later.")
		return
	}
	if len(items) == 0 {
		b.sendMessage(s.chatID, "🛒 Your cart is empty.")
		return
	}
	if err := b.storage.ClearCart(ctx, s.userID); err != nil {
		b.logger.Error("Failed to clear cart",
			zap.Error(err),
			zap.Int64("user_id", s.userID))
		b.sendErrorMessage(s.chatID, "Sorry, checkout failed. Please try again later.")
		return
	}

	text := fmt.Sprintf("✅ Order placed: %d items, total $%.2f. Thank you for shopping with us!",
		models.CartCount(items), models.CartTotal(items))
	msg := s.transcript.AppendAssistant(text, checkoutSuggestions)
	b.persist(ctx, s.chatID, msg)
	s.setSuggestions(msg.Suggestions)

	b.logger.Info("Order placed",
		zap.Int64("user_id", s.userID),
		zap.Int("items", models.CartCount(items)),
		zap.Float64("total", models.CartTotal(items)))
	b.reply(s.chatID, render.EscapeMarkdown(text), keyboard(msg.Suggestions, nil))
}

func (b *Bot) handleClear(ctx context.Context, s *session) {
	s.cancelInFlight()
	s.transcript.Clear()
	s.setSuggestions(nil)
	if err := b.storage.ClearConversation(ctx, s.chatID); err != nil {
		b.logger.Error("Failed to clear conversation",
			zap.Error(err),
			zap.Int64("chat_id", s.chatID))
	}
	b.sendMessage(s.chatID, "🧹 Conversation cleared.")
}

func (b *Bot) handleHealth(ctx context.Context, s *session) {
	h, err := b.backend.Health(ctx)
	if err != nil {
		b.logger.Warn("Health check failed",
			zap.Error(err),
			zap.String("base_url", b.backend.BaseURL()))
		b.sendMessage(s.chatID, transcript.FailureText)
		return
	}
	b.reply(s.chatID, render.MarkdownV2.Health(h, b.backend.BaseURL()), nil)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil {
		b.answerCallback(cb.ID, "")
		return
	}
	s := b.session(ctx, cb.Message.Chat.ID, userID(cb.From, cb.Message.Chat.ID))

	switch data := cb.Data; {
	case strings.HasPrefix(data, callbackSuggestion):
		n, err := strconv.Atoi(strings.TrimPrefix(data, callbackSuggestion))
		text, ok := s.suggestion(n)
		if err != nil || !ok {
			b.answerCallback(cb.ID, "That suggestion has expired.")
			return
		}
		b.answerCallback(cb.ID, "")
		b.sendMessage(s.chatID, "💬 "+text)
		b.handleChat(ctx, s, text)

	case strings.HasPrefix(data, callbackAdd):
		id := strings.TrimPrefix(data, callbackAdd)
		p, ok := s.product(id)
		if !ok {
			b.answerCallback(cb.ID, "That product is no longer available.")
			return
		}
		if err := b.storage.AddToCart(ctx, s.userID, p, 1); err != nil {
			b.logger.Error("Failed to add to cart",
				zap.Error(err),
				zap.Int64("user_id", s.userID),
				zap.String("product_id", id))
			b.answerCallback(cb.ID, "Couldn't add to cart. Please try again.")
			return
		}
		b.answerCallback(cb.ID, "🛒 Added to cart: "+render.Truncate(p.Description, 40))

	case strings.HasPrefix(data, callbackProduct):
		b.answerCallback(cb.ID, "")
		b.handleProduct(ctx, s, strings.TrimPrefix(data, callbackProduct))

	case strings.HasPrefix(data, callbackRemove):
		id := strings.TrimPrefix(data, callbackRemove)
		err := b.storage.RemoveFromCart(ctx, s.userID, id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			b.logger.Error("Failed to remove from cart",
				zap.Error(err),
				zap.Int64("user_id", s.userID),
				zap.String("product_id", id))
			b.answerCallback(cb.ID, "Couldn't update your cart.")
			return
		}
		b.answerCallback(cb.ID, "Removed")
		b.refreshCart(ctx, s, cb.Message.MessageID)

	case data == callbackCheckout:
		b.answerCallback(cb.ID, "")
		b.handleCheckout(ctx, s)

	case data == callbackTheme:
		b.answerCallback(cb.ID, "")
		b.handleTheme(ctx, s, "toggle")

	default:
		b.answerCallback(cb.ID, "")
	}
}

func (b *Bot) refreshCart(ctx context.Context, s *session, messageID int) {
	items, err := b.storage.GetCart(ctx, s.userID)
	if err != nil {
		b.logger.Error("Failed to get cart",
			zap.Error(err),
			zap.Int64("user_id", s.userID))
		return
	}
	if err := b.editMarkdown(s.chatID, messageID, render.MarkdownV2.Cart(items, s.theme.Palette()), cartKeyboard(items)); err != nil {
		b.logger.Warn("Failed to refresh cart",
			zap.Error(err),
			zap.Int64("chat_id", s.chatID))
	}
}
