package bot

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/aurora-bot/internal/models"
	"github.com/xaenox/aurora-bot/internal/render"
	"go.uber.org/zap"
)

const (
	callbackSuggestion = "sug:"
	callbackAdd        = "add:"
	callbackProduct    = "prod:"
	callbackRemove     = "rm:"
	callbackCheckout   = "checkout"
	callbackTheme      = "theme"

	// Telegram rejects callback data longer than 64 bytes.
	maxCallbackData = 64
	maxButtonLabel  = 28
	maxProductKeys  = 5
)

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	b.sendMessage(chatID, "⚠️ "+text)
}

// sendMarkdown sends MarkdownV2 text and returns the new message id.
func (b *Bot) sendMarkdown(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (b *Bot) reply(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	if _, err := b.sendMarkdown(chatID, text, markup); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) editMarkdown(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	var edit tgbotapi.EditMessageTextConfig
	if markup != nil {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, *markup)
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	edit.ParseMode = tgbotapi.ModeMarkdownV2
	_, err := b.api.Send(edit)
	return err
}

func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.logger.Warn("Failed to delete message",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", messageID))
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.logger.Warn("Failed to answer callback",
			zap.Error(err),
			zap.String("callback_id", id))
	}
}

// editor rate-limits live edits of one message. Identical text is never
// sent twice since Telegram rejects such edits.
type editor struct {
	bot       *Bot
	chatID    int64
	messageID int
	interval  time.Duration

	last     string
	lastSent time.Time
	pending  string
}

func (e *editor) update(text string, force bool) {
	if text == e.last {
		e.pending = ""
		return
	}
	if !force && time.Since(e.lastSent) < e.interval {
		e.pending = text
		return
	}
	if err := e.bot.editMarkdown(e.chatID, e.messageID, text, nil); err != nil {
		e.bot.logger.Debug("Failed to edit message",
			zap.Error(err),
			zap.Int64("chat_id", e.chatID))
		return
	}
	e.last = text
	e.lastSent = time.Now()
	e.pending = ""
}

// flush sends text held back by the rate limit once the interval passed.
func (e *editor) flush() {
	if e.pending == "" || time.Since(e.lastSent) < e.interval {
		return
	}
	e.update(e.pending, true)
}

// final writes the finished render and its keyboard, regardless of the
// rate limit.
func (e *editor) final(text string, markup *tgbotapi.InlineKeyboardMarkup) {
	if err := e.bot.editMarkdown(e.chatID, e.messageID, text, markup); err != nil {
		e.bot.logger.Error("Failed to edit message",
			zap.Error(err),
			zap.Int64("chat_id", e.chatID))
		return
	}
	e.last = text
	e.lastSent = time.Now()
}

// keyboard builds the inline buttons under an answer: one row per
// suggestion, then a cart and a details button for each of the first
// products.
func keyboard(suggestions []string, products []models.Product) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, s := range suggestions {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(render.Truncate(s, maxButtonLabel*2), fmt.Sprintf("%s%d", callbackSuggestion, i)),
		))
	}
	rows = append(rows, productRows(products)...)
	if len(rows) == 0 {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func productRows(products []models.Product) [][]tgbotapi.InlineKeyboardButton {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range products {
		if len(rows) == maxProductKeys {
			break
		}
		data := callbackAdd + p.ID
		if p.ID == "" || len(data) > maxCallbackData {
			continue
		}
		label := strings.TrimSpace(p.Description)
		if label == "" {
			label = p.ID
		}
		row := tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🛒 "+render.Truncate(label, maxButtonLabel), data),
		)
		if detail := callbackProduct + p.ID; len(detail) <= maxCallbackData {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("ℹ️ Details", detail))
		}
		rows = append(rows, row)
	}
	return rows
}

func cartKeyboard(items []models.CartItem) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, it := range items {
		data := callbackRemove + it.Product.ID
		if len(data) > maxCallbackData {
			continue
		}
		label := it.Product.Description
		if label == "" {
			label = it.Product.ID
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ "+render.Truncate(label, maxButtonLabel), data),
		))
	}
	if len(items) > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Checkout", callbackCheckout),
		))
	}
	if len(rows) == 0 {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}
