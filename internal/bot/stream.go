package bot

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/aurora-bot/internal/backend"
	"github.com/xaenox/aurora-bot/internal/models"
	"github.com/xaenox/aurora-bot/internal/render"
	"github.com/xaenox/aurora-bot/internal/transcript"
	"go.uber.org/zap"
)

type streamResult struct {
	final *models.ChatResponse
	err   error
}

// handleChat sends text to the streaming chat endpoint and keeps one
// Telegram message in sync with the assistant's answer while it streams.
func (b *Bot) handleChat(ctx context.Context, s *session, text string) {
	history := s.transcript.History(b.opts.HistoryLimit)

	userMsg := s.transcript.AppendUser(text)
	b.persist(ctx, s.chatID, userMsg)

	turn, streamCtx, cancel := s.beginTurn(ctx, text)
	defer cancel()
	defer s.finish(turn.ID())

	placeholder, err := b.sendMarkdown(s.chatID, render.MarkdownV2.Message(turn.Snapshot(), s.theme.Palette(), 0), nil)
	if err != nil {
		b.logger.Error("Failed to send placeholder",
			zap.Error(err),
			zap.Int64("chat_id", s.chatID))
		b.failTurn(ctx, s, turn, 0, nil)
		return
	}

	if err := turn.Start(); err != nil {
		b.deleteMessage(s.chatID, placeholder)
		return
	}

	events := make(chan models.StreamEvent, 16)
	done := make(chan streamResult, 1)
	req := models.ChatRequest{Message: text, ConversationHistory: history}
	go func() {
		final, err := b.backend.StreamChat(streamCtx, req, func(ev models.StreamEvent) error {
			select {
			case events <- ev:
				return nil
			case <-streamCtx.Done():
				return streamCtx.Err()
			}
		})
		done <- streamResult{final: final, err: err}
	}()

	ed := &editor{bot: b, chatID: s.chatID, messageID: placeholder, interval: b.opts.EditInterval}
	var reveal transcript.Reveal
	ticker := time.NewTicker(b.opts.RevealInterval)
	defer ticker.Stop()

	apply := func(ev models.StreamEvent) bool {
		if err := turn.Apply(ev); err != nil {
			if !errors.Is(err, transcript.ErrFinalized) {
				b.logger.Debug("Dropping stream event",
					zap.Error(err),
					zap.String("turn", turn.String()),
					zap.String("type", string(ev.Type)))
			}
			return false
		}
		return true
	}

	for {
		select {
		case ev := <-events:
			if !apply(ev) && turn.State() != models.StatusComplete {
				cancel()
				b.deleteMessage(s.chatID, placeholder)
				return
			}
			if turn.State() == models.StatusThinking {
				snap := turn.Snapshot()
				ed.update(render.MarkdownV2.Message(snap, s.theme.Palette(), reveal.Visible(stepCount(snap), true)), false)
			}

		case <-ticker.C:
			snap := turn.Snapshot()
			if snap.Status != models.StatusThinking {
				continue
			}
			if reveal.Advance(stepCount(snap)) {
				ed.update(render.MarkdownV2.Message(snap, s.theme.Palette(), reveal.Visible(stepCount(snap), true)), false)
			}
			ed.flush()

		case res := <-done:
			// The callback returns before StreamChat does, so anything left
			// in the buffer belongs to this stream.
			for drained := false; !drained; {
				select {
				case ev := <-events:
					apply(ev)
				default:
					drained = true
				}
			}
			b.finishTurn(ctx, s, turn, ed, res)
			return
		}
	}
}

func (b *Bot) finishTurn(ctx context.Context, s *session, turn *transcript.Turn, ed *editor, res streamResult) {
	if turn.State() == models.StatusComplete {
		msg := turn.Snapshot()
		s.setSuggestions(msg.Suggestions)
		s.remember(msg.Products)
		ed.final(render.MarkdownV2.Message(msg, s.theme.Palette(), 0), keyboard(msg.Suggestions, msg.Products))
		b.persist(ctx, s.chatID, msg)
		return
	}

	b.failTurn(ctx, s, turn, ed.messageID, res.err)
}

// failTurn marks turn failed, replaces its placeholder (if one was sent)
// with the failure message and stores it. A turn superseded by a newer
// request only loses its placeholder.
func (b *Bot) failTurn(ctx context.Context, s *session, turn *transcript.Turn, placeholder int, cause error) {
	failed, err := turn.Fail()
	b.deleteMessage(s.chatID, placeholder)
	if err != nil {
		return
	}

	fields := []zap.Field{zap.Int64("chat_id", s.chatID), zap.String("turn", turn.String())}
	switch {
	case cause == nil:
	case errors.Is(cause, backend.ErrStreamIncomplete):
		b.logger.Warn("Stream ended without completion", fields...)
	default:
		b.logger.Error("Streaming chat failed", append(fields, zap.Error(cause))...)
	}

	if _, err := b.sendMarkdown(s.chatID, render.MarkdownV2.Message(failed, s.theme.Palette(), 0), nil); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", s.chatID))
	}
	b.persist(ctx, s.chatID, failed)
}

func stepCount(m *models.Message) int {
	if m.Execution == nil {
		return 0
	}
	return len(m.Execution.AgentSteps)
}

func (b *Bot) persist(ctx context.Context, chatID int64, msg *models.Message) {
	if err := b.storage.AppendMessage(ctx, chatID, msg); err != nil {
		b.logger.Error("Failed to save message",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.Int64("chat_id", chatID))
	}
}
