package bot

import (
	"context"
	"sync"

	"github.com/xaenox/aurora-bot/internal/catalog"
	"github.com/xaenox/aurora-bot/internal/models"
	"github.com/xaenox/aurora-bot/internal/theme"
	"github.com/xaenox/aurora-bot/internal/transcript"
	"go.uber.org/zap"
)

const maxKnownProducts = 200

// session is the per-chat state: the conversation, the last search results,
// the user's theme and the requests currently in flight. Lock order is s.mu
// before the transcript's and result set's own locks.
type session struct {
	chatID int64
	userID int64

	transcript *transcript.Transcript
	results    *catalog.ResultSet
	theme      *theme.Context

	mu           sync.Mutex
	inflight     uint64
	cancel       context.CancelFunc
	searchID     uint64
	searchCancel context.CancelFunc
	suggestions  []string
	known        map[string]models.Product
}

func (b *Bot) session(ctx context.Context, chatID, userID int64) *session {
	b.mu.Lock()
	s, ok := b.sessions[chatID]
	b.mu.Unlock()
	if ok {
		return s
	}

	// Storage is read without b.mu so a slow store only delays this chat.
	filter := models.DefaultFilterSpec()
	if prefs, err := b.storage.GetPreferences(ctx, userID); err != nil {
		b.logger.Warn("Failed to load preferences",
			zap.Error(err),
			zap.Int64("user_id", userID))
	} else {
		filter = prefs.Filter
	}

	tr := transcript.New(chatID)
	if history, err := b.storage.RecentMessages(ctx, chatID, b.opts.HistoryLimit*2); err != nil {
		b.logger.Warn("Failed to restore conversation",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	} else {
		tr.Restore(history)
	}

	loaded := &session{
		chatID:     chatID,
		userID:     userID,
		transcript: tr,
		results:    catalog.NewResultSet(filter),
		theme:      theme.Load(ctx, b.storage, userID, b.logger),
		known:      make(map[string]models.Product),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[chatID]; ok {
		return s
	}
	b.sessions[chatID] = loaded
	return loaded
}

// beginTurn opens a new turn and registers its stream in one step, so the
// newest turn always owns the in-flight slot. The stream it replaces is
// cancelled.
func (s *session) beginTurn(ctx context.Context, query string) (*transcript.Turn, context.Context, context.CancelFunc) {
	streamCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	turn := s.transcript.Begin(query)
	prev := s.cancel
	s.inflight = turn.ID()
	s.cancel = cancel
	s.mu.Unlock()

	if prev != nil {
		prev()
	}
	return turn, streamCtx, cancel
}

// beginSearch takes the id of a new search and cancels the one still
// running. Results of a search whose id is no longer current are dropped.
func (s *session) beginSearch(ctx context.Context) (uint64, context.Context, context.CancelFunc) {
	searchCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	id := s.results.Begin()
	prev := s.searchCancel
	s.searchID = id
	s.searchCancel = cancel
	s.mu.Unlock()

	if prev != nil {
		prev()
	}
	return id, searchCtx, cancel
}

func (s *session) finishSearch(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchID == id {
		s.searchID = 0
		s.searchCancel = nil
	}
}

// finish clears the in-flight stream if it is still turn id.
func (s *session) finish(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == id {
		s.inflight = 0
		s.cancel = nil
	}
}

func (s *session) cancelInFlight() {
	s.mu.Lock()
	cancel, searchCancel := s.cancel, s.searchCancel
	s.inflight = 0
	s.cancel = nil
	s.searchID = 0
	s.searchCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if searchCancel != nil {
		searchCancel()
	}
}

func (s *session) setSuggestions(suggestions []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggestions = append([]string(nil), suggestions...)
}

func (s *session) suggestion(n int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 || n >= len(s.suggestions) {
		return "", false
	}
	return s.suggestions[n], true
}

// remember records products shown to the user so add-to-cart buttons can
// resolve them later.
func (s *session) remember(products []models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.known)+len(products) > maxKnownProducts {
		s.known = make(map[string]models.Product)
	}
	for _, p := range products {
		s.known[p.ID] = p
	}
}

func (s *session) product(id string) (models.Product, bool) {
	if p, ok := s.results.Find(id); ok {
		return p, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.known[id]
	return p, ok
}

func (b *Bot) cancelAll() {
	b.mu.Lock()
	sessions := make([]*session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		s.cancelInFlight()
	}
}
