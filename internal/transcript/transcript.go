// Package transcript assembles a chat conversation from user input and the
// backend's streamed agent events.
package transcript

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/aurora-bot/internal/models"
)

var (
	// ErrStale is returned when an event belongs to a request that has since
	// been superseded by a newer one.
	ErrStale = errors.New("transcript: stale request")
	// ErrFinalized is returned when an event arrives for a message that has
	// already completed or failed.
	ErrFinalized = errors.New("transcript: message already finalized")
)

const (
	PlaceholderText = "✨ Analyzing your request..."
	FailureText     = "❌ Unable to connect. Please check that the backend service is running."
	CompletedText   = "Response completed"
)

// Transcript is the ordered message list of one conversation. At most one
// assistant message is in flight at a time and it is always the last message.
type Transcript struct {
	mu       sync.Mutex
	chatID   int64
	messages []*models.Message
	current  uint64
	active   *Turn
	now      func() time.Time
}

func New(chatID int64) *Transcript {
	return &Transcript{
		chatID: chatID,
		now:    time.Now,
	}
}

func (t *Transcript) newMessage(role models.Role, text string, status models.MessageStatus) *models.Message {
	return &models.Message{
		ID:        uuid.New().String(),
		ChatID:    t.chatID,
		Role:      role,
		Content:   text,
		Status:    status,
		CreatedAt: t.now(),
	}
}

// insertLocked appends m, keeping an in-flight placeholder in last position.
func (t *Transcript) insertLocked(m *models.Message) {
	if t.active != nil {
		if idx := t.indexLocked(t.active.msg); idx >= 0 {
			t.messages = append(t.messages, nil)
			copy(t.messages[idx+1:], t.messages[idx:])
			t.messages[idx] = m
			return
		}
	}
	t.messages = append(t.messages, m)
}

func (t *Transcript) indexLocked(m *models.Message) int {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i] == m {
			return i
		}
	}
	return -1
}

func (t *Transcript) removeLocked(m *models.Message) {
	if idx := t.indexLocked(m); idx >= 0 {
		t.messages = append(t.messages[:idx], t.messages[idx+1:]...)
	}
}

func (t *Transcript) AppendUser(text string) *models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.newMessage(models.RoleUser, text, models.StatusComplete)
	t.insertLocked(m)
	return m.Clone()
}

// AppendAssistant adds a finished assistant message that did not come from a
// stream, such as a greeting or a cart confirmation.
func (t *Transcript) AppendAssistant(text string, suggestions []string) *models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.newMessage(models.RoleAssistant, text, models.StatusComplete)
	if len(suggestions) > 0 {
		m.Suggestions = append([]string(nil), suggestions...)
	}
	t.insertLocked(m)
	return m.Clone()
}

// Restore replaces the transcript with previously persisted messages. Any
// in-flight request is abandoned.
func (t *Transcript) Restore(messages []*models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active != nil {
		t.abandonLocked(t.active)
		t.current++
	}
	t.messages = t.messages[:0]
	for _, m := range messages {
		if m == nil || !m.Status.Terminal() {
			continue
		}
		t.messages = append(t.messages, m.Clone())
	}
}

func (t *Transcript) Clear() {
	t.Restore(nil)
}

func (t *Transcript) Messages() []*models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*models.Message, 0, len(t.messages))
	for _, m := range t.messages {
		out = append(out, m.Clone())
	}
	return out
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *Transcript) Last() *models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) == 0 {
		return nil
	}
	return t.messages[len(t.messages)-1].Clone()
}

// InFlight returns the message of the active request, if any.
func (t *Transcript) InFlight() *models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return nil
	}
	return t.active.msg.Clone()
}

// History returns the conversation context to send with the next request:
// finished user and assistant messages, oldest first, at most limit entries
// when limit is positive.
func (t *Transcript) History(limit int) []models.HistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.HistoryEntry, 0, len(t.messages))
	for _, m := range t.messages {
		if m.Status != models.StatusComplete || m.Content == "" {
			continue
		}
		out = append(out, models.HistoryEntry{Role: m.Role, Content: m.Content})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Begin opens a new request and appends its pending placeholder. A request
// still in flight is superseded: its placeholder is removed and any event it
// receives later is rejected as stale.
func (t *Transcript) Begin(query string) *Turn {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active != nil {
		t.abandonLocked(t.active)
	}

	t.current++
	m := t.newMessage(models.RoleAssistant, PlaceholderText, models.StatusPending)
	m.Execution = &models.ExecutionTrace{}
	t.messages = append(t.messages, m)

	turn := &Turn{
		tr:    t,
		id:    t.current,
		query: query,
		msg:   m,
		path:  []models.MessageStatus{models.StatusPending},
	}
	t.active = turn
	return turn
}

func (t *Transcript) abandonLocked(turn *Turn) {
	if !turn.msg.Status.Terminal() {
		turn.advanceLocked(models.StatusFailed)
		t.removeLocked(turn.msg)
	}
	if t.active == turn {
		t.active = nil
	}
}
