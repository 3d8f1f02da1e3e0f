package bot

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/aurora-bot/internal/backend"
	"github.com/xaenox/aurora-bot/internal/classifier"
	"github.com/xaenox/aurora-bot/internal/models"
	"github.com/xaenox/aurora-bot/internal/render"
	"github.com/xaenox/aurora-bot/internal/storage"
	"github.com/xaenox/aurora-bot/internal/transcript"
	"go.uber.org/zap"
)

type fakeSender struct {
	mu     sync.Mutex
	nextID int
	sent   []tgbotapi.Chattable
	// failSends makes that many of the next Send calls fail.
	failSends int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends > 0 {
		f.failSends--
		return tgbotapi.Message{}, errors.New("telegram: too many requests")
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: 100 + f.nextID}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) all() []tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), f.sent...)
}

func (f *fakeSender) messages() []tgbotapi.MessageConfig {
	var out []tgbotapi.MessageConfig
	for _, c := range f.all() {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSender) edits() []tgbotapi.EditMessageTextConfig {
	var out []tgbotapi.EditMessageTextConfig
	for _, c := range f.all() {
		if m, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSender) deletes() []tgbotapi.DeleteMessageConfig {
	var out []tgbotapi.DeleteMessageConfig
	for _, c := range f.all() {
		if m, ok := c.(tgbotapi.DeleteMessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

type fakeBackend struct {
	mu         sync.Mutex
	events     []models.StreamEvent
	err        error
	search     *models.SearchResponse
	searches   []models.SearchRequest
	chats      []models.ChatRequest
	category   *models.SearchResponse
	categories []string
	products   map[string]models.Product
	productErr error

	// searchFunc, when set, answers Search instead of search.
	searchFunc func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
}

func (f *fakeBackend) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	f.mu.Lock()
	f.searches = append(f.searches, req)
	fn, resp, err := f.searchFunc, f.search, f.err
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (f *fakeBackend) Category(_ context.Context, term string, _ int) (*models.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories = append(f.categories, term)
	if f.category == nil {
		return &models.SearchResponse{SearchMethod: "category"}, nil
	}
	return f.category, nil
}

func (f *fakeBackend) Product(_ context.Context, id string) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.productErr != nil {
		return nil, f.productErr
	}
	p, ok := f.products[id]
	if !ok {
		return nil, &backend.HTTPError{StatusCode: http.StatusNotFound, Message: "Product not found"}
	}
	return &p, nil
}

func (f *fakeBackend) StreamChat(_ context.Context, req models.ChatRequest, onEvent func(models.StreamEvent) error) (*models.ChatResponse, error) {
	f.mu.Lock()
	f.chats = append(f.chats, req)
	events := append([]models.StreamEvent(nil), f.events...)
	streamErr := f.err
	f.mu.Unlock()

	var final *models.ChatResponse
	for _, ev := range events {
		if err := onEvent(ev); err != nil {
			return nil, err
		}
		if ev.Type == models.EventComplete {
			final = ev.Response
			if final == nil {
				final = &models.ChatResponse{}
			}
		}
	}
	if streamErr != nil {
		return nil, streamErr
	}
	if final == nil {
		return nil, backend.ErrStreamIncomplete
	}
	return final, nil
}

func (f *fakeBackend) Health(context.Context) (*models.HealthStatus, error) {
	return &models.HealthStatus{Status: "healthy", Version: "1.0"}, nil
}

func (f *fakeBackend) BaseURL() string { return "http://backend" }

func newTestBot(t *testing.T, be *fakeBackend) (*Bot, *fakeSender, *storage.MemoryStorage) {
	t.Helper()
	sender := &fakeSender{}
	store := storage.NewMemoryStorage()
	b := New(sender, be, store, classifier.NewSimpleClassifier(), Options{
		RevealInterval: 5 * time.Millisecond,
	}, zap.NewNop())
	return b, sender, store
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: chatID},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	}}
}

func commandUpdate(chatID int64, text string) tgbotapi.Update {
	u := textUpdate(chatID, text)
	cmd := strings.Fields(text)[0]
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	return u
}

func callbackUpdate(chatID int64, messageID int, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb",
		From: &tgbotapi.User{ID: chatID},
		Message: &tgbotapi.Message{
			MessageID: messageID,
			Chat:      &tgbotapi.Chat{ID: chatID},
		},
		Data: data,
	}}
}

func callbackData(markup *tgbotapi.InlineKeyboardMarkup) []string {
	if markup == nil {
		return nil
	}
	var out []string
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData != nil {
				out = append(out, *btn.CallbackData)
			}
		}
	}
	return out
}

func streamingBackend() *fakeBackend {
	return &fakeBackend{events: []models.StreamEvent{
		{Type: models.EventAgentStep, Agent: "Orchestrator", Action: "Routing", Status: models.StepInProgress},
		{Type: models.EventToolCall, Tool: "semantic_search"},
		{Type: models.EventAgentStep, Agent: "Orchestrator", Status: models.StepCompleted},
		{Type: models.EventContent, Content: "Looking at lamps"},
		{Type: models.EventComplete, Response: &models.ChatResponse{
			Response:    "Here are two lamps.",
			Products:    []models.Product{{ID: "p1", Description: "Desk lamp", Price: 20, Quantity: 2}},
			Suggestions: []string{"Cheaper ones", "Floor lamps"},
		}},
	}}
}

func TestChat_StreamsIntoPlaceholder(t *testing.T) {
	be := streamingBackend()
	b, sender, store := newTestBot(t, be)
	ctx := context.Background()

	b.handleUpdate(ctx, textUpdate(1, "recommend a lamp"))

	msgs := sender.messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, render.EscapeMarkdown(transcript.PlaceholderText), msgs[0].Text)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, msgs[0].ParseMode)

	edits := sender.edits()
	require.NotEmpty(t, edits)
	final := edits[len(edits)-1]
	assert.Equal(t, 101, final.MessageID)
	assert.Contains(t, final.Text, `Here are two lamps\.`)
	assert.Contains(t, final.Text, "orchestrator agent")
	assert.Equal(t, []string{"sug:0", "sug:1", "add:p1", "prod:p1"}, callbackData(final.ReplyMarkup))
	assert.Empty(t, sender.deletes())

	s := b.session(ctx, 1, 1)
	history := s.transcript.Messages()
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, models.StatusComplete, history[1].Status)
	require.NotNil(t, history[1].Execution)
	assert.Len(t, history[1].Execution.AgentSteps, 1)
	assert.Len(t, history[1].Execution.ToolCalls, 1)

	stored, err := store.RecentMessages(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestChat_SendsHistoryOfEarlierTurns(t *testing.T) {
	be := streamingBackend()
	b, _, _ := newTestBot(t, be)
	ctx := context.Background()

	b.handleUpdate(ctx, textUpdate(1, "first"))
	b.handleUpdate(ctx, textUpdate(1, "second"))

	require.Len(t, be.chats, 2)
	assert.Empty(t, be.chats[0].ConversationHistory)
	assert.Equal(t, []models.HistoryEntry{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleAssistant, Content: "Here are two lamps."},
	}, be.chats[1].ConversationHistory)
}

func TestChat_IncompleteStreamFails(t *testing.T) {
	be := &fakeBackend{events: []models.StreamEvent{
		{Type: models.EventContent, Content: "partial"},
	}}
	b, sender, _ := newTestBot(t, be)
	ctx := context.Background()

	b.handleUpdate(ctx, textUpdate(1, "hello"))

	deletes := sender.deletes()
	require.Len(t, deletes, 1)
	assert.Equal(t, 101, deletes[0].MessageID)

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, render.EscapeMarkdown(transcript.FailureText), msgs[1].Text)

	s := b.session(ctx, 1, 1)
	last := s.transcript.Last()
	assert.Equal(t, models.StatusFailed, last.Status)
	assert.Nil(t, s.transcript.InFlight())
	for _, m := range s.transcript.Messages() {
		assert.NotEqual(t, transcript.PlaceholderText, m.Content)
	}
}

func TestChat_BackendErrorFails(t *testing.T) {
	be := &fakeBackend{err: backend.ErrUnavailable}
	b, sender, _ := newTestBot(t, be)

	b.handleUpdate(context.Background(), textUpdate(1, "hello"))

	require.Len(t, sender.deletes(), 1)
	msgs := sender.messages()
	assert.Equal(t, render.EscapeMarkdown(transcript.FailureText), msgs[len(msgs)-1].Text)
}

func TestSearch_AppliesQueryBoundsAndFilter(t *testing.T) {
	be := &fakeBackend{search: &models.SearchResponse{Results: []models.Product{
		{ID: "a", Description: "Cheap lamp", Price: 10, Rating: 3, Quantity: 1},
		{ID: "b", Description: "Good lamp", Price: 40, Rating: 4.6, Quantity: 1},
	}}}
	b, sender, store := newTestBot(t, be)
	ctx := context.Background()

	b.handleUpdate(ctx, commandUpdate(1, "/search lamps under $50"))

	require.Len(t, be.searches, 1)
	assert.Equal(t, "lamps", be.searches[0].Query)
	require.NotNil(t, be.searches[0].Filters)
	assert.Equal(t, 50.0, *be.searches[0].Filters.MaxPrice)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "2 of 2 shown")

	prefs, err := store.GetPreferences(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 50.0, prefs.Filter.MaxPrice)

	b.handleUpdate(ctx, commandUpdate(1, "/filter 0 50 4"))
	msgs = sender.messages()
	last := msgs[len(msgs)-1]
	assert.Contains(t, last.Text, "1 of 2 shown")
	assert.Contains(t, last.Text, "Good lamp")
	assert.NotContains(t, last.Text, "Cheap lamp")

	prefs, err = store.GetPreferences(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4.0, prefs.Filter.MinRating)

	b.handleUpdate(ctx, commandUpdate(1, "/filter 10 x"))
	msgs = sender.messages()
	assert.Contains(t, msgs[len(msgs)-1].Text, "invalid max price")
}

func TestCart_AddRemoveCheckout(t *testing.T) {
	be := &fakeBackend{search: &models.SearchResponse{Results: []models.Product{
		{ID: "a", Description: "Lamp", Price: 10, Quantity: 1},
	}}}
	b, sender, store := newTestBot(t, be)
	ctx := context.Background()

	b.handleUpdate(ctx, commandUpdate(1, "/search lamp"))
	b.handleUpdate(ctx, callbackUpdate(1, 101, "add:a"))
	b.handleUpdate(ctx, callbackUpdate(1, 101, "add:a"))
	b.handleUpdate(ctx, callbackUpdate(1, 101, "add:missing"))

	cart, err := store.GetCart(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cart, 1)
	assert.Equal(t, 2, cart[0].Quantity)

	b.handleUpdate(ctx, commandUpdate(1, "/cart"))
	msgs := sender.messages()
	cartMsg := msgs[len(msgs)-1]
	assert.Contains(t, cartMsg.Text, `Total: $20\.00`)

	b.handleUpdate(ctx, commandUpdate(1, "/checkout"))
	msgs = sender.messages()
	assert.Contains(t, msgs[len(msgs)-1].Text, "Order placed: 2 items")

	cart, err = store.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cart)

	b.handleUpdate(ctx, commandUpdate(1, "/checkout"))
	msgs = sender.messages()
	assert.Contains(t, msgs[len(msgs)-1].Text, "empty")
}

func TestTheme_TogglePersists(t *testing.T) {
	b, _, store := newTestBot(t, &fakeBackend{})
	ctx := context.Background()

	b.handleUpdate(ctx, commandUpdate(7, "/theme"))
	th, err := store.LoadTheme(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "dark", th)

	b.handleUpdate(ctx, callbackUpdate(7, 1, "theme"))
	th, err = store.LoadTheme(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "light", th)
}

func TestStart_SuggestionCallbackStartsChat(t *testing.T) {
	be := streamingBackend()
	b, sender, _ := newTestBot(t, be)
	ctx := context.Background()

	b.handleUpdate(ctx, commandUpdate(1, "/start"))
	msgs := sender.messages()
	require.Len(t, msgs, 1)
	markup, ok := msgs[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Equal(t, "sug:0", *markup.InlineKeyboard[0][0].CallbackData)

	b.handleUpdate(ctx, callbackUpdate(1, 101, "sug:0"))
	require.Len(t, be.chats, 1)
	assert.Equal(t, classifier.DefaultSuggestions[0], be.chats[0].Message)

	b.handleUpdate(ctx, callbackUpdate(1, 101, "sug:99"))
	assert.Len(t, be.chats, 1)
}

func TestClear_ResetsConversation(t *testing.T) {
	be := streamingBackend()
	b, _, store := newTestBot(t, be)
	ctx := context.Background()

	b.handleUpdate(ctx, textUpdate(1, "hello"))
	b.handleUpdate(ctx, commandUpdate(1, "/clear"))

	assert.Zero(t, b.session(ctx, 1, 1).transcript.Len())
	stored, err := store.RecentMessages(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSession_RestoresFromStorage(t *testing.T) {
	be := streamingBackend()
	b, _, store := newTestBot(t, be)
	ctx := context.Background()

	b.handleUpdate(ctx, textUpdate(1, "hello"))

	restarted := New(&fakeSender{}, be, store, nil, Options{}, zap.NewNop())
	s := restarted.session(ctx, 1, 1)
	assert.Equal(t, 2, s.transcript.Len())
}

func TestRun_StopsWhenUpdatesClose(t *testing.T) {
	b, _, _ := newTestBot(t, &fakeBackend{})
	b.opts.HealthInterval = time.Hour

	updates := make(chan tgbotapi.Update, 1)
	updates <- commandUpdate(1, "/help")
	close(updates)

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background(), updates) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, b.BackendHealthy())
}

func TestChat_PlaceholderSendFailureIsReported(t *testing.T) {
	be := streamingBackend()
	b, sender, store := newTestBot(t, be)
	sender.failSends = 1
	ctx := context.Background()

	b.handleUpdate(ctx, textUpdate(1, "hello"))

	assert.Empty(t, be.chats)
	assert.Empty(t, sender.deletes())
	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, render.EscapeMarkdown(transcript.FailureText), msgs[0].Text)

	s := b.session(ctx, 1, 1)
	assert.Nil(t, s.transcript.InFlight())
	assert.Equal(t, models.StatusFailed, s.transcript.Last().Status)

	stored, err := store.RecentMessages(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, models.StatusFailed, stored[1].Status)
	assert.Equal(t, transcript.FailureText, stored[1].Content)
}

func TestSession_BeginTurnKeepsNewestRegistered(t *testing.T) {
	b, _, _ := newTestBot(t, &fakeBackend{})
	s := b.session(context.Background(), 1, 1)
	t.Cleanup(s.cancelInFlight)

	type begun struct {
		id  uint64
		ctx context.Context
	}
	const n = 50
	results := make(chan begun, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turn, ctx, _ := s.beginTurn(context.Background(), "lamps")
			results <- begun{id: turn.ID(), ctx: ctx}
		}()
	}
	wg.Wait()
	close(results)

	var newest begun
	live := 0
	for r := range results {
		if r.id > newest.id {
			newest = r
		}
		if r.ctx.Err() == nil {
			live++
		}
	}
	assert.Equal(t, 1, live)
	assert.NoError(t, newest.ctx.Err())

	s.mu.Lock()
	inflight := s.inflight
	s.mu.Unlock()
	assert.Equal(t, newest.id, inflight)
	assert.Equal(t, 1, countStatus(s.transcript.Messages(), models.StatusPending))
}

func countStatus(msgs []*models.Message, status models.MessageStatus) int {
	n := 0
	for _, m := range msgs {
		if m.Status == status {
			n++
		}
	}
	return n
}

func TestSearch_OlderSearchResolvingLateIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	oldCtxErr := make(chan error, 1)
	be := &fakeBackend{}
	be.searchFunc = func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
		if req.Query != "old lamps" {
			return &models.SearchResponse{Results: []models.Product{{ID: "new", Description: "New lamp", Price: 5}}}, nil
		}
		close(started)
		<-release
		oldCtxErr <- ctx.Err()
		// The backend ignores cancellation and answers anyway.
		return &models.SearchResponse{Results: []models.Product{{ID: "old", Description: "Old lamp", Price: 5}}}, nil
	}
	b, sender, _ := newTestBot(t, be)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.handleUpdate(ctx, commandUpdate(1, "/search old lamps"))
	}()
	<-started

	b.handleUpdate(ctx, commandUpdate(1, "/search new lamps"))
	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("old search did not return")
	}

	assert.ErrorIs(t, <-oldCtxErr, context.Canceled)

	s := b.session(ctx, 1, 1)
	assert.Equal(t, "new lamps", s.results.Query())
	_, ok := s.product("old")
	assert.False(t, ok)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "New lamp")
	assert.NotContains(t, msgs[0].Text, "Old lamp")
}

func TestSearch_CategoryFastPath(t *testing.T) {
	be := &fakeBackend{category: &models.SearchResponse{
		Results:      []models.Product{{ID: "c1", Description: "Dome camera", Price: 30, Rating: 4.2, Quantity: 1}},
		SearchMethod: "category",
		LatencyMS:    8,
	}}
	b, sender, _ := newTestBot(t, be)

	b.handleUpdate(context.Background(), commandUpdate(1, "/search security cameras"))

	assert.Equal(t, []string{"security cameras"}, be.categories)
	assert.Empty(t, be.searches)
	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "Dome camera")
	assert.Contains(t, msgs[0].Text, "category · 8ms")
}

func TestSearch_EmptyCategoryFallsBackToSearch(t *testing.T) {
	be := &fakeBackend{search: &models.SearchResponse{
		Results:      []models.Product{{ID: "v1", Description: "Robot vacuum", Price: 150, Quantity: 1}},
		SearchMethod: "semantic",
	}}
	b, sender, _ := newTestBot(t, be)

	b.handleUpdate(context.Background(), commandUpdate(1, "/search vacuum cleaners"))

	assert.Len(t, be.categories, 1)
	require.Len(t, be.searches, 1)
	assert.Equal(t, "vacuum cleaners", be.searches[0].Query)
	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "Robot vacuum")

	// Bounds always go through the semantic search.
	b.handleUpdate(context.Background(), commandUpdate(1, "/search vacuum cleaners under $200"))
	assert.Len(t, be.categories, 1)
	assert.Len(t, be.searches, 2)
}

func TestProduct_CommandAndDetailsButton(t *testing.T) {
	be := &fakeBackend{products: map[string]models.Product{
		"p-1": {ID: "p-1", Description: "Desk lamp", Price: 20, Rating: 4.5, Reviews: 12, Category: "Lighting", Quantity: 3, ProductURL: "https://shop.example/p-1"},
	}}
	b, sender, _ := newTestBot(t, be)
	ctx := context.Background()

	b.handleUpdate(ctx, commandUpdate(1, "/product p-1"))
	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, msgs[0].ParseMode)
	assert.Contains(t, msgs[0].Text, "*Desk lamp*")
	assert.Contains(t, msgs[0].Text, `4\.5★ from 12 reviews`)
	assert.Contains(t, msgs[0].Text, "[Open product page](https://shop.example/p-1)")
	markup, ok := msgs[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Equal(t, []string{"add:p-1"}, callbackData(&markup))

	b.handleUpdate(ctx, callbackUpdate(1, 101, "prod:p-1"))
	msgs = sender.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Text, "Lighting")

	b.handleUpdate(ctx, commandUpdate(1, "/product nope"))
	msgs = sender.messages()
	assert.Contains(t, msgs[len(msgs)-1].Text, "No product with id nope")

	b.handleUpdate(ctx, commandUpdate(1, "/product"))
	msgs = sender.messages()
	assert.Contains(t, msgs[len(msgs)-1].Text, "Usage: /product <id>")
}

func TestProduct_FallsBackToSeenProducts(t *testing.T) {
	be := &fakeBackend{search: &models.SearchResponse{Results: []models.Product{
		{ID: "a", Description: "Lamp", Price: 10, Quantity: 1},
	}}}
	b, sender, _ := newTestBot(t, be)
	ctx := context.Background()

	b.handleUpdate(ctx, commandUpdate(1, "/search lamp"))
	be.productErr = backend.ErrUnavailable

	b.handleUpdate(ctx, callbackUpdate(1, 101, "prod:a"))
	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Text, "*Lamp*")

	b.handleUpdate(ctx, callbackUpdate(1, 101, "prod:zzz"))
	msgs = sender.messages()
	assert.Equal(t, transcript.FailureText, msgs[len(msgs)-1].Text)
}

type slowStore struct {
	*storage.MemoryStorage
	slowUser int64
	entered  chan struct{}
	release  chan struct{}
}

func (s *slowStore) GetPreferences(ctx context.Context, userID int64) (*models.Preferences, error) {
	if userID == s.slowUser {
		close(s.entered)
		<-s.release
	}
	return s.MemoryStorage.GetPreferences(ctx, userID)
}

func TestSession_SlowLoadDoesNotBlockOtherChats(t *testing.T) {
	store := &slowStore{
		MemoryStorage: storage.NewMemoryStorage(),
		slowUser:      1,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	b := New(&fakeSender{}, &fakeBackend{}, store, nil, Options{}, zap.NewNop())
	ctx := context.Background()

	slow := make(chan *session, 1)
	go func() { slow <- b.session(ctx, 1, 1) }()
	<-store.entered

	other := make(chan *session, 1)
	go func() { other <- b.session(ctx, 2, 2) }()
	select {
	case s := <-other:
		assert.Equal(t, int64(2), s.chatID)
	case <-time.After(5 * time.Second):
		t.Fatal("loading chat 2 waited for chat 1")
	}

	close(store.release)
	s := <-slow
	assert.Same(t, s, b.session(ctx, 1, 1))
}

func TestSession_ConcurrentLoadsShareOneSession(t *testing.T) {
	b, _, _ := newTestBot(t, &fakeBackend{})
	ctx := context.Background()

	const n = 20
	got := make(chan *session, n)
	for i := 0; i < n; i++ {
		go func() { got <- b.session(ctx, 5, 5) }()
	}
	first := <-got
	for i := 1; i < n; i++ {
		assert.Same(t, first, <-got)
	}
}
