package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/aurora-bot/internal/models"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL + "/", Timeout: 2 * time.Second, Logger: zap.NewNop()})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "  "})
	assert.Error(t, err)
}

func TestSearch_SendsRequestAndDecodes(t *testing.T) {
	var got models.SearchRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/search", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"query":"lamp","results":[{"productId":"p1","price":20,"stars":4.2,"similarity_score":0.91}],"total":1,"latency_ms":33}`)
	}))

	maxPrice := 50.0
	resp, err := c.Search(context.Background(), models.SearchRequest{
		Query:   "lamp",
		Limit:   20,
		Filters: &models.SearchFilters{MaxPrice: &maxPrice},
	})
	require.NoError(t, err)
	assert.Equal(t, "lamp", got.Query)
	assert.Equal(t, 20, got.Limit)
	require.NotNil(t, got.Filters)
	assert.Equal(t, 50.0, *got.Filters.MaxPrice)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "p1", resp.Results[0].ID)
	assert.Equal(t, 91, resp.Results[0].SimilarityPercent())
	assert.Equal(t, float64(33), resp.LatencyMS)
}

func TestSearch_DropsEmptyFilters(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, has := raw["filters"]
		assert.False(t, has)
		fmt.Fprint(w, `{"results":[],"total":0}`)
	}))

	resp, err := c.Search(context.Background(), models.SearchRequest{Query: "x", Filters: &models.SearchFilters{}})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearch_EmptyQuery(t *testing.T) {
	c, err := New(Options{BaseURL: "http://unused"})
	require.NoError(t, err)
	_, err = c.Search(context.Background(), models.SearchRequest{Query: " "})
	assert.Error(t, err)
}

func TestSearch_MalformedBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>oops</html>`)
	}))
	_, err := c.Search(context.Background(), models.SearchRequest{Query: "x"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSearch_EmptyBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	_, err := c.Search(context.Background(), models.SearchRequest{Query: "x"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestServerErrorIsUnavailable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"detail":"database offline"}`)
	}))

	_, err := c.Health(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	var herr *HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusServiceUnavailable, herr.StatusCode)
	assert.Equal(t, "database offline", herr.Message)
}

func TestClientErrorIsNotUnavailable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	_, err := c.Search(context.Background(), models.SearchRequest{Query: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "status=422")
}

func TestNetworkFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Options{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)
	_, err = c.Health(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		fmt.Fprint(w, `{"status":"healthy","database":"connected","version":"1.0.0"}`)
	}))
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Healthy())
	assert.Equal(t, "1.0.0", h.Version)
}

func TestChat(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Message)
		assert.NotNil(t, req.ConversationHistory)
		fmt.Fprint(w, `{"response":"Hi!","products":[{"id":"a","name":"Lamp","price":12}],"suggestions":["More"]}`)
	}))

	resp, err := c.Chat(context.Background(), models.ChatRequest{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Hi!", resp.Response)
	require.Len(t, resp.Products, 1)
	assert.Equal(t, "Lamp", resp.Products[0].Description)
}

func TestChat_EmptyResponseIsMalformed(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":"","products":[]}`)
	}))
	_, err := c.Chat(context.Background(), models.ChatRequest{Message: "hello"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func sseHandler(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprint(w, f)
			if fl, ok := w.(http.Flusher); ok {
				fl.Flush()
			}
		}
	}
}

func TestStreamChat_DeliversEventsInOrder(t *testing.T) {
	c := newTestClient(t, sseHandler(
		": keep-alive\n\n",
		`data: {"type":"agent_step","agent":"Orchestrator","action":"Routing","status":"in_progress"}`+"\n\n",
		`data: {"type":"tool_call","tool":"semantic_search","status":"completed"}`+"\n\n",
		"data: not json\n\n",
		`data: {"type":"content","content":"Here"}`+"\n\n",
		`data: {"type":"complete","response":{"response":"Here you go","products":[{"productId":"p"}],"suggestions":["More"]}}`+"\n\n",
	))

	var types []models.EventType
	final, err := c.StreamChat(context.Background(), models.ChatRequest{Message: "hi"}, func(ev models.StreamEvent) error {
		types = append(types, ev.Type)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []models.EventType{
		models.EventAgentStep, models.EventToolCall, models.EventContent, models.EventComplete,
	}, types)
	assert.Equal(t, "Here you go", final.Response)
	require.Len(t, final.Products, 1)
}

func TestStreamChat_LinesWithoutBlankSeparators(t *testing.T) {
	c := newTestClient(t, sseHandler(
		`data: {"type":"content","content":"a"}`+"\n",
		`data: {"type":"complete"}`+"\n",
	))

	n := 0
	final, err := c.StreamChat(context.Background(), models.ChatRequest{Message: "hi"}, func(models.StreamEvent) error {
		n++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NotNil(t, final)
}

func TestStreamChat_EndsWithoutComplete(t *testing.T) {
	c := newTestClient(t, sseHandler(
		`data: {"type":"content","content":"partial"}`+"\n\n",
	))

	_, err := c.StreamChat(context.Background(), models.ChatRequest{Message: "hi"}, nil)
	assert.ErrorIs(t, err, ErrStreamIncomplete)
}

func TestStreamChat_CallbackErrorStopsStream(t *testing.T) {
	c := newTestClient(t, sseHandler(
		`data: {"type":"content","content":"a"}`+"\n\n",
		`data: {"type":"complete"}`+"\n\n",
	))

	stop := errors.New("stop")
	_, err := c.StreamChat(context.Background(), models.ChatRequest{Message: "hi"}, func(models.StreamEvent) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func TestStreamChat_HTTPError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusBadGateway)
	}))
	_, err := c.StreamChat(context.Background(), models.ChatRequest{Message: "hi"}, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEventReader_FramesCommentsAndTrailingData(t *testing.T) {
	body := "event: update\n" +
		`data: {"type":"agent_step","agent":"A"}` + "\n" +
		`data: {"type":"agent_step","agent":"B"}` + "\n\n" +
		": ping\nid: 4\n\n" +
		"data: {broken\n\n" +
		`data: {"type":"content","content":"tail"}`

	r := newEventReader(strings.NewReader(body), zap.NewNop())
	var got []string
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, string(ev.Type)+":"+ev.Agent+ev.Content)
	}
	assert.Equal(t, []string{"agent_step:A", "agent_step:B", "content:tail"}, got)

	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCategory(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/products/category/vacuum cleaners", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"results":[{"product":{"productId":"v1","stars":4.6},"similarity_score":1.0}],"total_results":1}`)
	}))

	resp, err := c.Category(context.Background(), " vacuum cleaners ", 10)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "v1", resp.Results[0].ID)
	assert.Equal(t, "category", resp.SearchMethod)

	_, err = c.Category(context.Background(), "", 10)
	assert.Error(t, err)
}

func TestProduct(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/products/B001":
			fmt.Fprint(w, `{"productId":"B001","product_description":"Headphones","price":399,"producturl":"https://shop/B001"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"detail":"Product not found"}`)
		}
	}))

	p, err := c.Product(context.Background(), "B001")
	require.NoError(t, err)
	assert.Equal(t, "Headphones", p.Description)
	assert.Equal(t, "https://shop/B001", p.ProductURL)

	_, err = c.Product(context.Background(), "missing")
	var herr *HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, http.StatusNotFound, herr.StatusCode)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestAutocomplete(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/autocomplete", r.URL.Path)
		assert.Equal(t, "hea", r.URL.Query().Get("q"))
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"suggestions":[{"text":"Headphones","category":"Audio"}]}`)
	}))

	got, err := c.Autocomplete(context.Background(), "hea", 3)
	require.NoError(t, err)
	assert.Equal(t, []models.Completion{{Text: "Headphones", Category: "Audio"}}, got)

	got, err = c.Autocomplete(context.Background(), "h", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, calls)
}
