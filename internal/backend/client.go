// Package backend is the HTTP client for the storefront search and agent API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xaenox/aurora-bot/internal/models"
	"go.uber.org/zap"
)

const (
	pathSearch     = "/api/search"
	pathChat       = "/api/chat"
	pathChatStream = "/api/chat/stream"
	pathHealth     = "/api/health"
	pathProducts   = "/api/products/"
	pathCategory   = "/api/products/category/"
	pathComplete   = "/api/autocomplete"
)

type Options struct {
	BaseURL string

	Timeout       time.Duration
	StreamTimeout time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	baseURL string

	timeout       time.Duration
	streamTimeout time.Duration

	httpClient *http.Client
	logger     *zap.Logger
}

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:       baseURL,
		timeout:       timeout,
		streamTimeout: opts.StreamTimeout,
		httpClient:    hc,
		logger:        logger,
	}, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Health(ctx context.Context) (*models.HealthStatus, error) {
	var resp models.HealthStatus
	if err := c.doJSON(ctx, c.timeout, http.MethodGet, pathHealth, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "" {
		return nil, fmt.Errorf("%w: health status missing", ErrMalformedResponse)
	}
	return &resp, nil
}

func (c *Client) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("search query required")
	}
	if req.Filters.Empty() {
		req.Filters = nil
	}

	var resp models.SearchResponse
	if err := c.doJSON(ctx, c.timeout, http.MethodPost, pathSearch, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Category browses products whose category or description contains term,
// best rated first. It skips the embedding step of Search.
func (c *Client) Category(ctx context.Context, term string, limit int) (*models.SearchResponse, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, errors.New("category required")
	}
	path := pathCategory + url.PathEscape(term)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var resp models.SearchResponse
	if err := c.doJSON(ctx, c.timeout, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.SearchMethod == "" {
		resp.SearchMethod = "category"
	}
	return &resp, nil
}

// Product fetches one product. A missing product is an *HTTPError with
// status 404.
func (c *Client) Product(ctx context.Context, id string) (*models.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("product id required")
	}

	var p models.Product
	if err := c.doJSON(ctx, c.timeout, http.MethodGet, pathProducts+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: product without id", ErrMalformedResponse)
	}
	return &p, nil
}

// Autocomplete returns up to limit completions for a partial query. Queries
// shorter than two characters return nothing without a request.
func (c *Client) Autocomplete(ctx context.Context, prefix string, limit int) ([]models.Completion, error) {
	prefix = strings.TrimSpace(prefix)
	if len([]rune(prefix)) < 2 {
		return nil, nil
	}
	q := url.Values{"q": {prefix}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Suggestions []models.Completion `json:"suggestions"`
	}
	if err := c.doJSON(ctx, c.timeout, http.MethodGet, pathComplete+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Suggestions, nil
}

func (c *Client) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	if req.ConversationHistory == nil {
		req.ConversationHistory = []models.HistoryEntry{}
	}

	var resp models.ChatResponse
	if err := c.doJSON(ctx, c.timeout, http.MethodPost, pathChat, req, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Response) == "" && len(resp.Products) == 0 {
		return nil, fmt.Errorf("%w: empty chat response", ErrMalformedResponse)
	}
	return &resp, nil
}

// StreamChat posts to the streaming chat endpoint and hands every decoded
// event to onEvent in arrival order. It returns the payload of the complete
// event, or ErrStreamIncomplete when the stream closes without one. Data
// frames that are not valid JSON are logged and skipped.
func (c *Client) StreamChat(ctx context.Context, req models.ChatRequest, onEvent func(models.StreamEvent) error) (*models.ChatResponse, error) {
	if req.ConversationHistory == nil {
		req.ConversationHistory = []models.HistoryEntry{}
	}

	if c.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.streamTimeout)
		defer cancel()
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, pathChatStream, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logRequestError(httpReq, err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		herr := parseHTTPError(res.StatusCode, raw)
		c.logger.Error("[API] Response error",
			zap.Int("status", res.StatusCode),
			zap.String("path", pathChatStream),
			zap.Error(herr))
		return nil, herr
	}

	events := newEventReader(res.Body, c.logger)
	var final *models.ChatResponse
	for {
		ev, err := events.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		if ev.Type == models.EventComplete {
			if ev.Response != nil {
				final = ev.Response
			} else {
				final = &models.ChatResponse{}
			}
		}
		if onEvent != nil {
			if err := onEvent(ev); err != nil {
				return nil, err
			}
		}
	}
	if final == nil {
		return nil, ErrStreamIncomplete
	}
	return final, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.logger.Debug("[API] request",
		zap.String("method", method),
		zap.String("path", path))
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, timeout time.Duration, method, path string, body any, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.logRequestError(req, err)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		herr := parseHTTPError(res.StatusCode, raw)
		c.logger.Error("[API] Response error",
			zap.Int("status", res.StatusCode),
			zap.String("path", path),
			zap.Error(herr))
		return herr
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: empty body from %s", ErrMalformedResponse, path)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	return nil
}

func (c *Client) logRequestError(req *http.Request, err error) {
	c.logger.Error("[API] No response received",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Error(err))
}
