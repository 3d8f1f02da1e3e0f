package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type gptQuery struct {
	Query     string   `json:"query"`
	MinPrice  *float64 `json:"min_price"`
	MaxPrice  *float64 `json:"max_price"`
	MinRating *float64 `json:"min_rating"`
}

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type GPTClassifier struct {
	client      chatCompleter
	model       string
	maxTokens   int
	temperature float64
	fallback    *SimpleClassifier
	logger      *zap.Logger
}

func NewGPTClassifier(apiKey string, model string, maxTokens int, temperature float64, logger *zap.Logger) *GPTClassifier {
	return newGPTClassifier(openai.NewClient(apiKey), model, maxTokens, temperature, logger)
}

func newGPTClassifier(client chatCompleter, model string, maxTokens int, temperature float64, logger *zap.Logger) *GPTClassifier {
	return &GPTClassifier{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		fallback:    NewSimpleClassifier(),
		logger:      logger,
	}
}

const queryPrompt = `Split the following shopping request into a product search query and numeric filters.

Return only a JSON object with this structure:
{
    "query": "words to search for, without price or rating phrases",
    "min_price": number or null,
    "max_price": number or null,
    "min_rating": number between 0 and 5 or null
}

Request: %s`

func (c *GPTClassifier) Classify(ctx context.Context, text string) Query {
	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: fmt.Sprintf(queryPrompt, text),
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
		},
	)
	if err != nil {
		c.logger.Error("Failed to get GPT response", zap.Error(err))
		return c.fallback.Classify(ctx, text)
	}
	if len(resp.Choices) == 0 {
		c.logger.Warn("GPT response has no choices")
		return c.fallback.Classify(ctx, text)
	}

	response := stripFence(resp.Choices[0].Message.Content)
	var parsed gptQuery
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		c.logger.Error("Failed to parse GPT response",
			zap.Error(err),
			zap.String("response", response))
		return c.fallback.Classify(ctx, text)
	}

	q := Query{Text: strings.TrimSpace(parsed.Query)}
	if q.Text == "" {
		q.Text = strings.TrimSpace(text)
	}
	if parsed.MinPrice != nil && *parsed.MinPrice >= 0 {
		q.Filters.MinPrice = parsed.MinPrice
	}
	if parsed.MaxPrice != nil && *parsed.MaxPrice >= 0 {
		q.Filters.MaxPrice = parsed.MaxPrice
	}
	if parsed.MinRating != nil && *parsed.MinRating >= 0 && *parsed.MinRating <= 5 {
		q.Filters.MinRating = parsed.MinRating
	}
	return q
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
