package groq

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"vidquery/internal/retrieval"
	"vidquery/internal/settings"
)

const answerPrompt = `Context from video transcript: "%s"

User Question: "%s"

Based ONLY on the context provided, answer the question clearly and concisely.`

// DynamicGenerator answers questions through Groq's OpenAI-compatible chat
// API. The API key comes from settings on every call, so a key pasted into
// the settings UI takes effect without a restart. With no key configured it
// reports retrieval.ErrGenerationUnavailable instead of failing the query.
type DynamicGenerator struct {
	settingsSvc *settings.Service
	baseURL     string
	model       string

	mu         sync.RWMutex
	client     *openai.Client
	currentKey string
}

func NewDynamicGenerator(svc *settings.Service, baseURL, model string) *DynamicGenerator {
	return &DynamicGenerator{
		settingsSvc: svc,
		baseURL:     baseURL,
		model:       model,
	}
}

func (g *DynamicGenerator) Answer(ctx context.Context, contextText, question string) (string, error) {
	s, err := g.settingsSvc.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get settings: %w", err)
	}

	if s.GroqAPIKey == "" {
		return "", retrieval.ErrGenerationUnavailable
	}

	client := g.getClient(s.GroqAPIKey)

	slog.DebugContext(ctx, "generating answer", "model", g.model, "context_length", len(contextText))
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(answerPrompt, contextText, question),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (g *DynamicGenerator) getClient(key string) *openai.Client {
	g.mu.RLock()
	if g.client != nil && g.currentKey == key {
		defer g.mu.RUnlock()
		return g.client
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil && g.currentKey == key {
		return g.client
	}

	cfg := openai.DefaultConfig(key)
	if g.baseURL != "" {
		cfg.BaseURL = g.baseURL
	}
	g.client = openai.NewClientWithConfig(cfg)
	g.currentKey = key
	return g.client
}
