package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/learnloop-ai/LearnLoopServer/internal/apperrors"
	"github.com/learnloop-ai/LearnLoopServer/internal/config"
	"github.com/learnloop-ai/LearnLoopServer/internal/metrics"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

// OpenAIClient implements TextGenerator against an OpenAI-compatible API.
type OpenAIClient struct {
	client  *openai.Client
	timeout time.Duration
}

// NewOpenAIClient builds a client from provider configuration. A missing API
// key is a configuration error, fatal to any request depending on it.
func NewOpenAIClient(cfg config.ProviderConfig) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, apperrors.New(apperrors.CodeConfig, "provider api key not configured")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		timeout: cfg.Timeout(),
	}, nil
}

// Generate performs one chat-completion call and returns the generated text
// with token-usage counters.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Result, error) {
	if c == nil || c.client == nil {
		return Result{}, apperrors.New(apperrors.CodeConfig, "provider not configured")
	}
	if strings.TrimSpace(req.Model) == "" {
		return Result{}, fmt.Errorf("provider: empty model")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	chatMessages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: chatMessages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	started := time.Now()
	resp, errCall := c.client.CreateChatCompletion(callCtx, chatReq)
	metrics.Get().ProviderRequestDuration.WithLabelValues("chat").Observe(time.Since(started).Seconds())
	if errCall != nil {
		log.WithError(errCall).WithField("model", req.Model).Warn("provider: chat completion failed")
		return Result{}, fmt.Errorf("provider: chat completion: %w", errCall)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("provider: empty choices")
	}

	return Result{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}, nil
}
