package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"
)

// OpenAIProvider implements Provider against an OpenAI-compatible API.
type OpenAIProvider struct {
	client openai.Client
	config Config
	logger zerolog.Logger
}

// NewOpenAIProvider creates a provider. A custom BaseURL lets it target
// self-hosted or proxy endpoints that speak the same protocol.
func NewOpenAIProvider(cfg Config, logger zerolog.Logger) *OpenAIProvider {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		config: cfg,
		logger: logger.With().Str("provider", "openai").Logger(),
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Available reports whether credentials or a custom endpoint are configured.
func (p *OpenAIProvider) Available() bool {
	return p.config.APIKey != "" || p.config.BaseURL != ""
}

// Chat implements Provider.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if !p.Available() {
		return nil, fmt.Errorf("openai: %w", ErrProviderUnavailable)
	}

	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.config.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.config.Temperature
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(model),
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, ErrEmptyResponse
	}

	duration := time.Since(start)
	p.logger.Debug().
		Str("model", resp.Model).
		Int("chars", len(content)).
		Int64("tokens", resp.Usage.TotalTokens).
		Dur("duration", duration).
		Msg("LLM response generated")

	return &ChatResponse{
		Content:      content,
		Model:        resp.Model,
		TokensUsed:   int(resp.Usage.TotalTokens),
		Duration:     duration,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}
