// Package llm produces assistant replies. The OpenAI provider talks to any
// OpenAI-compatible chat completions endpoint; the canned provider answers
// from a fixed keyword table for credential-free development.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrProviderUnavailable is returned when a provider lacks credentials or an endpoint.
var ErrProviderUnavailable = errors.New("llm provider unavailable")

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("llm returned empty response")

// Provider defines the interface for reply generators.
type Provider interface {
	// Chat sends the conversation and returns the model's reply.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider identifier.
	Name() string

	// Available returns true if the provider is configured.
	Available() bool
}

// ChatRequest is a single completion request.
type ChatRequest struct {
	// Model overrides the provider default when set.
	Model string `json:"model,omitempty"`

	// SystemPrompt sets the assistant's behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages in the conversation, oldest first, ending with the user turn.
	Messages []Message `json:"messages"`

	// MaxTokens limits response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness.
	Temperature float64 `json:"temperature,omitempty"`
}

// LastUserMessage returns the content of the final user message, if any.
func (r *ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one conversation message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse contains the model's reply.
type ChatResponse struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	TokensUsed   int           `json:"tokens_used,omitempty"`
	Duration     time.Duration `json:"duration"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

// Config configures a provider.
type Config struct {
	// BaseURL of an OpenAI-compatible API. Empty means api.openai.com.
	BaseURL string

	APIKey string
	Model  string

	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// DefaultConfig returns conservative reply limits.
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o-mini",
		MaxTokens:   300,
		Temperature: 0.7,
		Timeout:     30 * time.Second,
		MaxRetries:  1,
	}
}
