package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/avatarserver/internal/conversation"
)

func TestPromptBuilder_SystemPrompt(t *testing.T) {
	b := NewPromptBuilder("Nova", "", DefaultConfig())

	prompt := b.SystemPrompt("sadness")
	assert.Contains(t, prompt, "You are Nova")
	assert.Contains(t, prompt, "Current user emotion: sadness")
	assert.Contains(t, prompt, "Suggested tone: Be supportive and empathetic")

	assert.Contains(t, b.SystemPrompt(""), "Current user emotion: neutral")
}

func TestPromptBuilder_BuildKeepsLastThreeTurns(t *testing.T) {
	b := NewPromptBuilder("", "", DefaultConfig())

	history := []conversation.Turn{
		{UserMessage: "u1", AssistantMessage: "a1"},
		{UserMessage: "u2", AssistantMessage: "a2"},
		{UserMessage: "u3", AssistantMessage: "a3"},
		{UserMessage: "u4", AssistantMessage: "a4"},
	}

	req := b.Build("now", history, "joy")

	require.Len(t, req.Messages, 7)
	assert.Equal(t, Message{Role: RoleUser, Content: "u2"}, req.Messages[0])
	assert.Equal(t, Message{Role: RoleAssistant, Content: "a4"}, req.Messages[5])
	assert.Equal(t, Message{Role: RoleUser, Content: "now"}, req.Messages[6])
	assert.Equal(t, 300, req.MaxTokens)
	assert.Equal(t, 0.7, req.Temperature)
	assert.Equal(t, "now", req.LastUserMessage())
}

func TestCannedProvider(t *testing.T) {
	p := NewCannedProvider()
	assert.True(t, p.Available())

	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Hello there"}},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Content, "Hello!"))

	resp, err = p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "  quantum soup  "}},
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultReply("quantum soup"), resp.Content)
	assert.Contains(t, resp.Content, "'quantum soup'")
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider("canned", DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "canned", p.Name())

	p, err = NewProvider("openai", DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.False(t, p.Available())

	_, err = NewProvider("bogus", DefaultConfig(), zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenAIProvider_Unavailable(t *testing.T) {
	p := NewOpenAIProvider(Config{}, zerolog.Nop())

	_, err := p.Chat(context.Background(), &ChatRequest{})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestOpenAIProvider_Chat(t *testing.T) {
	var captured map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "test-model",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "  Spark is a distributed engine.  "},
				"finish_reason": "stop"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 6, "total_tokens": 16}
		}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(Config{
		BaseURL:     server.URL,
		APIKey:      "test-key",
		Model:       "test-model",
		MaxTokens:   300,
		Temperature: 0.7,
		Timeout:     5 * time.Second,
	}, zerolog.Nop())

	resp, err := p.Chat(context.Background(), &ChatRequest{
		SystemPrompt: "be brief",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
			{Role: RoleUser, Content: "what is spark?"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Spark is a distributed engine.", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 16, resp.TokensUsed)
	assert.Equal(t, "stop", resp.FinishReason)

	assert.Equal(t, "test-model", captured["model"])
	assert.EqualValues(t, 300, captured["max_tokens"])
	assert.InDelta(t, 0.7, captured["temperature"], 1e-9)

	msgs, ok := captured["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	second := msgs[2].(map[string]any)
	assert.Equal(t, "assistant", second["role"])
}

func TestOpenAIProvider_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(Config{BaseURL: server.URL, APIKey: "k", MaxRetries: 0}, zerolog.Nop())

	_, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion")
}

func TestOpenAIProvider_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(Config{BaseURL: server.URL, APIKey: "k"}, zerolog.Nop())

	_, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
