package llm

import (
	"strings"

	"github.com/normanking/avatarserver/internal/conversation"
	"github.com/normanking/avatarserver/internal/emotion"
)

// HistoryTurns is how many prior turns are sent to the model.
const HistoryTurns = 3

// DefaultSystemPrompt is the persona template. {name}, {emotion} and {tone}
// are substituted per request.
const DefaultSystemPrompt = `You are {name}, a friendly assistant speaking through an animated avatar.
Your replies are spoken aloud, so write the way people talk: no markdown, no lists, no code blocks.

Key responsibilities:
- Answer questions clearly and accurately
- Adjust your tone to the user's emotional state
- Keep responses concise but complete

Current user emotion: {emotion}
Suggested tone: {tone}

Keep responses under 200 words for conversational flow.`

// PromptBuilder assembles chat requests from conversation state.
type PromptBuilder struct {
	AssistantName string
	Template      string
	MaxTokens     int
	Temperature   float64
}

// NewPromptBuilder creates a builder using cfg limits. Empty template and
// name fall back to defaults.
func NewPromptBuilder(name, template string, cfg Config) *PromptBuilder {
	if name == "" {
		name = "Ava"
	}
	if template == "" {
		template = DefaultSystemPrompt
	}
	return &PromptBuilder{
		AssistantName: name,
		Template:      template,
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
	}
}

// SystemPrompt renders the template for an emotion label.
func (b *PromptBuilder) SystemPrompt(emotionLabel string) string {
	if emotionLabel == "" {
		emotionLabel = emotion.Neutral
	}
	r := strings.NewReplacer(
		"{name}", b.AssistantName,
		"{emotion}", emotionLabel,
		"{tone}", emotion.Tone(emotionLabel),
	)
	return r.Replace(b.Template)
}

// Build creates a request with the last HistoryTurns turns followed by the
// new user message.
func (b *PromptBuilder) Build(userMessage string, history []conversation.Turn, emotionLabel string) *ChatRequest {
	if len(history) > HistoryTurns {
		history = history[len(history)-HistoryTurns:]
	}

	messages := make([]Message, 0, len(history)*2+1)
	for _, turn := range history {
		messages = append(messages,
			Message{Role: RoleUser, Content: turn.UserMessage},
			Message{Role: RoleAssistant, Content: turn.AssistantMessage},
		)
	}
	messages = append(messages, Message{Role: RoleUser, Content: userMessage})

	return &ChatRequest{
		SystemPrompt: b.SystemPrompt(emotionLabel),
		Messages:     messages,
		MaxTokens:    b.MaxTokens,
		Temperature:  b.Temperature,
	}
}
