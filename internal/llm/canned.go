package llm

import (
	"context"
	"fmt"
	"strings"
)

type cannedReply struct {
	keyword string
	reply   string
}

// cannedReplies are matched in order against the lowercased user message.
var cannedReplies = []cannedReply{
	{"hello", "Hello! It's nice to meet you. Ask me anything and I'll do my best to help."},
	{"your name", "I'm your virtual assistant. I can answer questions and chat with you in real time."},
	{"avatar", "I'm a 3D avatar. My lips move with visemes generated from the words I speak, and my tone follows how you seem to feel."},
	{"voice", "My voice comes from a text to speech service. If it isn't configured, I'll still answer in text and move my lips."},
	{"help", "Sure, I can help. Tell me what you're working on and I'll walk you through it step by step."},
}

// CannedProvider answers from a fixed keyword table. It backs development
// setups without model credentials and supplies the fallback reply when a
// real model fails.
type CannedProvider struct{}

// NewCannedProvider returns the keyword provider.
func NewCannedProvider() *CannedProvider {
	return &CannedProvider{}
}

// Name implements Provider.
func (p *CannedProvider) Name() string { return "canned" }

// Available implements Provider.
func (p *CannedProvider) Available() bool { return true }

// Chat implements Provider.
func (p *CannedProvider) Chat(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{
		Content: CannedReply(req.LastUserMessage()),
		Model:   "canned",
	}, nil
}

// CannedReply returns the keyword reply for message, or a generic
// acknowledgement that echoes it.
func CannedReply(message string) string {
	lower := strings.ToLower(message)
	for _, c := range cannedReplies {
		if strings.Contains(lower, c.keyword) {
			return c.reply
		}
	}
	return DefaultReply(message)
}

// DefaultReply is the deterministic reply used when no model answer is available.
func DefaultReply(message string) string {
	return fmt.Sprintf("I understand you're asking about '%s'. I'm having trouble reaching my knowledge source right now, but I'm here to help as soon as it's back.", strings.TrimSpace(message))
}
