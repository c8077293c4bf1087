package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// OpenAI TTS voices
const (
	VoiceAlloy   = "alloy"   // Neutral, balanced
	VoiceEcho    = "echo"    // Male, warm
	VoiceFable   = "fable"   // British, expressive
	VoiceOnyx    = "onyx"    // Male, deep
	VoiceNova    = "nova"    // Female, warm
	VoiceShimmer = "shimmer" // Female, clear
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig holds OpenAI TTS configuration
type OpenAIConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Model   string        `json:"model"` // tts-1 or tts-1-hd
	Voice   string        `json:"voice"`
	Speed   float64       `json:"speed"` // 0.25 to 4.0
	Timeout time.Duration `json:"timeout"`
}

// DefaultOpenAIConfig returns sensible defaults
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL: defaultOpenAIBaseURL,
		Model:   "tts-1",
		Voice:   VoiceNova,
		Speed:   1.0,
		Timeout: 30 * time.Second,
	}
}

// OpenAISynthesizer implements Synthesizer using the OpenAI speech endpoint
// or any service that mirrors it.
type OpenAISynthesizer struct {
	config OpenAIConfig
	client *http.Client
	logger zerolog.Logger
}

// NewOpenAISynthesizer creates a synthesizer. Zero fields take defaults.
func NewOpenAISynthesizer(cfg OpenAIConfig, logger zerolog.Logger) *OpenAISynthesizer {
	def := DefaultOpenAIConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Voice == "" {
		cfg.Voice = def.Voice
	}
	if cfg.Speed <= 0 {
		cfg.Speed = def.Speed
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &OpenAISynthesizer{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("provider", "openai-tts").Logger(),
	}
}

// Name returns the provider identifier
func (s *OpenAISynthesizer) Name() string { return "openai" }

// Available checks if the provider has an API key configured
func (s *OpenAISynthesizer) Available() bool { return s.config.APIKey != "" }

type openAITTSRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize converts text to mp3 audio.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) (*Synthesis, error) {
	if !s.Available() {
		return nil, fmt.Errorf("openai tts: %w", ErrProviderUnavailable)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	start := time.Now()

	body, err := json.Marshal(openAITTSRequest{
		Model:          s.config.Model,
		Input:          text,
		Voice:          s.config.Voice,
		ResponseFormat: FormatMP3,
		Speed:          s.config.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(s.config.BaseURL, "/") + "/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	s.logger.Debug().
		Str("voice", s.config.Voice).
		Str("model", s.config.Model).
		Int("textLen", len(text)).
		Msg("Sending TTS request")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("openai tts error (status %d): %s", resp.StatusCode, string(msg))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	result := finish(audio, text)

	s.logger.Info().
		Int("audioBytes", len(audio)).
		Float64("duration", result.Duration).
		Bool("measured", result.Measured).
		Dur("processingTime", time.Since(start)).
		Msg("TTS synthesis complete")

	return result, nil
}
