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

// HTTPConfig configures an HTTPSynthesizer.
type HTTPConfig struct {
	URL     string
	APIKey  string
	Voice   string
	Timeout time.Duration
}

// HTTPSynthesizer posts {"text","voice"} to a speech service that answers
// with raw mp3 bytes, such as a small Edge-TTS or Piper sidecar.
type HTTPSynthesizer struct {
	config HTTPConfig
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPSynthesizer creates a synthesizer for a generic speech service.
func NewHTTPSynthesizer(cfg HTTPConfig, logger zerolog.Logger) *HTTPSynthesizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPSynthesizer{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("provider", "http-tts").Logger(),
	}
}

// Name implements Synthesizer.
func (s *HTTPSynthesizer) Name() string { return "http" }

// Available implements Synthesizer.
func (s *HTTPSynthesizer) Available() bool { return s.config.URL != "" }

type httpTTSRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Synthesize implements Synthesizer.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) (*Synthesis, error) {
	if !s.Available() {
		return nil, fmt.Errorf("http tts: %w", ErrProviderUnavailable)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	body, err := json.Marshal(httpTTSRequest{Text: text, Voice: s.config.Voice})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("tts service error (status %d): %s", resp.StatusCode, string(msg))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	result := finish(audio, text)
	s.logger.Debug().
		Int("audioBytes", len(audio)).
		Float64("duration", result.Duration).
		Msg("TTS synthesis complete")
	return result, nil
}

// SilentSynthesizer produces no audio. Avatars still animate from the
// default viseme timing.
type SilentSynthesizer struct{}

// NewSilentSynthesizer returns the no-audio synthesizer.
func NewSilentSynthesizer() *SilentSynthesizer { return &SilentSynthesizer{} }

// Name implements Synthesizer.
func (s *SilentSynthesizer) Name() string { return "none" }

// Available implements Synthesizer.
func (s *SilentSynthesizer) Available() bool { return true }

// Synthesize implements Synthesizer.
func (s *SilentSynthesizer) Synthesize(context.Context, string) (*Synthesis, error) {
	return &Synthesis{Format: FormatMP3}, nil
}

// NewSynthesizer picks an implementation by provider name.
func NewSynthesizer(provider string, openaiCfg OpenAIConfig, httpCfg HTTPConfig, logger zerolog.Logger) (Synthesizer, error) {
	switch provider {
	case "openai":
		return NewOpenAISynthesizer(openaiCfg, logger), nil
	case "http":
		return NewHTTPSynthesizer(httpCfg, logger), nil
	case "none", "":
		return NewSilentSynthesizer(), nil
	default:
		return nil, fmt.Errorf("unknown tts provider: %s", provider)
	}
}
