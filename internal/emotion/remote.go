package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// MaxInputChars bounds the text sent to a remote model.
const MaxInputChars = 512

// maxErrorBodySize bounds how much of an error response is read into memory.
const maxErrorBodySize = 4 * 1024

// ErrEmptyPrediction is returned when the remote service answers with no labels.
var ErrEmptyPrediction = errors.New("emotion service returned no prediction")

// RemoteConfig configures a RemoteClassifier.
type RemoteConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// RemoteClassifier calls a hosted text-classification model. The service is
// expected to accept {"inputs": "..."} and answer with either
// [{"label","score"}] or [[{"label","score"}]], the Hugging Face inference
// shape. When Fallback is set, any failure is answered by it instead.
type RemoteClassifier struct {
	config   RemoteConfig
	client   *http.Client
	fallback Classifier
	logger   zerolog.Logger
}

// NewRemoteClassifier creates a remote classifier. fallback may be nil.
func NewRemoteClassifier(cfg RemoteConfig, fallback Classifier, logger zerolog.Logger) *RemoteClassifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RemoteClassifier{
		config:   cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		fallback: fallback,
		logger:   logger.With().Str("classifier", "remote").Logger(),
	}
}

// Name implements Classifier.
func (c *RemoteClassifier) Name() string { return "remote" }

type classifyRequest struct {
	Inputs string `json:"inputs"`
}

type prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classify implements Classifier.
func (c *RemoteClassifier) Classify(ctx context.Context, text string) (Result, error) {
	res, err := c.classifyRemote(ctx, text)
	if err == nil {
		return res, nil
	}
	if c.fallback == nil || ctx.Err() != nil {
		return Result{}, err
	}

	c.logger.Warn().Err(err).Str("fallback", c.fallback.Name()).Msg("Remote emotion classification failed")
	return c.fallback.Classify(ctx, text)
}

func (c *RemoteClassifier) classifyRemote(ctx context.Context, text string) (Result, error) {
	if c.config.URL == "" {
		return Result{}, fmt.Errorf("emotion service URL not configured")
	}

	body, err := json.Marshal(classifyRequest{Inputs: truncateRunes(text, MaxInputChars)})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return Result{}, fmt.Errorf("emotion service error (status %d): %s", resp.StatusCode, string(msg))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	preds, err := parsePredictions(raw)
	if err != nil {
		return Result{}, err
	}

	best := preds[0]
	for _, p := range preds[1:] {
		if p.Score > best.Score {
			best = p
		}
	}

	return Result{
		Label:      strings.ToLower(best.Label),
		Confidence: clamp01(best.Score),
	}, nil
}

// parsePredictions accepts both the flat and the nested response layouts.
func parsePredictions(raw []byte) ([]prediction, error) {
	var nested [][]prediction
	if err := json.Unmarshal(raw, &nested); err == nil {
		if len(nested) > 0 && len(nested[0]) > 0 {
			return nested[0], nil
		}
		return nil, ErrEmptyPrediction
	}

	var flat []prediction
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(flat) == 0 {
		return nil, ErrEmptyPrediction
	}
	return flat, nil
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
