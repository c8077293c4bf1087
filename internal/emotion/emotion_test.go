package emotion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		text  string
		label string
		conf  float64
	}{
		{"I am so HAPPY today", Joy, RuleMatchConfidence},
		{"This is amazing", Joy, RuleMatchConfidence},
		{"I hate this", Anger, RuleMatchConfidence},
		{"unfortunately it broke", Sadness, RuleMatchConfidence},
		{"I'm nervous about the deploy", Fear, RuleMatchConfidence},
		{"wow", Surprise, RuleMatchConfidence},
		{"I don't understand", Confusion, RuleMatchConfidence},
		{"What is Delta Lake?", Confusion, RuleMatchConfidence},
		{"Tell me about clusters", Neutral, RuleNeutralConfidence},
		{"", Neutral, RuleNeutralConfidence},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := Detect(tt.text)
			assert.Equal(t, tt.label, got.Label)
			assert.Equal(t, tt.conf, got.Confidence)
		})
	}
}

func TestRuleClassifier(t *testing.T) {
	c := NewRuleClassifier()
	res, err := c.Classify(context.Background(), "thanks a lot")
	require.NoError(t, err)
	assert.Equal(t, Joy, res.Label)
	assert.Equal(t, "rules", c.Name())
}

func TestTone(t *testing.T) {
	assert.Equal(t, "Be supportive and empathetic", Tone(Sadness))
	assert.Equal(t, "Be calm, patient, and solution-focused", Tone("ANGER"))
	assert.Equal(t, Tone(Neutral), Tone("disgust"))
}

func TestFallback(t *testing.T) {
	assert.Equal(t, Result{Label: Neutral, Confidence: 0.5}, Fallback())
}

func TestRemoteClassifier_NestedResponse(t *testing.T) {
	var gotInput string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotInput = req.Inputs

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[[{"label":"Surprise","score":0.91},{"label":"joy","score":0.05}]]`))
	}))
	defer server.Close()

	c := NewRemoteClassifier(RemoteConfig{URL: server.URL, APIKey: "secret"}, nil, zerolog.Nop())
	res, err := c.Classify(context.Background(), strings.Repeat("x", 600))

	require.NoError(t, err)
	assert.Equal(t, "surprise", res.Label)
	assert.InDelta(t, 0.91, res.Confidence, 1e-9)
	assert.Len(t, gotInput, MaxInputChars)
}

func TestRemoteClassifier_FlatResponsePicksHighestScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"label":"fear","score":0.2},{"label":"anger","score":0.7}]`))
	}))
	defer server.Close()

	c := NewRemoteClassifier(RemoteConfig{URL: server.URL}, nil, zerolog.Nop())
	res, err := c.Classify(context.Background(), "grr")

	require.NoError(t, err)
	assert.Equal(t, Anger, res.Label)
}

func TestRemoteClassifier_ErrorWithoutFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewRemoteClassifier(RemoteConfig{URL: server.URL}, nil, zerolog.Nop())
	_, err := c.Classify(context.Background(), "hello")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestRemoteClassifier_FallsBackToRules(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := NewRemoteClassifier(RemoteConfig{URL: server.URL}, NewRuleClassifier(), zerolog.Nop())
	res, err := c.Classify(context.Background(), "I'm worried")

	require.NoError(t, err)
	assert.Equal(t, Fear, res.Label)
	assert.Equal(t, RuleMatchConfidence, res.Confidence)
}

func TestRemoteClassifier_NoURL(t *testing.T) {
	c := NewRemoteClassifier(RemoteConfig{}, NewRuleClassifier(), zerolog.Nop())
	res, err := c.Classify(context.Background(), "plain text")

	require.NoError(t, err)
	assert.Equal(t, Neutral, res.Label)
	assert.Equal(t, "remote", c.Name())
}
