package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakeAudio = []byte("not really an mp3 payload")

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, 0.0, EstimateDuration(""))
	assert.InDelta(t, 0.4, EstimateDuration("one"), 1e-9)
	assert.InDelta(t, 60.0, EstimateDuration(stringOfWords(150)), 1e-9)
}

func stringOfWords(n int) string {
	b := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		b = append(b, 'w', ' ')
	}
	return string(b)
}

func TestMeasureMP3(t *testing.T) {
	d, err := MeasureMP3(nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)

	_, err = MeasureMP3(fakeAudio)
	assert.Error(t, err)
}

func TestOpenAISynthesizer_Synthesize(t *testing.T) {
	var got openAITTSRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(fakeAudio)
	}))
	defer server.Close()

	s := NewOpenAISynthesizer(OpenAIConfig{BaseURL: server.URL + "/v1/", APIKey: "sk-test"}, zerolog.Nop())
	res, err := s.Synthesize(context.Background(), "hello there friend")

	require.NoError(t, err)
	assert.Equal(t, fakeAudio, res.Audio)
	assert.Equal(t, FormatMP3, res.Format)
	assert.False(t, res.Measured)
	assert.InDelta(t, 1.2, res.Duration, 1e-9)

	assert.Equal(t, "tts-1", got.Model)
	assert.Equal(t, VoiceNova, got.Voice)
	assert.Equal(t, "mp3", got.ResponseFormat)
	assert.Equal(t, "hello there friend", got.Input)
}

func TestOpenAISynthesizer_Errors(t *testing.T) {
	s := NewOpenAISynthesizer(OpenAIConfig{}, zerolog.Nop())
	_, err := s.Synthesize(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	s = NewOpenAISynthesizer(OpenAIConfig{BaseURL: server.URL, APIKey: "k"}, zerolog.Nop())
	_, err = s.Synthesize(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	_, err = s.Synthesize(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestHTTPSynthesizer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req httpTTSRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "en-US-AriaNeural", req.Voice)
		if req.Text == "silence" {
			return
		}
		w.Write(fakeAudio)
	}))
	defer server.Close()

	s := NewHTTPSynthesizer(HTTPConfig{URL: server.URL, Voice: "en-US-AriaNeural"}, zerolog.Nop())
	require.True(t, s.Available())

	res, err := s.Synthesize(context.Background(), "two words")
	require.NoError(t, err)
	assert.Equal(t, fakeAudio, res.Audio)
	assert.InDelta(t, 0.8, res.Duration, 1e-9)

	res, err = s.Synthesize(context.Background(), "silence")
	require.NoError(t, err)
	assert.Empty(t, res.Audio)
	assert.Equal(t, 0.0, res.Duration)
}

func TestSilentSynthesizer(t *testing.T) {
	res, err := NewSilentSynthesizer().Synthesize(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, res.Audio)
	assert.Equal(t, 0.0, res.Duration)
}

func TestNewSynthesizer(t *testing.T) {
	for provider, name := range map[string]string{"openai": "openai", "http": "http", "none": "none", "": "none"} {
		s, err := NewSynthesizer(provider, OpenAIConfig{}, HTTPConfig{}, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
	}

	_, err := NewSynthesizer("edge", OpenAIConfig{}, HTTPConfig{}, zerolog.Nop())
	assert.Error(t, err)
}
