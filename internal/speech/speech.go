// Package speech turns reply text into encoded audio for the avatar to play.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

// FormatMP3 is the only encoding the avatar client plays.
const FormatMP3 = "mp3"

// wordsPerMinute drives the duration estimate when audio cannot be measured.
const wordsPerMinute = 150

// maxErrorBodySize bounds how much of an error response is read into memory.
const maxErrorBodySize = 4 * 1024

var (
	// ErrProviderUnavailable is returned when a synthesizer is not configured.
	ErrProviderUnavailable = errors.New("speech provider unavailable")
	// ErrEmptyText is returned for text with nothing to speak.
	ErrEmptyText = errors.New("empty text")
)

// Synthesis is the outcome of a synthesis call. Empty Audio means no audio
// was produced, which callers treat as valid.
type Synthesis struct {
	Audio    []byte
	Duration float64 // seconds
	Format   string
	// Measured is true when Duration was decoded from the audio itself.
	Measured bool
}

// Synthesizer converts text to speech audio.
type Synthesizer interface {
	// Name returns the provider identifier.
	Name() string

	// Available reports whether the provider is configured.
	Available() bool

	Synthesize(ctx context.Context, text string) (*Synthesis, error)
}

// EstimateDuration approximates speaking time from the word count.
func EstimateDuration(text string) float64 {
	words := len(strings.Fields(text))
	return float64(words) / wordsPerMinute * 60
}

// MeasureMP3 decodes the MP3 stream headers and returns its playback length
// in seconds.
func MeasureMP3(audio []byte) (float64, error) {
	if len(audio) == 0 {
		return 0, nil
	}

	dec, err := mp3.NewDecoder(bytes.NewReader(audio))
	if err != nil {
		return 0, fmt.Errorf("decode mp3: %w", err)
	}

	sr := dec.SampleRate()
	length := dec.Length()
	if sr <= 0 || length <= 0 {
		return 0, fmt.Errorf("decode mp3: unknown length")
	}

	// The decoder always emits 16-bit stereo PCM.
	return float64(length) / 4 / float64(sr), nil
}

// finish fills in Duration for freshly synthesized audio, preferring the
// measured length over the word-count estimate.
func finish(audio []byte, text string) *Synthesis {
	if len(audio) == 0 {
		return &Synthesis{Format: FormatMP3}
	}

	s := &Synthesis{Audio: audio, Format: FormatMP3}
	if d, err := MeasureMP3(audio); err == nil && d > 0 {
		s.Duration = d
		s.Measured = true
	} else {
		s.Duration = EstimateDuration(text)
	}
	return s
}
