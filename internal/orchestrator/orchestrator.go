// Package orchestrator runs a conversation turn end to end: emotion, reply,
// speech and visemes, emitted to the client in a fixed order.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/avatarserver/internal/bus"
	"github.com/normanking/avatarserver/internal/cache"
	"github.com/normanking/avatarserver/internal/conversation"
	"github.com/normanking/avatarserver/internal/emotion"
	"github.com/normanking/avatarserver/internal/lipsync"
	"github.com/normanking/avatarserver/internal/llm"
	"github.com/normanking/avatarserver/internal/protocol"
	"github.com/normanking/avatarserver/internal/speech"
)

// Client-facing error messages.
const (
	MsgTextRequired = "Text is required"
	MsgTurnFailed   = "Sorry, I encountered an error processing your request."
)

// ErrEmptyText is returned by Query for blank input.
var ErrEmptyText = errors.New("text is required")

// Emitter delivers outbound protocol messages to one client.
type Emitter interface {
	Emit(ctx context.Context, msg any) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, msg any) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, msg any) error { return f(ctx, msg) }

// Deps are the collaborators of an Orchestrator. Nil adapters fall back to
// local implementations; a nil Cache disables caching.
type Deps struct {
	Classifier    emotion.Classifier
	LLM           llm.Provider
	Prompt        *llm.PromptBuilder
	Speech        speech.Synthesizer
	Cache         *cache.ResponseCache
	Conversations *conversation.Registry
	Bus           *bus.EventBus
	Logger        zerolog.Logger
}

// Orchestrator coordinates turn processing for every connection.
type Orchestrator struct {
	classifier    emotion.Classifier
	llm           llm.Provider
	prompt        *llm.PromptBuilder
	speech        speech.Synthesizer
	cache         *cache.ResponseCache
	conversations *conversation.Registry
	bus           *bus.EventBus
	logger        zerolog.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	closed bool
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	if d.Classifier == nil {
		d.Classifier = emotion.NewRuleClassifier()
	}
	if d.LLM == nil {
		d.LLM = llm.NewCannedProvider()
	}
	if d.Prompt == nil {
		d.Prompt = llm.NewPromptBuilder("", "", llm.DefaultConfig())
	}
	if d.Speech == nil {
		d.Speech = speech.NewSilentSynthesizer()
	}
	if d.Conversations == nil {
		d.Conversations = conversation.NewRegistry(conversation.DefaultMaxHistory)
	}

	return &Orchestrator{
		classifier:    d.Classifier,
		llm:           d.LLM,
		prompt:        d.Prompt,
		speech:        d.Speech,
		cache:         d.Cache,
		conversations: d.Conversations,
		bus:           d.Bus,
		logger:        d.Logger.With().Str("component", "orchestrator").Logger(),
		locks:         make(map[string]*sync.Mutex),
	}
}

// Register creates conversation state for a new connection.
func (o *Orchestrator) Register(connID string) *conversation.State {
	o.bus.Publish(bus.NewEvent(bus.EventTypeConnectionOpened, connID, nil))
	return o.conversations.GetOrCreate(connID)
}

// Unregister discards a connection's conversation state.
func (o *Orchestrator) Unregister(connID string) {
	o.conversations.Remove(connID)

	o.mu.Lock()
	delete(o.locks, connID)
	o.mu.Unlock()

	o.bus.Publish(bus.NewEvent(bus.EventTypeConnectionClosed, connID, nil))
}

// turnLock serializes turns of one connection.
func (o *Orchestrator) turnLock(connID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	l, ok := o.locks[connID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[connID] = l
	}
	return l
}

// turn carries per-turn values through the pipeline.
type turn struct {
	connID   string
	text     string
	state    TurnState
	started  time.Time
	emotion  emotion.Result
	reply    string
	cached   bool
	audio    []byte
	duration float64
}

// ProcessTurn runs one turn for connID and emits its messages through em.
// Messages are emitted in the order emotion_detected, response_text,
// lip_sync_data, audio_data, response_complete. Any failure after the input
// check replaces the remainder with a single error message. Turns of the
// same connection never interleave. The returned state is always terminal.
func (o *Orchestrator) ProcessTurn(ctx context.Context, connID, text string, em Emitter) (state TurnState) {
	log := o.logger.With().Str("connection", connID).Logger()

	if strings.TrimSpace(text) == "" {
		if err := em.Emit(ctx, protocol.NewError(MsgTextRequired)); err != nil {
			log.Debug().Err(err).Msg("Failed to emit validation error")
		}
		return StateFailed
	}

	lock := o.turnLock(connID)
	lock.Lock()
	defer lock.Unlock()

	t := &turn{connID: connID, text: text, state: StateReceived, started: time.Now()}
	o.bus.Publish(bus.NewEvent(bus.EventTypeTurnStarted, connID, map[string]any{"chars": len(text)}))

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Str("state", t.state.String()).
				Msg("Turn panicked")
			state = o.fail(ctx, t, em, fmt.Errorf("panic: %v", r))
		}
	}()

	conv := o.conversations.GetOrCreate(connID)
	if err := o.run(ctx, t, conv, em); err != nil {
		if ctx.Err() != nil {
			log.Debug().Str("state", t.state.String()).Msg("Turn abandoned, client gone")
			o.publishFailed(t, "canceled")
			return StateFailed
		}
		log.Error().Err(err).Str("state", t.state.String()).Msg("Turn failed")
		return o.fail(ctx, t, em, err)
	}

	elapsed := time.Since(t.started)
	log.Info().
		Str("emotion", t.emotion.Label).
		Bool("cached", t.cached).
		Int("replyChars", len(t.reply)).
		Float64("audioDuration", t.duration).
		Dur("elapsed", elapsed).
		Msg("Turn complete")

	o.bus.Publish(bus.NewEvent(bus.EventTypeTurnCompleted, connID, map[string]any{
		"emotion":        t.emotion.Label,
		"cached":         t.cached,
		"reply_chars":    len(t.reply),
		"audio_duration": t.duration,
		"elapsed":        elapsed.Seconds(),
	}))
	return StateComplete
}

func (o *Orchestrator) run(ctx context.Context, t *turn, conv *conversation.State, em Emitter) error {
	emo, err := o.classify(ctx, t.connID, t.text)
	if err != nil {
		return err
	}
	t.emotion = emo
	if err := em.Emit(ctx, protocol.NewEmotionDetected(emo.Label, emo.Confidence)); err != nil {
		return fmt.Errorf("emit emotion: %w", err)
	}
	t.state = StateEmotionDetected

	reply, cached, err := o.respond(ctx, t.connID, t.text, emo, conv)
	if err != nil {
		return err
	}
	t.reply, t.cached = reply, cached
	if err := em.Emit(ctx, protocol.NewResponseText(reply)); err != nil {
		return fmt.Errorf("emit response: %w", err)
	}
	t.state = StateResponseReady

	audio, duration, err := o.synthesize(ctx, t.connID, reply)
	if err != nil {
		return err
	}
	t.audio, t.duration = audio, duration
	t.state = StateAudioReady

	visemes := lipsync.Generate(reply, duration)
	t.state = StateVisemesReady
	if err := em.Emit(ctx, protocol.NewLipSyncData(visemes, duration)); err != nil {
		return fmt.Errorf("emit lip sync: %w", err)
	}

	if err := em.Emit(ctx, protocol.NewAudioData(base64.StdEncoding.EncodeToString(audio), speech.FormatMP3)); err != nil {
		return fmt.Errorf("emit audio: %w", err)
	}

	if err := em.Emit(ctx, protocol.NewResponseComplete()); err != nil {
		return fmt.Errorf("emit complete: %w", err)
	}
	t.state = StateComplete
	return nil
}

// classify never fails except on cancellation; classifier errors become the
// neutral fallback.
func (o *Orchestrator) classify(ctx context.Context, connID, text string) (emotion.Result, error) {
	res, err := o.classifier.Classify(ctx, text)
	if err == nil {
		if res.Label == "" {
			res.Label = emotion.Neutral
		}
		return res, nil
	}
	if ctx.Err() != nil {
		return emotion.Result{}, ctx.Err()
	}

	o.logger.Warn().Err(err).Str("connection", connID).Msg("Emotion classification failed, using neutral")
	o.publishFallback(connID, "emotion", err)
	return emotion.Fallback(), nil
}

// respond returns the reply text and whether it came from the cache. History
// and cache are only updated with successful model output.
func (o *Orchestrator) respond(ctx context.Context, connID, text string, emo emotion.Result, conv *conversation.State) (string, bool, error) {
	if o.cache != nil {
		if reply, ok := o.cache.Get(text); ok {
			o.bus.Publish(bus.NewEvent(bus.EventTypeCacheHit, connID, nil))
			if conv != nil {
				conv.AddTurn(text, reply, emo.Label)
			}
			return reply, true, nil
		}
		o.bus.Publish(bus.NewEvent(bus.EventTypeCacheMiss, connID, nil))
	}

	var history []conversation.Turn
	if conv != nil {
		history = conv.Recent(llm.HistoryTurns)
	}

	resp, err := o.llm.Chat(ctx, o.prompt.Build(text, history, emo.Label))
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		o.logger.Warn().Err(err).Str("connection", connID).Str("provider", o.llm.Name()).Msg("LLM request failed, using fallback reply")
		o.publishFallback(connID, "llm", err)
		return llm.DefaultReply(text), false, nil
	}

	if o.cache != nil {
		o.cache.Set(text, resp.Content)
	}
	if conv != nil {
		conv.AddTurn(text, resp.Content, emo.Label)
	}
	return resp.Content, false, nil
}

// synthesize returns audio bytes and duration in seconds. Synthesis failure
// yields no audio and zero duration.
func (o *Orchestrator) synthesize(ctx context.Context, connID, reply string) ([]byte, float64, error) {
	res, err := o.speech.Synthesize(ctx, reply)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		o.logger.Warn().Err(err).Str("connection", connID).Str("provider", o.speech.Name()).Msg("Speech synthesis failed, continuing without audio")
		o.publishFallback(connID, "tts", err)
		return nil, 0, nil
	}
	if res == nil || len(res.Audio) == 0 {
		return nil, 0, nil
	}

	duration := res.Duration
	if duration < 0 {
		duration = 0
	}
	return res.Audio, duration, nil
}

func (o *Orchestrator) fail(ctx context.Context, t *turn, em Emitter, cause error) TurnState {
	t.state = StateFailed
	if err := em.Emit(ctx, protocol.NewError(MsgTurnFailed)); err != nil {
		o.logger.Debug().Err(err).Str("connection", t.connID).Msg("Failed to emit turn error")
	}
	o.publishFailed(t, cause.Error())
	return StateFailed
}

func (o *Orchestrator) publishFailed(t *turn, reason string) {
	o.bus.Publish(bus.NewEvent(bus.EventTypeTurnFailed, t.connID, map[string]any{
		"reason":  reason,
		"emotion": t.emotion.Label,
		"elapsed": time.Since(t.started).Seconds(),
	}))
}

func (o *Orchestrator) publishFallback(connID, adapter string, err error) {
	o.bus.Publish(bus.NewEvent(bus.EventTypeAdapterFallback, connID, map[string]any{
		"adapter": adapter,
		"error":   err.Error(),
	}))
}

// QueryResult is the stateless reply returned by Query.
type QueryResult struct {
	Response    string  `json:"response"`
	Emotion     string  `json:"emotion"`
	Confidence  float64 `json:"confidence"`
	Cached      bool    `json:"cached"`
	Audio       string  `json:"audio,omitempty"`
	AudioFormat string  `json:"audio_format,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
}

// Query answers text without conversation history or streaming. Replies are
// cached exactly like streamed turns.
func (o *Orchestrator) Query(ctx context.Context, text string, includeAudio bool) (*QueryResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	emo, err := o.classify(ctx, "", text)
	if err != nil {
		return nil, err
	}

	reply, cached, err := o.respond(ctx, "", text, emo, nil)
	if err != nil {
		return nil, err
	}

	result := &QueryResult{
		Response:   reply,
		Emotion:    emo.Label,
		Confidence: emo.Confidence,
		Cached:     cached,
	}

	if includeAudio {
		audio, duration, err := o.synthesize(ctx, "", reply)
		if err != nil {
			return nil, err
		}
		result.Audio = base64.StdEncoding.EncodeToString(audio)
		result.AudioFormat = speech.FormatMP3
		result.Duration = duration
	}

	return result, nil
}

// ServiceHealth describes one adapter.
type ServiceHealth struct {
	Provider  string `json:"provider"`
	Available bool   `json:"available"`
}

// Health is the readiness report served on /health.
type Health struct {
	Healthy  bool                     `json:"healthy"`
	Services map[string]ServiceHealth `json:"services"`
	Cache    *cache.Stats             `json:"cache,omitempty"`
	Sessions int                      `json:"sessions"`
}

// Health reports adapter readiness. The service is healthy until Close is
// called; unavailable adapters degrade to fallbacks rather than failing.
func (o *Orchestrator) Health() Health {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()

	h := Health{
		Healthy: !closed,
		Services: map[string]ServiceHealth{
			"llm":      {Provider: o.llm.Name(), Available: o.llm.Available()},
			"tts":      {Provider: o.speech.Name(), Available: o.speech.Available()},
			"emotion":  {Provider: o.classifier.Name(), Available: true},
			"lip_sync": {Provider: "grapheme", Available: true},
		},
		Sessions: o.conversations.Len(),
	}
	if o.cache != nil {
		stats := o.cache.Stats()
		h.Cache = &stats
	}
	return h
}

// Status returns the details sent in reply to a get_status control message.
func (o *Orchestrator) Status(connID string) map[string]any {
	details := map[string]any{
		"connection_id":  connID,
		"history_length": 0,
	}
	if conv, ok := o.conversations.Get(connID); ok {
		details["history_length"] = conv.Len()
	}

	services := make(map[string]string)
	for name, svc := range o.Health().Services {
		if svc.Available {
			services[name] = "ready"
		} else {
			services[name] = "fallback"
		}
	}
	details["services"] = services

	if stats, ok := o.CacheStats(); ok {
		details["cache"] = stats
	}
	return details
}

// CacheStats returns cache usage, or false when caching is disabled.
func (o *Orchestrator) CacheStats() (cache.Stats, bool) {
	if o.cache == nil {
		return cache.Stats{}, false
	}
	return o.cache.Stats(), true
}

// ClearCache empties the response cache. It reports false when caching is disabled.
func (o *Orchestrator) ClearCache() bool {
	if o.cache == nil {
		return false
	}
	o.cache.Clear()
	return true
}

// PurgeCache drops expired cache entries and returns how many were removed.
func (o *Orchestrator) PurgeCache() int {
	if o.cache == nil {
		return 0
	}
	n := o.cache.PurgeExpired()
	if n > 0 {
		o.logger.Debug().Int("purged", n).Msg("Expired cache entries removed")
	}
	return n
}

// Close marks the orchestrator unhealthy and clears the cache.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.ClearCache()
	o.bus.Wait()
}
