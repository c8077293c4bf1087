// Package protocol defines the JSON messages exchanged over the avatar
// WebSocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/normanking/avatarserver/internal/lipsync"
)

// Inbound message types.
const (
	TypeTextInput     = "text_input"
	TypeTranscription = "transcription"
	TypeControl       = "control"
)

// Outbound message types.
const (
	TypeGreeting         = "greeting"
	TypeEmotionDetected  = "emotion_detected"
	TypeResponseText     = "response_text"
	TypeLipSyncData      = "lip_sync_data"
	TypeAudioData        = "audio_data"
	TypeResponseComplete = "response_complete"
	TypeControlResponse  = "control_response"
	TypeError            = "error"
)

// Control commands.
const (
	CommandPing         = "ping"
	CommandPong         = "pong"
	CommandStopSpeaking = "stop_speaking"
	CommandGetStatus    = "get_status"
)

var (
	// ErrMalformed is returned for frames that are not a JSON object.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for an unrecognized type field.
	ErrUnknownType = errors.New("unknown message type")
	// ErrUnknownCommand is returned for an unrecognized control command.
	ErrUnknownCommand = errors.New("unknown control command")
)

// Inbound is a decoded client message: either TextInput or Control.
type Inbound interface {
	inbound()
}

// TextInput is typed text or a client-side speech transcription.
type TextInput struct {
	Text string
	// Transcribed is true when the text came from speech recognition.
	Transcribed bool
}

// Control is an out-of-band command.
type Control struct {
	Command string
}

func (TextInput) inbound() {}
func (Control) inbound()   {}

type envelope struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Command string `json:"command"`
}

// ParseInbound decodes a client frame.
func ParseInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeTextInput:
		return TextInput{Text: env.Text}, nil
	case TypeTranscription:
		return TextInput{Text: env.Text, Transcribed: true}, nil
	case TypeControl:
		switch env.Command {
		case CommandPing, CommandStopSpeaking, CommandGetStatus:
			return Control{Command: env.Command}, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Command)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// Greeting is sent once when a connection opens.
type Greeting struct {
	Type         string `json:"type"`
	Message      string `json:"message"`
	ConnectionID string `json:"connection_id"`
}

// EmotionDetected reports the classified user emotion.
type EmotionDetected struct {
	Type       string  `json:"type"`
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
}

// ResponseText carries the assistant reply.
type ResponseText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// LipSyncData carries the viseme timeline for the reply audio.
type LipSyncData struct {
	Type     string           `json:"type"`
	Visemes  []lipsync.Viseme `json:"visemes"`
	Duration float64          `json:"duration"`
}

// AudioData carries base64 encoded audio. Audio may be empty.
type AudioData struct {
	Type   string `json:"type"`
	Audio  string `json:"audio"`
	Format string `json:"format"`
}

// ResponseComplete ends a turn.
type ResponseComplete struct {
	Type string `json:"type"`
}

// ControlResponse answers a Control message.
type ControlResponse struct {
	Type    string         `json:"type"`
	Command string         `json:"command"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// Error reports a failure to the client. The connection stays open.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewGreeting builds a Greeting.
func NewGreeting(message, connID string) Greeting {
	return Greeting{Type: TypeGreeting, Message: message, ConnectionID: connID}
}

// NewEmotionDetected builds an EmotionDetected message.
func NewEmotionDetected(emotion string, confidence float64) EmotionDetected {
	return EmotionDetected{Type: TypeEmotionDetected, Emotion: emotion, Confidence: confidence}
}

// NewResponseText builds a ResponseText message.
func NewResponseText(text string) ResponseText {
	return ResponseText{Type: TypeResponseText, Text: text}
}

// NewLipSyncData builds a LipSyncData message. A nil viseme slice is sent as [].
func NewLipSyncData(visemes []lipsync.Viseme, duration float64) LipSyncData {
	if visemes == nil {
		visemes = []lipsync.Viseme{}
	}
	return LipSyncData{Type: TypeLipSyncData, Visemes: visemes, Duration: duration}
}

// NewAudioData builds an AudioData message from already encoded audio.
func NewAudioData(audioB64, format string) AudioData {
	return AudioData{Type: TypeAudioData, Audio: audioB64, Format: format}
}

// NewResponseComplete builds a ResponseComplete message.
func NewResponseComplete() ResponseComplete {
	return ResponseComplete{Type: TypeResponseComplete}
}

// NewControlResponse builds a ControlResponse.
func NewControlResponse(command, status string, details map[string]any) ControlResponse {
	return ControlResponse{Type: TypeControlResponse, Command: command, Status: status, Details: details}
}

// NewError builds an Error message.
func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// TypeOf returns the type tag of an outbound message, or "" if v is not one.
func TypeOf(v any) string {
	switch m := v.(type) {
	case Greeting:
		return m.Type
	case EmotionDetected:
		return m.Type
	case ResponseText:
		return m.Type
	case LipSyncData:
		return m.Type
	case AudioData:
		return m.Type
	case ResponseComplete:
		return m.Type
	case ControlResponse:
		return m.Type
	case Error:
		return m.Type
	}
	return ""
}
