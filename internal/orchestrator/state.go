package orchestrator

// TurnState is the lifecycle position of a single turn.
type TurnState int

const (
	StateReceived TurnState = iota
	StateEmotionDetected
	StateResponseReady
	StateAudioReady
	StateVisemesReady
	StateComplete
	StateFailed
)

var stateNames = map[TurnState]string{
	StateReceived:        "RECEIVED",
	StateEmotionDetected: "EMOTION_DETECTED",
	StateResponseReady:   "RESPONSE_READY",
	StateAudioReady:      "AUDIO_READY",
	StateVisemesReady:    "VISEMES_READY",
	StateComplete:        "COMPLETE",
	StateFailed:          "FAILED",
}

func (s TurnState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transitions are possible.
func (s TurnState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}
