// Package emotion labels user text with a coarse emotional state that steers
// the assistant's tone.
package emotion

import (
	"context"
	"strings"
)

// Labels produced by the rule classifier. Remote models may return others;
// callers treat unknown labels like neutral.
const (
	Joy       = "joy"
	Anger     = "anger"
	Sadness   = "sadness"
	Fear      = "fear"
	Surprise  = "surprise"
	Confusion = "confusion"
	Neutral   = "neutral"
)

// Confidence values reported by the rule classifier.
const (
	RuleMatchConfidence   = 0.7
	RuleNeutralConfidence = 0.6
	// FallbackConfidence is reported when classification failed outright.
	FallbackConfidence = 0.5
)

// Result is a classification outcome. Confidence is in [0, 1].
type Result struct {
	Label      string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
}

// Fallback is the result used when no classifier produced an answer.
func Fallback() Result {
	return Result{Label: Neutral, Confidence: FallbackConfidence}
}

// Classifier labels text with an emotion.
type Classifier interface {
	// Name returns the classifier identifier for logs and health output.
	Name() string
	Classify(ctx context.Context, text string) (Result, error)
}

// keywordRule pairs an emotion with the substrings that trigger it.
type keywordRule struct {
	label    string
	keywords []string
}

// rules are checked in order; the first substring hit wins.
var rules = []keywordRule{
	{Joy, []string{"happy", "great", "awesome", "love", "excited", "wonderful", "amazing", "thanks", "thank you"}},
	{Anger, []string{"angry", "frustrated", "annoying", "hate", "terrible", "worst", "stupid"}},
	{Sadness, []string{"sad", "disappointed", "sorry", "unfortunately", "failed", "problem"}},
	{Fear, []string{"worried", "scared", "afraid", "nervous", "anxious", "concern"}},
	{Surprise, []string{"wow", "amazing", "incredible", "unexpected", "really", "seriously"}},
	{Confusion, []string{"confused", "don't understand", "unclear", "what", "how", "why", "help"}},
}

// RuleClassifier matches keywords. It never fails.
type RuleClassifier struct{}

// NewRuleClassifier returns the keyword classifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Name implements Classifier.
func (r *RuleClassifier) Name() string { return "rules" }

// Classify implements Classifier.
func (r *RuleClassifier) Classify(_ context.Context, text string) (Result, error) {
	return Detect(text), nil
}

// Detect runs the keyword rules against text.
func Detect(text string) Result {
	lower := strings.ToLower(text)
	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return Result{Label: rule.label, Confidence: RuleMatchConfidence}
			}
		}
	}
	return Result{Label: Neutral, Confidence: RuleNeutralConfidence}
}

var tones = map[string]string{
	Joy:       "Match their positive energy with enthusiasm",
	Anger:     "Be calm, patient, and solution-focused",
	Sadness:   "Be supportive and empathetic",
	Fear:      "Be reassuring and provide clear guidance",
	Surprise:  "Acknowledge their reaction and provide context",
	Confusion: "Be extra clear with step-by-step explanations",
	Neutral:   "Maintain professional, friendly tone",
}

// Tone returns the reply style recommended for an emotion label.
func Tone(label string) string {
	if t, ok := tones[strings.ToLower(label)]; ok {
		return t
	}
	return tones[Neutral]
}
