// Package lipsync derives timed mouth-shape cues (visemes) from reply text.
// It uses a grapheme heuristic rather than real phoneme alignment, which is
// accurate enough to drive blend-shape animation on a 3D head.
package lipsync

import "encoding/json"

// Code identifies one of the 14 mouth shapes the avatar rig understands.
type Code string

const (
	CodeSil Code = "sil" // Silence / neutral
	CodePP  Code = "PP"  // p, b, m
	CodeFF  Code = "FF"  // f, v
	CodeTH  Code = "TH"  // th (dental)
	CodeDD  Code = "DD"  // t, d, n, l
	CodeKK  Code = "kk"  // k, g
	CodeCH  Code = "CH"  // ch, sh, j
	CodeSS  Code = "SS"  // s, z
	CodeRR  Code = "RR"  // r
	CodeAA  Code = "AA"  // a (as in "father")
	CodeE   Code = "E"   // e (as in "bed")
	CodeI   Code = "I"   // i, y
	CodeO   Code = "O"   // o, w
	CodeU   Code = "U"   // u (as in "boot")
)

// blendShapes maps codes to the morph target names used by three.js avatars.
var blendShapes = map[Code]string{
	CodeSil: "viseme_sil",
	CodePP:  "viseme_PP",
	CodeFF:  "viseme_FF",
	CodeTH:  "viseme_TH",
	CodeDD:  "viseme_DD",
	CodeKK:  "viseme_kk",
	CodeCH:  "viseme_CH",
	CodeSS:  "viseme_SS",
	CodeRR:  "viseme_RR",
	CodeAA:  "viseme_aa",
	CodeE:   "viseme_E",
	CodeI:   "viseme_I",
	CodeO:   "viseme_O",
	CodeU:   "viseme_U",
}

// oculusIDs maps codes to the 15-slot Oculus viseme index.
// The Oculus set splits n/l (NN, 8) from t/d; both land on DD here.
var oculusIDs = map[Code]int{
	CodeSil: 0,
	CodePP:  1,
	CodeFF:  2,
	CodeTH:  3,
	CodeDD:  4,
	CodeKK:  5,
	CodeCH:  6,
	CodeSS:  7,
	CodeRR:  9,
	CodeAA:  10,
	CodeE:   11,
	CodeI:   12,
	CodeO:   13,
	CodeU:   14,
}

// BlendShape returns the morph target name for the code.
func (c Code) BlendShape() string {
	if name, ok := blendShapes[c]; ok {
		return name
	}
	return blendShapes[CodeSil]
}

// OculusID returns the Oculus lip-sync viseme index for the code.
func (c Code) OculusID() int {
	return oculusIDs[c]
}

// Valid reports whether c is one of the known codes.
func (c Code) Valid() bool {
	_, ok := blendShapes[c]
	return ok
}

// Viseme is a single mouth shape held over the half-open interval [Start, End),
// in seconds from the start of the audio.
type Viseme struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Code  Code    `json:"value"`
}

// Duration returns End - Start.
func (v Viseme) Duration() float64 {
	return v.End - v.Start
}

// MarshalJSON adds the blend shape name so clients can drive morph targets
// without their own lookup table.
func (v Viseme) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Code       Code    `json:"value"`
		BlendShape string  `json:"blendShape"`
	}{v.Start, v.End, v.Code, v.Code.BlendShape()})
}
