package lipsync

import (
	"math"
	"strings"
	"unicode"
)

const (
	// DefaultUnitDuration is the per-unit hold time when the audio length is unknown.
	DefaultUnitDuration = 0.08
	// TrailingSilence closes every sequence so the mouth returns to rest.
	TrailingSilence = 0.2
)

// unitCodes maps grapheme units to mouth shapes.
var unitCodes = map[string]Code{
	// Vowels
	"a": CodeAA, "e": CodeE, "i": CodeI, "o": CodeO, "u": CodeU,

	// Bilabials
	"b": CodePP, "p": CodePP, "m": CodePP,

	// Labiodentals
	"f": CodeFF, "v": CodeFF,

	"th": CodeTH,

	// Alveolars
	"d": CodeDD, "t": CodeDD, "n": CodeDD, "l": CodeDD,

	// Velars
	"k": CodeKK, "g": CodeKK,

	// Sibilants
	"s": CodeSS, "z": CodeSS,

	// Postalveolars
	"sh": CodeCH, "ch": CodeCH, "j": CodeCH,

	"r": CodeRR,

	// Glides borrow the nearest vowel shape
	"w": CodeO, "y": CodeI,

	"h": CodeSil,
	" ": CodeSil,
}

// defaultUnit stands in for letters with no mapping of their own (c, q, x).
const defaultUnit = "a"

// Generate converts text into a contiguous viseme sequence. When audioDuration
// is positive the units share it equally; otherwise each unit lasts
// DefaultUnitDuration. A TrailingSilence viseme is always appended to a
// non-empty sequence. Text with no speakable letters yields an empty slice.
func Generate(text string, audioDuration float64) []Viseme {
	units := Segment(Normalize(text))
	if len(units) == 0 {
		return []Viseme{}
	}

	step := DefaultUnitDuration
	if audioDuration > 0 && !math.IsInf(audioDuration, 0) {
		step = audioDuration / float64(len(units))
	}

	visemes := make([]Viseme, 0, len(units)+1)
	t := 0.0
	for _, u := range units {
		next := t + step
		visemes = append(visemes, Viseme{
			Start: round3(t),
			End:   round3(next),
			Code:  CodeFor(u),
		})
		t = next
	}

	visemes = append(visemes, Viseme{
		Start: round3(t),
		End:   round3(t + TrailingSilence),
		Code:  CodeSil,
	})

	return visemes
}

// Normalize lowercases text, strips everything but ASCII letters and
// whitespace, and collapses whitespace runs to a single space.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Segment splits normalized text into grapheme units. The digraphs th, sh and
// ch are kept together; letters without a mapping become the default vowel.
func Segment(clean string) []string {
	chars := []byte(clean)
	units := make([]string, 0, len(chars))

	for i := 0; i < len(chars); i++ {
		if i+1 < len(chars) {
			switch pair := string(chars[i : i+2]); pair {
			case "th", "sh", "ch":
				units = append(units, pair)
				i++
				continue
			}
		}

		ch := string(chars[i])
		if _, ok := unitCodes[ch]; ok {
			units = append(units, ch)
		} else if chars[i] >= 'a' && chars[i] <= 'z' {
			units = append(units, defaultUnit)
		}
	}

	return units
}

// CodeFor returns the mouth shape for a grapheme unit, or silence if the unit
// is unknown.
func CodeFor(unit string) Code {
	if c, ok := unitCodes[unit]; ok {
		return c
	}
	return CodeSil
}

// TotalDuration returns the end time of the last viseme.
func TotalDuration(visemes []Viseme) float64 {
	if len(visemes) == 0 {
		return 0
	}
	return visemes[len(visemes)-1].End
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
