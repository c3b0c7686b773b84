// Package lang classifies clipboard text so the right synthesis voice
// can be picked.
package lang

import "unicode"

// Tag identifies the detected language of a piece of text.
type Tag string

const (
	Russian      Tag = "ru"
	English      Tag = "en"
	Unrecognized Tag = "und"
)

// Detect classifies text by script. Any Cyrillic at all selects Russian:
// Russian voices read embedded Latin fragments, the reverse is not true.
// Latin-only text is English, everything else is Unrecognized.
func Detect(text string) Tag {
	var latin bool
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			return Russian
		case unicode.Is(unicode.Latin, r):
			latin = true
		}
	}
	if latin {
		return English
	}
	return Unrecognized
}
