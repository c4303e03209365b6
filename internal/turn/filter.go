package turn

import "strings"

// hallucinations are phrases speech-to-text emits on noise or silence
var hallucinations = []string{
	"thank you.",
	"thanks for watching.",
	"bye bye.",
	"you.",
	"subtitles by",
	"watching!",
	"please subscribe",
	"thank you very much.",
}

// IsGarbage reports whether a transcript should be dropped without a reply
func IsGarbage(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if len([]rune(t)) <= 2 {
		return true
	}
	for _, h := range hallucinations {
		if t == h {
			return true
		}
	}
	return false
}
