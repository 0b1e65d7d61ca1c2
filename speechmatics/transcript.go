package speechmatics

import "strings"

// JoinResults concatenates the first alternative of each result. Words are
// preceded by a space, punctuation attaches to the previous token.
func JoinResults(results []Result) string {
	var b strings.Builder
	for _, result := range results {
		if len(result.Alternatives) == 0 {
			continue
		}
		if result.Type == "word" {
			b.WriteString(" ")
		}
		b.WriteString(result.Alternatives[0].Content)
	}
	return strings.TrimSpace(b.String())
}

// Text is the display text of a final transcript event.
func (t FinalTranscript) Text() string {
	return JoinResults(t.Results)
}

// Text is the provisional display text of a partial transcript event.
func (t PartialTranscript) Text() string {
	return JoinResults(t.Results)
}
