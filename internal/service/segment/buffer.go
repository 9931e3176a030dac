package segment

import (
	"strings"
	"unicode/utf8"
)

// Buffer accumulates the transcripts of one utterance. Final segments are
// committed in order; the current interim hypothesis follows them. The
// longest text ever observed is what the utterance finalizes to, so a late
// shorter hypothesis never truncates what was heard.
type Buffer struct {
	committed  []string
	interim    string
	longest    string
	confidence float64
}

// Interim replaces the current hypothesis and returns the caption text.
func (b *Buffer) Interim(text string, confidence float64) string {
	b.interim = strings.TrimSpace(text)
	return b.observe(confidence)
}

// Commit appends a final segment and returns the caption text.
func (b *Buffer) Commit(text string, confidence float64) string {
	if t := strings.TrimSpace(text); t != "" {
		b.committed = append(b.committed, t)
	}
	b.interim = ""
	return b.observe(confidence)
}

// Longest returns the longest transcript observed for the utterance.
func (b *Buffer) Longest() string {
	return b.longest
}

// Confidence returns the confidence reported with the longest transcript.
func (b *Buffer) Confidence() float64 {
	return b.confidence
}

// Empty reports whether nothing has been heard.
func (b *Buffer) Empty() bool {
	return b.longest == ""
}

// Reset clears the buffer for the next utterance.
func (b *Buffer) Reset() {
	*b = Buffer{}
}

func (b *Buffer) current() string {
	parts := b.committed
	if b.interim != "" {
		parts = append(parts[:len(parts):len(parts)], b.interim)
	}
	return strings.Join(parts, " ")
}

func (b *Buffer) observe(confidence float64) string {
	text := b.current()
	if utf8.RuneCountInString(text) >= utf8.RuneCountInString(b.longest) && text != "" {
		b.longest = text
		b.confidence = confidence
	}
	return text
}
