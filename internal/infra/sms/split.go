package sms

import (
	"fmt"
	"strings"
	"unicode"
)

// DefaultMaxLength is a single GSM-7 message.
const DefaultMaxLength = 160

// Split cuts text into segments of at most max runes. Cuts land just after
// whitespace where possible; a word longer than max is hard-cut. Every
// character is kept, so joining the segments reproduces text exactly.
func Split(text string, max int) []string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return []string{text}
	}

	var segments []string
	for start := 0; start < len(runes); {
		end := start + max
		if end >= len(runes) {
			segments = append(segments, string(runes[start:]))
			break
		}
		cut := end
		if !unicode.IsSpace(runes[end]) && !unicode.IsSpace(runes[end-1]) {
			for i := end - 1; i > start; i-- {
				if unicode.IsSpace(runes[i]) {
					cut = i + 1
					break
				}
			}
		}
		segments = append(segments, string(runes[start:cut]))
		start = cut
	}
	return segments
}

// wireSegments trims each segment for display, drops whitespace-only pieces
// and, when there is more than one, tags them "[i/N] ".
func wireSegments(segments []string, prefix bool) []string {
	bodies := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s); t != "" {
			bodies = append(bodies, t)
		}
	}
	if !prefix || len(bodies) < 2 {
		return bodies
	}
	for i := range bodies {
		bodies[i] = fmt.Sprintf("[%d/%d] %s", i+1, len(bodies), bodies[i])
	}
	return bodies
}
