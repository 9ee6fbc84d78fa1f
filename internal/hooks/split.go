package hooks

import (
	"strings"

	"github.com/dguik/discode/internal/chat"
)

// SplitForPlatform splits text into chunks within the platform's message
// budget, preferring line boundaries. Empty chunks are dropped.
func SplitForPlatform(p chat.Platform, text string) []string {
	return SplitText(text, chat.MaxMessageLen(p))
}

// SplitText splits text into chunks of at most limit runes, cutting at
// line boundaries when possible and hard-splitting single oversize lines.
func SplitText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
		currentLen = 0
	}

	for _, line := range strings.Split(text, "\n") {
		lineRunes := []rune(line)
		// Hard-split lines that alone exceed the limit.
		for len(lineRunes) > limit {
			flush()
			chunks = append(chunks, string(lineRunes[:limit]))
			lineRunes = lineRunes[limit:]
		}
		line = string(lineRunes)

		sep := 0
		if currentLen > 0 {
			sep = 1
		}
		if currentLen+sep+len(lineRunes) > limit {
			flush()
			sep = 0
		}
		if sep == 1 {
			current.WriteByte('\n')
			currentLen++
		}
		current.WriteString(line)
		currentLen += len(lineRunes)
	}
	flush()
	return chunks
}
