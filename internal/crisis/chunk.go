package crisis

import "strings"

// Default sliding window parameters, in words.
const (
	DefaultWindow = 15
	DefaultStep   = 10
)

// Chunk splits text into overlapping windows of at most window words,
// advancing step words at a time. Text of window words or fewer is returned
// unchanged as the only chunk. Non-positive arguments fall back to the
// defaults, and step is capped at window so every word lands in some chunk.
func Chunk(text string, window, step int) []string {
	if window <= 0 {
		window = DefaultWindow
	}
	if step <= 0 {
		step = DefaultStep
	}
	step = min(step, window)

	words := strings.Fields(text)
	if len(words) <= window {
		return []string{text}
	}

	chunks := make([]string, 0, (len(words)-window)/step+2)
	for i := 0; i < len(words); i += step {
		end := min(i+window, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
