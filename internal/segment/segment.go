// Package segment splits input text into sentence-sized chunks for synthesis.
package segment

import "strings"

// Split breaks text into chunks that end right after a run of sentence-terminal
// punctuation (. ! ?). Every chunk holds at least one non-terminal rune
// (whitespace included) followed by its terminal run; a trailing run without
// terminal punctuation becomes the final chunk. Chunks keep their surrounding
// whitespace and blank chunks are dropped, so " ." is a chunk of its own.
// Terminal punctuation before any other rune stays with the first chunk.
func Split(text string) []string {
	if text == "" {
		return nil
	}

	var (
		chunks       []string
		start        int
		hasBody      bool
		prevTerminal bool
	)
	emit := func(chunk string) {
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
	}
	for i, r := range text {
		terminal := isTerminal(r)
		if !terminal && prevTerminal && hasBody {
			emit(text[start:i])
			start = i
			hasBody = false
		}
		if !terminal {
			hasBody = true
		}
		prevTerminal = terminal
	}
	if hasBody {
		emit(text[start:])
	}
	return chunks
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
