// Package tokenutil estimates token counts with tiktoken-go's cl100k_base
// encoding, falling back to a word/rune heuristic when the encoder cannot be
// loaded (e.g. no network access to fetch the BPE rank file). Shared by the
// Backend Router (C6, invocation cost/usage estimation when a backend omits
// usage) and the Persistent Session (C7, the >100k-token reset trigger).
// Grounded on the teacher's internal/shared/token package (retrieved as
// tokenutil_test.go only; CountTokens/EstimateFast/TruncateToTokens restored
// here in the teacher's idiom from the test's documented behavior).
package tokenutil

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

var encoding *tiktoken.Tiktoken

func init() {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err == nil {
		encoding = enc
	}
}

// CountTokens returns the tiktoken cl100k_base token count, or EstimateFast
// if the encoder could not be loaded.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// EstimateFast is a dependency-free heuristic: the larger of rune-count/4
// and word count, which tracks BPE token counts reasonably well for English
// prose without loading an encoder.
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	words := len(strings.Fields(trimmed))
	byRunes := len([]rune(trimmed)) / 4
	if words > byRunes {
		return words
	}
	return byRunes
}

// TruncateToTokens trims text to at most maxTokens tokens (by CountTokens),
// appending "..." when truncation occurs. maxTokens <= 0 is a no-op.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if CountTokens(text) <= maxTokens {
		return text
	}
	// Binary search the longest prefix (by rune) whose token count fits,
	// reserving room for the "..." suffix.
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if CountTokens(string(runes[:mid])+"...") <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo]) + "..."
}
