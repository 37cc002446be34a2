package orchestrator

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// English text averages ~1.3 subword tokens per whitespace-separated word.
const fallbackTokensPerWord = 1.3

const fallbackEncoding = "cl100k_base"

// CountTokens returns the number of subword tokens in text using the
// model's tokenizer. Unknown models use the cl100k_base encoding; when no
// encoding can be loaded at all (e.g. no vocabulary available offline) the
// word-count fallback applies. Empty text is 0 tokens.
func CountTokens(text, model string) int {
	if text == "" {
		return 0
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		return EstimateTokensFallback(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateTokensFallback approximates a token count from the whitespace
// word count, truncating toward zero.
func EstimateTokensFallback(text string) int {
	words := len(strings.Fields(text))
	return int(float64(words) * fallbackTokensPerWord)
}
