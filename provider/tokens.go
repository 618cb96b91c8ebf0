package provider

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the cl100k_base tokenizer, a reasonable approximation
// for most current models.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// EstimateTokens returns an approximate token count for text. Used when a
// provider does not report usage. Falls back to a length heuristic if the
// tokenizer cannot load.
func EstimateTokens(text string) int {
	c, err := getCodec()
	if err != nil {
		return len(text) / 4
	}

	ids, _, err := c.Encode(text)
	if err != nil {
		return len(text) / 4
	}

	return len(ids)
}

// EstimateMessageTokens sums an estimate across message contents.
func EstimateMessageTokens(contents ...string) int {
	total := 0
	for _, content := range contents {
		total += EstimateTokens(content)
	}
	return total
}
