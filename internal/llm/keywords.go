package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrKeywordsTooVerbose is returned when every attempt produced too many keywords.
var ErrKeywordsTooVerbose = errors.New("keyword extraction kept returning too many keywords")

const keywordInstruction = "Find the most important keywords for the Text for searching, each keyword should be one to two words long. " +
	"Separate the keywords with blanks no period; output should include the keywords only without prompt in one line. " +
	"No plural form, like prerequisites should be prerequisite. If there is course code like CSCI070, must keep it."

// MaxKeywords is the exclusive ceiling on the number of extracted keywords.
const MaxKeywords = 10

const defaultKeywordAttempts = 5

// KeywordExtractor reduces free text to a short lexical search query.
type KeywordExtractor struct {
	gen         Generator
	logger      *zap.Logger
	maxAttempts int
}

// NewKeywordExtractor returns an extractor that retries verbose output at most
// maxAttempts times. A non-positive maxAttempts uses the default.
func NewKeywordExtractor(gen Generator, logger *zap.Logger, maxAttempts int) *KeywordExtractor {
	if maxAttempts <= 0 {
		maxAttempts = defaultKeywordAttempts
	}
	return &KeywordExtractor{gen: gen, logger: logger, maxAttempts: maxAttempts}
}

// Extract returns space separated, deduplicated keywords for text. With a
// pinned seed the first answer is used whatever its length; otherwise the
// service is asked again until it answers with fewer than MaxKeywords
// keywords.
func (k *KeywordExtractor) Extract(ctx context.Context, text string, opts ...GenerateOption) (string, error) {
	user := "Text: " + text

	if ApplyOptions(opts...).Seed != nil {
		key, err := k.gen.Generate(ctx, keywordInstruction, user, opts...)
		if err != nil {
			return "", fmt.Errorf("extract keywords: %w", err)
		}
		return strings.Join(dedupe(strings.Fields(key)), " "), nil
	}

	for attempt := 1; attempt <= k.maxAttempts; attempt++ {
		key, err := k.gen.Generate(ctx, keywordInstruction, user)
		if err != nil {
			return "", fmt.Errorf("extract keywords: %w", err)
		}

		words := dedupe(strings.Fields(key))
		if len(words) < MaxKeywords {
			key = strings.Join(words, " ")
			k.logger.Info("Extracted keywords", zap.String("keywords", key), zap.Int("attempt", attempt))
			return key, nil
		}
		k.logger.Debug("Keywords too verbose, retrying", zap.Int("count", len(words)), zap.Int("attempt", attempt))
	}

	return "", fmt.Errorf("%w after %d attempts", ErrKeywordsTooVerbose, k.maxAttempts)
}

func dedupe(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := words[:0]
	for _, w := range words {
		key := strings.ToLower(w)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, w)
	}
	return out
}
