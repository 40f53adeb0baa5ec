package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ragcourse/internal/textsplit"

	"go.uber.org/zap"
)

// ErrNotConverged is returned when compression hit its round limit while the
// text was still above the size limit.
var ErrNotConverged = errors.New("compression did not reach the size limit")

const compressInstruction = "Summarize the input text below. Output in English."

const defaultCompressRounds = 6

// Compressor shrinks text by summarizing line-bounded chunks, repeatedly,
// until it fits a character budget.
type Compressor struct {
	gen       Generator
	logger    *zap.Logger
	maxRounds int
}

// NewCompressor returns a Compressor limited to maxRounds split-summarize
// rounds per call. A non-positive maxRounds uses the default.
func NewCompressor(gen Generator, logger *zap.Logger, maxRounds int) *Compressor {
	if maxRounds <= 0 {
		maxRounds = defaultCompressRounds
	}
	return &Compressor{gen: gen, logger: logger, maxRounds: maxRounds}
}

// Compress returns text shortened to at most sizeLimit characters. If the
// limit is not reached within the round budget the shortest version produced
// is returned together with ErrNotConverged.
func (c *Compressor) Compress(ctx context.Context, text string, sizeLimit int) (string, error) {
	if sizeLimit <= 0 {
		return "", fmt.Errorf("compress: size limit must be positive, got %d", sizeLimit)
	}

	best := text
	for round := 1; textsplit.Len(text) > sizeLimit; round++ {
		if round > c.maxRounds {
			return best, fmt.Errorf("%w: %d chars left, limit %d", ErrNotConverged, textsplit.Len(best), sizeLimit)
		}

		chunks := textsplit.Split(text, sizeLimit)
		var b strings.Builder
		for _, chunk := range chunks {
			summary, err := c.gen.Generate(ctx, compressInstruction, chunk)
			if err != nil {
				return best, fmt.Errorf("compress round %d: %w", round, err)
			}
			b.WriteString(summary)
			b.WriteString("\n\n")
		}
		text = b.String()

		c.logger.Debug("Compression round finished",
			zap.Int("round", round),
			zap.Int("chunks", len(chunks)),
			zap.Int("chars", textsplit.Len(text)),
			zap.Int("limit", sizeLimit))

		if textsplit.Len(text) < textsplit.Len(best) {
			best = text
		}
	}
	return text, nil
}
