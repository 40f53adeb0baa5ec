package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ragcourse/internal/llm"
	"ragcourse/internal/metrics"
	"ragcourse/internal/model"
	"ragcourse/internal/textsplit"

	"go.uber.org/zap"
)

// ErrAnswerFailed is returned when no generation attempt succeeded.
var ErrAnswerFailed = errors.New("could not generate an answer")

// DefaultGenerateAttempts bounds the generate-compress loop in Answer.
const DefaultGenerateAttempts = 8

const adviserInstruction = "You are a college adviser. You will be given several articles and a question. " +
	"Answer the question based on the articles."

// Compressor shrinks text below a character limit.
type Compressor interface {
	Compress(ctx context.Context, text string, sizeLimit int) (string, error)
}

// Orchestrator answers questions using retrieved articles as context.
type Orchestrator struct {
	retriever   *Retriever
	gen         llm.Generator
	compressor  Compressor
	logger      *zap.Logger
	metrics     *metrics.Metrics
	maxAttempts int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics counts answered questions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithMaxAttempts bounds the number of generation calls per question.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(r *Retriever, gen llm.Generator, c Compressor, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		retriever:   r,
		gen:         gen,
		compressor:  c,
		logger:      logger,
		maxAttempts: DefaultGenerateAttempts,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type answerOptions struct {
	keywordSeed string
}

// AnswerOption configures a single Answer call.
type AnswerOption func(*answerOptions)

// WithKeywordSeed searches on text instead of the question itself.
func WithKeywordSeed(text string) AnswerOption {
	return func(o *answerOptions) {
		if text != "" {
			o.keywordSeed = text
		}
	}
}

// Answer retrieves articles for the question and asks the generator to
// answer from them. When a generation call fails the context is compressed
// to half its length and the call is retried.
func (o *Orchestrator) Answer(ctx context.Context, question string, opts ...AnswerOption) (answer string, err error) {
	defer func() { o.metrics.Answer(err) }()

	ao := answerOptions{keywordSeed: question}
	for _, opt := range opts {
		opt(&ao)
	}

	articles, err := o.retriever.Retrieve(ctx, ao.keywordSeed)
	if err != nil {
		return "", fmt.Errorf("retrieve articles: %w", err)
	}
	sources := BuildContext(articles)

	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		out, genErr := o.gen.Generate(ctx, adviserInstruction, sources+"QUESTION: "+question)
		if genErr == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(genErr, llm.ErrUnauthorized) {
			return "", genErr
		}
		lastErr = genErr

		limit := textsplit.Len(sources) / 2
		if attempt == o.maxAttempts || limit == 0 {
			continue
		}
		o.logger.Info("Generation failed, compressing context",
			zap.Int("attempt", attempt),
			zap.Int("limit", limit),
			zap.Error(genErr))

		compressed, cerr := o.compressor.Compress(ctx, sources, limit)
		switch {
		case cerr == nil, errors.Is(cerr, llm.ErrNotConverged):
			sources = compressed
		case ctx.Err() != nil:
			return "", ctx.Err()
		case errors.Is(cerr, llm.ErrUnauthorized):
			return "", cerr
		default:
			o.logger.Warn("Compression failed, keeping context", zap.Error(cerr))
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrAnswerFailed, o.maxAttempts, lastErr)
}

// BuildContext labels each article's content with its ordinal.
func BuildContext(articles []model.Article) string {
	var b strings.Builder
	for i, a := range articles {
		b.WriteString("ARTICLE")
		b.WriteString(strconv.Itoa(i))
		b.WriteString(" content: ")
		b.WriteString(a.Content)
		b.WriteString("\n")
	}
	return b.String()
}
