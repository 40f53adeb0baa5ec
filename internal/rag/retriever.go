// Package rag answers questions from the article store with retrieval
// augmented generation.
package rag

import (
	"context"
	"errors"
	"fmt"

	"ragcourse/internal/llm"
	"ragcourse/internal/model"
	"ragcourse/internal/store"

	"go.uber.org/zap"
)

// retrieveAttempts is how many keyword+search rounds run before giving up
// on finding any article.
const retrieveAttempts = 3

// KeywordExtractor turns text into a lexical search query.
type KeywordExtractor interface {
	Extract(ctx context.Context, text string, opts ...llm.GenerateOption) (string, error)
}

// Searcher runs lexical queries against stored articles.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...store.SearchOption) ([]model.Article, error)
}

// Retriever finds the articles relevant to a piece of text.
type Retriever struct {
	keywords   KeywordExtractor
	searcher   Searcher
	logger     *zap.Logger
	searchOpts []store.SearchOption
}

// NewRetriever builds a Retriever. opts are applied to every search.
func NewRetriever(kw KeywordExtractor, s Searcher, logger *zap.Logger, opts ...store.SearchOption) *Retriever {
	return &Retriever{
		keywords:   kw,
		searcher:   s,
		logger:     logger,
		searchOpts: opts,
	}
}

// Retrieve extracts keywords from seedText and searches for them. When the
// index rejects the query, new keywords are extracted from seedText. An
// empty result is retried with fresh keywords a few times; after that the
// empty result is returned without error.
func (r *Retriever) Retrieve(ctx context.Context, seedText string) ([]model.Article, error) {
	recovery := func(ctx context.Context) (string, error) {
		return r.keywords.Extract(ctx, seedText)
	}
	opts := append([]store.SearchOption{store.WithRecovery(recovery)}, r.searchOpts...)

	for attempt := 1; attempt <= retrieveAttempts; attempt++ {
		query, err := r.keywords.Extract(ctx, seedText)
		if errors.Is(err, llm.ErrKeywordsTooVerbose) {
			r.logger.Warn("No usable keywords", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}

		articles, err := r.searcher.Search(ctx, query, opts...)
		if errors.Is(err, store.ErrMalformedQuery) || errors.Is(err, llm.ErrKeywordsTooVerbose) {
			r.logger.Warn("Query rejected", zap.String("query", query), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", query, err)
		}
		if len(articles) > 0 {
			r.logger.Debug("Retrieved articles", zap.String("query", query), zap.Int("count", len(articles)))
			return articles, nil
		}
		r.logger.Debug("No articles found", zap.String("query", query), zap.Int("attempt", attempt))
	}
	return nil, nil
}
