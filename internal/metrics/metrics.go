// Package metrics exposes prometheus counters for crawling, generation and
// question answering.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"ragcourse/internal/llm"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ragcourse"

// Crawl outcomes recorded per visited URL.
const (
	PageStored       = "stored"
	PageUpgraded     = "upgraded"
	PageDuplicate    = "duplicate"
	PageOffDomain    = "off_domain"
	PageFetchFailed  = "fetch_failed"
	PageTooLarge     = "too_large"
	PageSummaryError = "summary_failed"
	PageStoreError   = "store_failed"
)

// Metrics holds the counters. A nil *Metrics records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	pages       *prometheus.CounterVec
	generations *prometheus.CounterVec
	answers     *prometheus.CounterVec
}

// New registers the counters on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawler",
			Name:      "pages_total",
			Help:      "Visited URLs by crawl outcome",
		}, []string{"outcome"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "generations_total",
			Help:      "Generation calls by result",
		}, []string{"result"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "answers_total",
			Help:      "Questions answered by result",
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.pages, m.generations, m.answers)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Page counts one crawl outcome.
func (m *Metrics) Page(outcome string) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(outcome).Inc()
}

// Answer counts one answered (or failed) question.
func (m *Metrics) Answer(err error) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(result(err)).Inc()
}

// Generator wraps gen so every call is counted.
func (m *Metrics) Generator(gen llm.Generator) llm.Generator {
	if m == nil {
		return gen
	}
	return &countingGenerator{next: gen, counter: m.generations}
}

type countingGenerator struct {
	next    llm.Generator
	counter *prometheus.CounterVec
}

func (g *countingGenerator) Generate(ctx context.Context, system, user string, opts ...llm.GenerateOption) (string, error) {
	out, err := g.next.Generate(ctx, system, user, opts...)
	g.counter.WithLabelValues(result(err)).Inc()
	return out, err
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, llm.ErrInputTooLarge):
		return "too_large"
	case errors.Is(err, llm.ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
