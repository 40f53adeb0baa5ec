package llm

import "context"

const summarizeInstruction = "Summarize the input text below including the contents and details. " +
	"Pay special attention to school, major, graduation requirements and courses. " +
	"Must include any information related to major, graduation requirements and courses in detail and the school."

// Summarizer produces the stored summary of a crawled page.
type Summarizer struct {
	gen Generator
}

// NewSummarizer returns a Summarizer backed by gen.
func NewSummarizer(gen Generator) *Summarizer {
	return &Summarizer{gen: gen}
}

// Summarize returns a summary of a page body.
func (s *Summarizer) Summarize(ctx context.Context, text string, opts ...GenerateOption) (string, error) {
	return s.gen.Generate(ctx, summarizeInstruction, text, opts...)
}
