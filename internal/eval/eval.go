// Package eval scores the question answering pipeline against a labelled
// set of true/false statements.
package eval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"ragcourse/internal/rag"

	"go.uber.org/zap"
)

const promptTemplate = `I'm going to provide you a sentence.
And your job is to tell me it is true or false.

You should not provide any explanation or other extraneous words.
Valid values include: [True, False]
INPUT: I can take CSCI81 without finishing CSCI70
OUTPUT: False

INPUT: I could finish Computer Science major without taking Algorithm
OUTPUT: False

INPUT: I can take 18 credits without overload.
OUTPUT: True

INPUT: %s
OUTPUT: `

// Prompt wraps a statement in the few-shot true/false template.
func Prompt(statement string) string {
	return fmt.Sprintf(promptTemplate, statement)
}

// Label is an expected answer. It decodes from a JSON string or boolean.
type Label string

func (l *Label) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			*l = "True"
		} else {
			*l = "False"
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("answer must be a string or boolean: %w", err)
	}
	*l = Label(s)
	return nil
}

// Case is one line of the dataset.
type Case struct {
	Question string `json:"question"`
	Answer   Label  `json:"answer"`
}

// Load reads one JSON object per line. Blank lines are skipped.
func Load(r io.Reader) ([]Case, error) {
	var cases []Case
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var c Case
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		cases = append(cases, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cases, nil
}

// Match compares the first word of the prediction with the label character
// by character over their common length. An empty prediction never matches.
func Match(label, prediction string) bool {
	fields := strings.Fields(prediction)
	if len(fields) == 0 {
		return false
	}
	want, got := []rune(label), []rune(fields[0])
	for i := range min(len(want), len(got)) {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

// Result tallies an evaluation run.
type Result struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Total is the number of evaluated cases.
func (r Result) Total() int { return r.Success + r.Failure }

// Ratio is the share of successes, or 0 for an empty run.
func (r Result) Ratio() float64 {
	if r.Total() == 0 {
		return 0
	}
	return float64(r.Success) / float64(r.Total())
}

// Answerer answers a question, optionally searching on different text.
type Answerer interface {
	Answer(ctx context.Context, question string, opts ...rag.AnswerOption) (string, error)
}

// Evaluator runs cases through an Answerer and writes a report to out.
type Evaluator struct {
	answerer Answerer
	logger   *zap.Logger
	out      io.Writer
}

// NewEvaluator builds an Evaluator. A nil out discards the report.
func NewEvaluator(a Answerer, logger *zap.Logger, out io.Writer) *Evaluator {
	if out == nil {
		out = io.Discard
	}
	return &Evaluator{answerer: a, logger: logger, out: out}
}

// Run evaluates every case. Failed answers count as failures; only context
// cancellation stops the run early.
func (e *Evaluator) Run(ctx context.Context, cases []Case) (Result, error) {
	var res Result
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		fmt.Fprintln(e.out, "Question:", c.Question)
		fmt.Fprintln(e.out, "Actual labels:", c.Answer)

		output, err := e.answerer.Answer(ctx, Prompt(c.Question), rag.WithKeywordSeed(c.Question))
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			e.logger.Warn("Answer failed", zap.String("question", c.Question), zap.Error(err))
		}

		prediction := ""
		if fields := strings.Fields(output); len(fields) > 0 {
			prediction = fields[0]
		}
		fmt.Fprintln(e.out, "Predicted labels:", prediction)
		fmt.Fprintln(e.out, strings.Repeat("-", 70))

		if err == nil && Match(string(c.Answer), output) {
			res.Success++
		} else {
			res.Failure++
		}
	}

	fmt.Fprintf(e.out, "Success: %d\n", res.Success)
	fmt.Fprintf(e.out, "Failure: %d\n", res.Failure)
	if res.Total() > 0 {
		fmt.Fprintf(e.out, "Success ratio: %.2f\n", res.Ratio())
	} else {
		fmt.Fprintln(e.out, "No data")
	}
	return res, nil
}
