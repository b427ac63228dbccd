package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joescharf/revy/internal/llm"
)

// NoIssuesSummary is the summary used when no file produced issues.
const NoIssuesSummary = "No major issues found in the analyzed files."

// Summarizer turns per-file findings into one review summary.
type Summarizer struct {
	gen    llm.Generator
	logger *slog.Logger
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(gen llm.Generator, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{gen: gen, logger: logger.With("component", "summarizer")}
}

// Summarize never fails: a generator error is reported inside the summary.
func (s *Summarizer) Summarize(ctx context.Context, results []FileIssues) string {
	if len(results) == 0 {
		return NoIssuesSummary
	}
	text, err := s.gen.Generate(ctx, BuildSummaryPrompt(results))
	if err != nil {
		s.logger.Warn("summary generation failed", "error", err)
		return fmt.Sprintf("Error generating summary: %v", err)
	}
	return text
}
