package agent

import (
	"context"

	"github.com/joescharf/revy/internal/models"
)

// Result is the outcome of one workflow run.
type Result struct {
	Files   []FileIssues
	Summary string
}

// Issues flattens the per-file issues in file order.
func (r Result) Issues() []models.Issue {
	var out []models.Issue
	for _, f := range r.Files {
		out = append(out, f.Issues...)
	}
	return out
}

// Workflow runs the analyzer and then the summarizer. It holds no
// per-run state and is safe for concurrent use.
type Workflow struct {
	analyzer   *Analyzer
	summarizer *Summarizer
}

// NewWorkflow wires the two stages together.
func NewWorkflow(a *Analyzer, s *Summarizer) *Workflow {
	return &Workflow{analyzer: a, summarizer: s}
}

// Run analyzes pr.Files and summarizes the findings.
func (w *Workflow) Run(ctx context.Context, pr *models.PullRequest) Result {
	files := w.analyzer.Analyze(ctx, pr.Files)
	return Result{
		Files:   files,
		Summary: w.summarizer.Summarize(ctx, files),
	}
}
