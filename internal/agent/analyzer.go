// Package agent runs the two-stage PR analysis: per-file issue detection
// followed by a single summary.
package agent

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/joescharf/revy/internal/llm"
	"github.com/joescharf/revy/internal/models"
)

// FileIssues holds the valid issues found in one file.
type FileIssues struct {
	Filename string         `json:"filename"`
	Issues   []models.Issue `json:"issues"`
}

// Analyzer asks the generator about each analyzable file in a PR.
type Analyzer struct {
	gen         llm.Generator
	concurrency int
	logger      *slog.Logger
}

// NewAnalyzer creates an Analyzer. concurrency bounds in-flight generator
// calls; values below 1 mean sequential.
func NewAnalyzer(gen llm.Generator, concurrency int, logger *slog.Logger) *Analyzer {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{gen: gen, concurrency: concurrency, logger: logger.With("component", "analyzer")}
}

// Analyze returns the issues per file, in the order the files were given.
// Removed files and files without a patch are skipped, as are files whose
// analysis fails. Files with no valid issues are omitted.
func (a *Analyzer) Analyze(ctx context.Context, files []models.FileDiff) []FileIssues {
	found := make([][]models.Issue, len(files))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, f := range files {
		if !f.Analyzable() {
			continue
		}
		g.Go(func() error {
			found[i] = a.analyzeFile(ctx, f)
			return nil
		})
	}
	_ = g.Wait()

	var out []FileIssues
	for i, issues := range found {
		if len(issues) == 0 {
			continue
		}
		out = append(out, FileIssues{Filename: files[i].Filename, Issues: issues})
	}
	return out
}

func (a *Analyzer) analyzeFile(ctx context.Context, f models.FileDiff) []models.Issue {
	text, err := a.gen.Generate(ctx, BuildFilePrompt(f))
	if err != nil {
		a.logger.Warn("file analysis failed", "file", f.Filename, "error", err)
		return nil
	}

	issues, dropped, err := ParseIssues(f.Filename, text)
	if err != nil {
		a.logger.Warn("unparseable analysis response", "file", f.Filename, "error", err)
		return nil
	}
	for _, d := range dropped {
		a.logger.Warn("dropped invalid issue", "file", f.Filename, "error", d)
	}
	return issues
}
