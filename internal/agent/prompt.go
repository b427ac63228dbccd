package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joescharf/revy/internal/models"
)

// BuildFilePrompt asks for a JSON list of issues found in one file's patch.
func BuildFilePrompt(f models.FileDiff) string {
	var b strings.Builder

	b.WriteString("You are an expert code reviewer. Analyze the following code change for bugs, security issues, and code quality improvements.\n\n")
	fmt.Fprintf(&b, "File: %s\n", f.Filename)
	b.WriteString("Patch:\n")
	if f.Patch != nil {
		b.WriteString(*f.Patch)
	}
	b.WriteString("\n\n")

	b.WriteString("Provide the review in JSON format with a list of issues:\n")
	b.WriteString(`{
  "issues": [
    {
      "line": <line_number>,
      "severity": "low|medium|high",
      "category": "bug|security|style|performance",
      "description": "<description>",
      "suggestion": "<suggestion>"
    }
  ]
}`)
	b.WriteString("\nLine numbers refer to the patch above. If there are no issues, return an empty list.\n")
	b.WriteString("Return valid JSON only, no markdown fencing or explanation.\n")

	return b.String()
}

// BuildSummaryPrompt asks for a single PR review comment covering all
// per-file findings.
func BuildSummaryPrompt(results []FileIssues) string {
	var b strings.Builder

	b.WriteString("Summarize the following code review results into a cohesive Pull Request review comment.\n")
	b.WriteString("Highlight critical issues.\n\n")
	b.WriteString("Results:\n")

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		for _, r := range results {
			fmt.Fprintf(&b, "- %s: %d issues\n", r.Filename, len(r.Issues))
		}
		return b.String()
	}
	b.Write(data)
	b.WriteString("\n")
	return b.String()
}
