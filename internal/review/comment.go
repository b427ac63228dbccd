package review

import (
	"fmt"
	"strings"

	"github.com/joescharf/revy/internal/models"
)

var severityEmoji = map[models.Severity]string{
	models.SeverityHigh:   "🔴",
	models.SeverityMedium: "🟠",
	models.SeverityLow:    "🟡",
}

// FormatComment renders the markdown summary comment posted on a PR.
// The output depends only on the review, so the same review always renders
// to the same bytes. At most maxIssues issues are listed.
func FormatComment(r *models.Review, maxIssues int) string {
	var output *models.AgentOutput
	if len(r.AgentResults) > 0 {
		output = &r.AgentResults[0].Output
	}

	var b strings.Builder
	b.WriteString("## 🤖 Revy Review\n\n")
	fmt.Fprintf(&b, "**PR:** #%d - %s\n\n", r.PRNumber, r.PRTitle)

	b.WriteString("### 📊 Summary\n")
	if output != nil {
		b.WriteString(output.Summary)
	} else {
		b.WriteString("No summary available")
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "### 🔍 Issues Found: %d\n\n", r.IssuesFound)

	if r.IssuesFound > 0 {
		b.WriteString("\n**By Severity:**\n")
		fmt.Fprintf(&b, "- 🔴 High: %d\n", r.HighIssues)
		fmt.Fprintf(&b, "- 🟠 Medium: %d\n", r.MediumIssues)
		fmt.Fprintf(&b, "- 🟡 Low: %d\n", r.LowIssues)
		if r.CriticalIssues > 0 {
			fmt.Fprintf(&b, "\n⚠️ **Critical security issues:** %d\n", r.CriticalIssues)
		}

		if output != nil && len(output.CodeQualityIssues) > 0 {
			b.WriteString("\n### 📝 Detailed Issues\n\n")
			writeIssuesByFile(&b, output.CodeQualityIssues, maxIssues)
		}
	} else {
		b.WriteString("\n✅ No major issues found!\n")
	}

	fmt.Fprintf(&b, "\n\n---\n*Analyzed in %.2fs by Revy*", float64(r.ProcessingTimeMs)/1000)
	return b.String()
}

// writeIssuesByFile groups the first maxIssues issues by file, keeping the
// order in which files first appear.
func writeIssuesByFile(b *strings.Builder, issues []models.Issue, maxIssues int) {
	if maxIssues > 0 && len(issues) > maxIssues {
		issues = issues[:maxIssues]
	}

	var order []string
	byFile := map[string][]models.Issue{}
	for _, i := range issues {
		file := i.File
		if file == "" {
			file = "Unknown"
		}
		if _, ok := byFile[file]; !ok {
			order = append(order, file)
		}
		byFile[file] = append(byFile[file], i)
	}

	for _, file := range order {
		fmt.Fprintf(b, "\n**%s**\n", file)
		for _, i := range byFile[file] {
			emoji, ok := severityEmoji[i.Severity]
			if !ok {
				emoji = "⚪"
			}
			desc := i.Description
			if desc == "" {
				desc = "No description"
			}
			fmt.Fprintf(b, "- %s Line %s: %s\n", emoji, lineLabel(i.Line), desc)
		}
	}
}

func lineLabel(line *int) string {
	if line == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *line)
}

// FormatInlineComment renders the body of an inline comment for one issue.
func FormatInlineComment(i models.Issue) string {
	emoji, ok := severityEmoji[i.Severity]
	if !ok {
		emoji = "⚪"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s** (%s): %s", emoji, i.Severity, i.Category, i.Description)
	if i.Suggestion != "" {
		fmt.Fprintf(&b, "\n\n**Suggestion:** %s", i.Suggestion)
	}
	b.WriteString("\n\n<sub>Posted by Revy</sub>")
	return b.String()
}
