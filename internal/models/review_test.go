package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTally(t *testing.T) {
	issues := []Issue{
		{Severity: SeverityHigh, Category: CategorySecurity},
		{Severity: SeverityHigh, Category: CategoryBug},
		{Severity: SeverityMedium, Category: CategorySecurity},
		{Severity: SeverityLow, Category: CategoryStyle},
		{Severity: SeverityLow, Category: CategoryPerformance},
	}

	c := Tally(issues)
	assert.Equal(t, SeverityCounts{Total: 5, Critical: 1, High: 2, Medium: 1, Low: 2}, c)
	assert.Equal(t, c.High+c.Medium+c.Low, c.Total)
	assert.LessOrEqual(t, c.Critical, c.High)
}

func TestTallyEmpty(t *testing.T) {
	assert.Equal(t, SeverityCounts{}, Tally(nil))
}

func TestIssueValidate(t *testing.T) {
	ok := Issue{File: "a.go", Severity: SeverityLow, Category: CategoryStyle, Description: "x"}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Severity = "critical"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Category = "docs"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Description = ""
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Line = IntPtr(0)
	assert.Error(t, bad.Validate())
}

func TestFileDiffAnalyzable(t *testing.T) {
	assert.True(t, FileDiff{Status: FileStatusModified, Patch: StringPtr("@@")}.Analyzable())
	assert.False(t, FileDiff{Status: FileStatusRemoved, Patch: StringPtr("@@")}.Analyzable())
	assert.False(t, FileDiff{Status: FileStatusAdded}.Analyzable())
	assert.False(t, FileDiff{Status: FileStatusAdded, Patch: StringPtr("")}.Analyzable())
}

func TestReviewValidate(t *testing.T) {
	now := time.Now()
	issues := []Issue{
		{File: "a.go", Severity: SeverityHigh, Category: CategorySecurity, Description: "sqli"},
	}
	r := &Review{
		UserID:        "u",
		RepositoryID:  "r",
		PRNumber:      1,
		OverallStatus: ReviewStatusCompleted,
		TriggerSource: TriggerManual,
		CompletedAt:   &now,
		AgentResults:  []AgentResult{{Output: AgentOutput{CodeQualityIssues: issues}}},
	}
	r.ApplyCounts(Tally(issues))
	require.NoError(t, r.Validate())

	r.HighIssues = 0
	assert.Error(t, r.Validate())

	r.ApplyCounts(Tally(issues))
	r.CompletedAt = nil
	assert.Error(t, r.Validate())
}

func TestReview_Summary(t *testing.T) {
	done := time.Now()
	r := &Review{ID: "r1", PRNumber: 4, PRTitle: "t", OverallStatus: ReviewStatusCompleted, IssuesFound: 3, HighIssues: 1, LowIssues: 2, CompletedAt: &done}
	s := r.Summary()
	assert.Equal(t, "r1", s.ID)
	assert.Equal(t, 4, s.PRNumber)
	assert.Equal(t, 3, s.IssuesFound)
	assert.Equal(t, 2, s.LowIssues)
	assert.Equal(t, &done, s.CompletedAt)
}
