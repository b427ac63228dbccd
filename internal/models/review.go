package models

import (
	"fmt"
	"time"
)

// ReviewStatus is the lifecycle state of a review.
type ReviewStatus string

const (
	ReviewStatusPending    ReviewStatus = "pending"
	ReviewStatusInProgress ReviewStatus = "in_progress"
	ReviewStatusCompleted  ReviewStatus = "completed"
	ReviewStatusFailed     ReviewStatus = "failed"
)

// Valid reports whether s is a known status.
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewStatusPending, ReviewStatusInProgress, ReviewStatusCompleted, ReviewStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further analysis will happen for the status.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewStatusCompleted || s == ReviewStatusFailed
}

// TriggerSource records what started a review.
type TriggerSource string

const (
	TriggerWebhook TriggerSource = "webhook"
	TriggerManual  TriggerSource = "manual"
)

// AgentStatus is the outcome of one agent execution.
type AgentStatus string

const (
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
)

// AgentOutput is what the analysis produced for a review.
type AgentOutput struct {
	Summary           string   `json:"summary"`
	CodeQualityIssues []Issue  `json:"code_quality_issues"`
	Vulnerabilities   []Issue  `json:"vulnerabilities"`
	Recommendations   []string `json:"recommendations"`
	PassedChecks      []string `json:"passed_checks"`
	Walkthrough       string   `json:"walkthrough,omitempty"`
}

// AgentResult records one agent execution and whether its output was posted.
type AgentResult struct {
	AgentName        string      `json:"agent_name"`
	AgentVersion     string      `json:"agent_version"`
	Status           AgentStatus `json:"status"`
	StartedAt        time.Time   `json:"started_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	ExecutionTimeMs  int64       `json:"execution_time_ms"`
	Output           AgentOutput `json:"output"`
	PostedToGitHub   bool        `json:"posted_to_github"`
	GitHubCommentID  *int64      `json:"github_comment_id,omitempty"`
	GitHubCommentURL string      `json:"github_comment_url,omitempty"`
	ErrorMessage     string      `json:"error_message,omitempty"`
}

// FileChange is the stored snapshot of a changed file.
type FileChange struct {
	Filename     string     `json:"filename"`
	Status       FileStatus `json:"status"`
	Additions    int        `json:"additions"`
	Deletions    int        `json:"deletions"`
	Changes      int        `json:"changes"`
	PatchPreview *string    `json:"patch_preview,omitempty"`
}

// SeverityCounts is the tally of a set of issues.
type SeverityCounts struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Tally counts issues by severity. Critical is the subset of High that is
// also in the security category.
func Tally(issues []Issue) SeverityCounts {
	var c SeverityCounts
	for _, i := range issues {
		switch i.Severity {
		case SeverityHigh:
			c.High++
		case SeverityMedium:
			c.Medium++
		case SeverityLow:
			c.Low++
		default:
			continue
		}
		if i.IsCritical() {
			c.Critical++
		}
	}
	c.Total = c.High + c.Medium + c.Low
	return c
}

// Review is the persisted record of one analysis of a pull request.
type Review struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	RepositoryID string `json:"repository_id"`

	PRNumber      int    `json:"pr_number"`
	PRTitle       string `json:"pr_title"`
	PRDescription string `json:"pr_description,omitempty"`
	PRURL         string `json:"pr_url"`
	PRAuthor      string `json:"pr_author"`
	Branch        string `json:"branch"`
	BaseBranch    string `json:"base_branch"`
	CommitSHA     string `json:"commit_sha"`
	CommitMessage string `json:"commit_message,omitempty"`

	FilesChanged      []FileChange `json:"files_changed"`
	TotalAdditions    int          `json:"total_additions"`
	TotalDeletions    int          `json:"total_deletions"`
	TotalFilesChanged int          `json:"total_files_changed"`

	AgentResults  []AgentResult `json:"agent_results"`
	OverallStatus ReviewStatus  `json:"overall_status"`

	IssuesFound    int `json:"issues_found"`
	CriticalIssues int `json:"critical_issues"`
	HighIssues     int `json:"high_issues"`
	MediumIssues   int `json:"medium_issues"`
	LowIssues      int `json:"low_issues"`

	TriggerSource    TriggerSource `json:"trigger_source"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ReviewSummary is the compact view of a review returned by trigger and
// list operations.
type ReviewSummary struct {
	ID             string       `json:"id"`
	PRNumber       int          `json:"pr_number"`
	PRTitle        string       `json:"pr_title"`
	PRURL          string       `json:"pr_url"`
	OverallStatus  ReviewStatus `json:"overall_status"`
	IssuesFound    int          `json:"issues_found"`
	CriticalIssues int          `json:"critical_issues"`
	HighIssues     int          `json:"high_issues"`
	MediumIssues   int          `json:"medium_issues"`
	LowIssues      int          `json:"low_issues"`
	CreatedAt      time.Time    `json:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// Summary returns the compact view of r.
func (r *Review) Summary() ReviewSummary {
	return ReviewSummary{
		ID:             r.ID,
		PRNumber:       r.PRNumber,
		PRTitle:        r.PRTitle,
		PRURL:          r.PRURL,
		OverallStatus:  r.OverallStatus,
		IssuesFound:    r.IssuesFound,
		CriticalIssues: r.CriticalIssues,
		HighIssues:     r.HighIssues,
		MediumIssues:   r.MediumIssues,
		LowIssues:      r.LowIssues,
		CreatedAt:      r.CreatedAt,
		CompletedAt:    r.CompletedAt,
	}
}

// AllIssues returns the code quality issues of every agent result.
func (r *Review) AllIssues() []Issue {
	var out []Issue
	for _, ar := range r.AgentResults {
		out = append(out, ar.Output.CodeQualityIssues...)
	}
	return out
}

// Counts returns the stored severity counters.
func (r *Review) Counts() SeverityCounts {
	return SeverityCounts{
		Total:    r.IssuesFound,
		Critical: r.CriticalIssues,
		High:     r.HighIssues,
		Medium:   r.MediumIssues,
		Low:      r.LowIssues,
	}
}

// ApplyCounts sets the severity counters from c.
func (r *Review) ApplyCounts(c SeverityCounts) {
	r.IssuesFound = c.Total
	r.CriticalIssues = c.Critical
	r.HighIssues = c.High
	r.MediumIssues = c.Medium
	r.LowIssues = c.Low
}

// Posted reports whether any agent result has been posted back to GitHub.
func (r *Review) Posted() bool {
	for _, ar := range r.AgentResults {
		if ar.PostedToGitHub {
			return true
		}
	}
	return false
}

// Validate checks the record is internally consistent before it is stored.
func (r *Review) Validate() error {
	if r.RepositoryID == "" {
		return fmt.Errorf("repository_id is required")
	}
	if r.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if r.PRNumber <= 0 {
		return fmt.Errorf("invalid pr_number %d", r.PRNumber)
	}
	if !r.OverallStatus.Valid() {
		return fmt.Errorf("invalid overall_status %q", r.OverallStatus)
	}
	if r.OverallStatus.Terminal() && r.CompletedAt == nil {
		return fmt.Errorf("completed_at is required for status %s", r.OverallStatus)
	}
	switch r.TriggerSource {
	case TriggerWebhook, TriggerManual:
	default:
		return fmt.Errorf("invalid trigger_source %q", r.TriggerSource)
	}
	issues := r.AllIssues()
	for _, i := range issues {
		if err := i.Validate(); err != nil {
			return fmt.Errorf("issue in %s: %w", i.File, err)
		}
	}
	if got, want := r.Counts(), Tally(issues); got != want {
		return fmt.Errorf("severity counts %+v do not match issues %+v", got, want)
	}
	return nil
}
