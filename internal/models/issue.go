package models

import "fmt"

// Severity grades a single finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Category classifies what kind of problem a finding describes.
type Category string

const (
	CategoryBug         Category = "bug"
	CategorySecurity    Category = "security"
	CategoryStyle       Category = "style"
	CategoryPerformance Category = "performance"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryBug, CategorySecurity, CategoryStyle, CategoryPerformance:
		return true
	}
	return false
}

// Issue is one finding reported against a changed file.
// Line is relative to the file's diff hunk and is nil when the analysis
// could not place the finding on a line.
type Issue struct {
	File        string   `json:"file"`
	Line        *int     `json:"line"`
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// IsCritical reports whether the issue is a high severity security finding.
func (i Issue) IsCritical() bool {
	return i.Severity == SeverityHigh && i.Category == CategorySecurity
}

// Validate checks the enum fields and required text.
func (i Issue) Validate() error {
	if !i.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", i.Severity)
	}
	if !i.Category.Valid() {
		return fmt.Errorf("invalid category %q", i.Category)
	}
	if i.Description == "" {
		return fmt.Errorf("description is required")
	}
	if i.Line != nil && *i.Line < 1 {
		return fmt.Errorf("invalid line %d", *i.Line)
	}
	return nil
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }
