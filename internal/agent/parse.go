package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/joescharf/revy/internal/llm"
	"github.com/joescharf/revy/internal/models"
)

type rawIssue struct {
	Line        json.RawMessage `json:"line"`
	Severity    string          `json:"severity"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Message     string          `json:"message"`
	Suggestion  string          `json:"suggestion"`
}

// ParseIssues extracts the issues reported for file from a model response.
// The response must be a JSON object with an "issues" array, optionally
// wrapped in a code fence. A missing "issues" key yields no issues. Entries
// that fail validation are skipped and reported in dropped.
func ParseIssues(file, text string) (issues []models.Issue, dropped []error, err error) {
	text = llm.StripCodeFence(text)

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &envelope); err != nil {
		return nil, nil, fmt.Errorf("parse response as JSON: %w", err)
	}
	rawList, ok := envelope["issues"]
	if !ok || isNull(rawList) {
		return nil, nil, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(rawList, &entries); err != nil {
		return nil, nil, fmt.Errorf("parse issues list: %w", err)
	}

	for i, entry := range entries {
		issue, err := toIssue(file, entry)
		if err != nil {
			dropped = append(dropped, fmt.Errorf("issue %d: %w", i, err))
			continue
		}
		issues = append(issues, issue)
	}
	return issues, dropped, nil
}

func toIssue(file string, entry json.RawMessage) (models.Issue, error) {
	var raw rawIssue
	if err := json.Unmarshal(entry, &raw); err != nil {
		return models.Issue{}, err
	}

	line, err := parseLine(raw.Line)
	if err != nil {
		return models.Issue{}, err
	}

	description := strings.TrimSpace(raw.Description)
	if description == "" {
		description = strings.TrimSpace(raw.Message)
	}

	issue := models.Issue{
		File:        file,
		Line:        line,
		Severity:    models.Severity(strings.ToLower(strings.TrimSpace(raw.Severity))),
		Category:    models.Category(strings.ToLower(strings.TrimSpace(raw.Category))),
		Description: description,
		Suggestion:  strings.TrimSpace(raw.Suggestion),
	}
	if err := issue.Validate(); err != nil {
		return models.Issue{}, err
	}
	return issue, nil
}

// parseLine accepts a positive integer, an integral float or a numeric
// string. Null, absent and empty string mean no line.
func parseLine(raw json.RawMessage) (*int, error) {
	if len(raw) == 0 || isNull(raw) {
		return nil, nil
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("invalid line: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
	} else {
		s = string(raw)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < 1 || f > math.MaxInt32 {
		return nil, fmt.Errorf("invalid line %s", raw)
	}
	n := int(f)
	return &n, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
