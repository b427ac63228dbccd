package models

import "time"

// User is a GitHub account registered with revy. AccessToken is used for
// every provider call made on the user's behalf.
type User struct {
	ID                string    `json:"id"`
	GitHubUserID      int64     `json:"github_user_id"`
	GitHubLogin       string    `json:"github_login"`
	Email             string    `json:"email,omitempty"`
	AccessToken       string    `json:"-"`
	AutoReviewEnabled bool      `json:"auto_review_enabled"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Repository is a GitHub repository owned by a registered user.
type Repository struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	GitHubRepoID   int64     `json:"github_repo_id"`
	FullName       string    `json:"full_name"`
	Name           string    `json:"name"`
	Owner          string    `json:"owner"`
	DefaultBranch  string    `json:"default_branch"`
	Language       string    `json:"language,omitempty"`
	AutoReviewOnPR bool      `json:"auto_review_on_pr"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
