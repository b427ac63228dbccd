package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/joescharf/revy/internal/github"
	"github.com/joescharf/revy/internal/models"
	"github.com/joescharf/revy/internal/store"
)

// Get returns a review owned by userID.
func (s *Service) Get(ctx context.Context, reviewID, userID string) (*models.Review, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	rev, err := s.store.GetReview(sctx, reviewID)
	if err != nil {
		return nil, classifyStoreErr("review", err)
	}
	if rev.UserID != userID {
		return nil, fmt.Errorf("%w: review %s does not belong to user %s", ErrForbidden, reviewID, userID)
	}
	return rev, nil
}

// List returns the caller's reviews, newest first.
func (s *Service) List(ctx context.Context, userID string, filter store.ReviewListFilter) ([]*models.Review, error) {
	filter.UserID = userID
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	reviews, err := s.store.ListReviews(sctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: list reviews: %v", ErrPersistenceFailed, err)
	}
	return reviews, nil
}

// ListForRepository returns the reviews of a repository the caller owns.
func (s *Service) ListForRepository(ctx context.Context, repositoryID, userID string, limit int) ([]*models.Review, error) {
	if _, _, err := s.authorize(ctx, repositoryID, userID); err != nil {
		return nil, err
	}
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	reviews, err := s.store.ListReviewsByRepository(sctx, repositoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list reviews: %v", ErrPersistenceFailed, err)
	}
	return reviews, nil
}

// AnnotateFailure records an inline comment that could not be posted.
type AnnotateFailure struct {
	File  string `json:"file"`
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// AnnotateResult summarizes an Annotate run.
type AnnotateResult struct {
	Posted   int               `json:"posted"`
	Skipped  int               `json:"skipped"`
	Failures []AnnotateFailure `json:"failures,omitempty"`
}

// Annotate posts one inline comment per issue that has a line number on the
// review's head commit. Issues without a line are skipped; per-issue
// failures are collected, not returned as an error.
func (s *Service) Annotate(ctx context.Context, reviewID, userID string) (*AnnotateResult, error) {
	ctx = context.WithoutCancel(ctx)

	rev, err := s.Get(ctx, reviewID, userID)
	if err != nil {
		return nil, err
	}
	repo, user, err := s.authorize(ctx, rev.RepositoryID, userID)
	if err != nil {
		return nil, err
	}
	provider := s.github.ForToken(user.AccessToken)

	res := &AnnotateResult{}
	for _, issue := range rev.AllIssues() {
		if issue.Line == nil {
			res.Skipped++
			continue
		}
		_, err := provider.PostInlineComment(ctx, repo.FullName, rev.PRNumber, rev.CommitSHA, issue.File, *issue.Line, FormatInlineComment(issue))
		if err != nil {
			if errors.Is(err, github.ErrInvalidLineReference) {
				s.logger.Debug("line not in diff", "file", issue.File, "line", *issue.Line)
			} else {
				s.logger.Warn("inline comment failed", "file", issue.File, "line", *issue.Line, "error", err)
			}
			res.Failures = append(res.Failures, AnnotateFailure{File: issue.File, Line: *issue.Line, Error: err.Error()})
			continue
		}
		res.Posted++
	}
	return res, nil
}
