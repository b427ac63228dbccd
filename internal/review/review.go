// Package review orchestrates a pull request review: fetch, analyze,
// persist and optionally post the result back to GitHub.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/joescharf/revy/internal/agent"
	"github.com/joescharf/revy/internal/github"
	"github.com/joescharf/revy/internal/models"
	"github.com/joescharf/revy/internal/store"
)

const (
	AgentName      = "pr_analyzer"
	AgentVersion   = "1.0.0"
	Recommendation = "Review all identified issues before merging"

	patchPreviewChars = 200
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrSourceFetchFailed = errors.New("source fetch failed")
	ErrPersistenceFailed = errors.New("persistence failed")
)

// Config holds review orchestration settings.
type Config struct {
	SummaryMaxChars  int
	CommentMaxIssues int
	StoreTimeout     time.Duration
}

// DefaultConfig returns the default review config, reading from viper when available.
func DefaultConfig() Config {
	summaryMax := viper.GetInt("review.summary_max_chars")
	if summaryMax <= 0 {
		summaryMax = 500
	}
	maxIssues := viper.GetInt("review.comment_max_issues")
	if maxIssues <= 0 {
		maxIssues = 10
	}
	storeTimeout := viper.GetDuration("store.timeout")
	if storeTimeout <= 0 {
		storeTimeout = 10 * time.Second
	}
	return Config{
		SummaryMaxChars:  summaryMax,
		CommentMaxIssues: maxIssues,
		StoreTimeout:     storeTimeout,
	}
}

// Analyzer runs the analysis workflow over a pull request.
type Analyzer interface {
	Run(ctx context.Context, pr *models.PullRequest) agent.Result
}

// TriggerRequest asks for one review of one pull request.
type TriggerRequest struct {
	RepositoryID string
	PRNumber     int
	UserID       string
	PostToGitHub bool
	Source       models.TriggerSource
}

// Service runs reviews. It keeps no per-review state and may be used from
// many goroutines at once.
type Service struct {
	store    store.Store
	github   github.TokenSource
	analyzer Analyzer
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a review service.
func NewService(s store.Store, gh github.TokenSource, a Analyzer, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		github:   gh,
		analyzer: a,
		cfg:      cfg,
		logger:   logger.With("component", "review"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Trigger runs a full review and returns the persisted record. The run is
// detached from ctx cancellation so an abandoned caller still gets a
// stored review; each external call is bounded by its own timeout.
func (s *Service) Trigger(ctx context.Context, req TriggerRequest) (*models.Review, error) {
	ctx = context.WithoutCancel(ctx)
	if req.Source == "" {
		req.Source = models.TriggerManual
	}
	log := s.logger.With("repository_id", req.RepositoryID, "pr", req.PRNumber, "source", req.Source)

	repo, user, err := s.authorize(ctx, req.RepositoryID, req.UserID)
	if err != nil {
		return nil, err
	}
	log = log.With("repo", repo.FullName)

	provider := s.github.ForToken(user.AccessToken)
	pr, err := provider.FetchPullRequest(ctx, repo.FullName, req.PRNumber)
	if err != nil {
		log.Warn("fetch pull request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSourceFetchFailed, err)
	}
	files, err := provider.FetchChangedFiles(ctx, repo.FullName, req.PRNumber)
	if err != nil {
		log.Warn("fetch changed files failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSourceFetchFailed, err)
	}
	pr.Files = files

	started := s.now()
	result := s.analyzer.Run(ctx, pr)
	finished := s.now()

	rev := s.buildReview(repo, user, pr, result, req.Source, started, finished)

	sctx, cancel := s.storeContext(ctx)
	err = s.store.CreateReview(sctx, rev)
	cancel()
	if err != nil {
		log.Error("persist review failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	log.Info("review completed", "review_id", rev.ID, "issues", rev.IssuesFound, "critical", rev.CriticalIssues)

	if req.PostToGitHub {
		s.postBack(ctx, provider, repo, rev, log)
	}
	return rev, nil
}

// authorize loads the repository and user and checks the user owns the
// repository.
func (s *Service) authorize(ctx context.Context, repositoryID, userID string) (*models.Repository, *models.User, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	repo, err := s.store.GetRepository(sctx, repositoryID)
	if err != nil {
		return nil, nil, classifyStoreErr("repository", err)
	}
	user, err := s.store.GetUser(sctx, userID)
	if err != nil {
		return nil, nil, classifyStoreErr("user", err)
	}
	if repo.UserID != user.ID {
		return nil, nil, fmt.Errorf("%w: repository %s does not belong to user %s", ErrForbidden, repo.ID, user.ID)
	}
	if !user.IsActive {
		return nil, nil, fmt.Errorf("%w: user %s is inactive", ErrForbidden, user.ID)
	}
	return repo, user, nil
}

func classifyStoreErr(kind string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s: %v", ErrNotFound, kind, err)
	}
	return fmt.Errorf("%w: load %s: %v", ErrPersistenceFailed, kind, err)
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) buildReview(repo *models.Repository, user *models.User, pr *models.PullRequest, result agent.Result,
	source models.TriggerSource, started, finished time.Time) *models.Review {
	issues := result.Issues()
	if issues == nil {
		issues = []models.Issue{}
	}
	vulns := []models.Issue{}
	for _, i := range issues {
		if i.Category == models.CategorySecurity {
			vulns = append(vulns, i)
		}
	}

	elapsed := finished.Sub(started).Milliseconds()
	completed := finished

	rev := &models.Review{
		UserID:        user.ID,
		RepositoryID:  repo.ID,
		PRNumber:      pr.Number,
		PRTitle:       pr.Title,
		PRDescription: pr.Description,
		PRURL:         pr.URL,
		PRAuthor:      pr.Author,
		Branch:        pr.HeadBranch,
		BaseBranch:    pr.BaseBranch,
		CommitSHA:     pr.HeadSHA,
		CommitMessage: pr.CommitMessage,
		AgentResults: []models.AgentResult{{
			AgentName:       AgentName,
			AgentVersion:    AgentVersion,
			Status:          models.AgentStatusCompleted,
			StartedAt:       started,
			CompletedAt:     &completed,
			ExecutionTimeMs: elapsed,
			Output: models.AgentOutput{
				Summary:           truncate(result.Summary, s.cfg.SummaryMaxChars),
				CodeQualityIssues: issues,
				Vulnerabilities:   vulns,
				Recommendations:   []string{Recommendation},
				PassedChecks:      []string{},
			},
		}},
		OverallStatus:    models.ReviewStatusCompleted,
		TriggerSource:    source,
		ProcessingTimeMs: elapsed,
		CompletedAt:      &completed,
	}

	rev.FilesChanged = make([]models.FileChange, 0, len(pr.Files))
	for _, f := range pr.Files {
		fc := models.FileChange{
			Filename:  f.Filename,
			Status:    f.Status,
			Additions: f.Additions,
			Deletions: f.Deletions,
			Changes:   f.Changes,
		}
		if f.Patch != nil && *f.Patch != "" {
			preview := truncate(*f.Patch, patchPreviewChars)
			fc.PatchPreview = &preview
		}
		rev.FilesChanged = append(rev.FilesChanged, fc)
		rev.TotalAdditions += f.Additions
		rev.TotalDeletions += f.Deletions
	}
	rev.TotalFilesChanged = len(pr.Files)
	rev.ApplyCounts(models.Tally(issues))
	return rev
}

// postBack posts the summary comment once. Failures are logged and leave
// the review unposted.
func (s *Service) postBack(ctx context.Context, provider github.Provider, repo *models.Repository, rev *models.Review, log *slog.Logger) {
	body := FormatComment(rev, s.cfg.CommentMaxIssues)
	ref, err := provider.PostSummaryComment(ctx, repo.FullName, rev.PRNumber, body)
	if err != nil {
		log.Warn("post review comment failed", "review_id", rev.ID, "error", err)
		return
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	err = s.store.MarkPosted(sctx, rev.ID, store.PostedComment{AgentIndex: 0, CommentID: ref.ID, CommentURL: ref.URL})
	if err != nil {
		log.Warn("record posted comment failed", "review_id", rev.ID, "comment_id", ref.ID, "error", err)
		return
	}

	id := ref.ID
	rev.AgentResults[0].PostedToGitHub = true
	rev.AgentResults[0].GitHubCommentID = &id
	rev.AgentResults[0].GitHubCommentURL = ref.URL
	log.Info("review posted", "review_id", rev.ID, "comment_url", ref.URL)
}

// truncate cuts s to at most n characters (runes). n <= 0 leaves s intact.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
