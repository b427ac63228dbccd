package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/revy/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store { return newTestStore(t) })
}

// runStoreTests exercises the Store contract against any implementation.
func runStoreTests(t *testing.T, open func(t *testing.T) Store) {
	t.Run("UserCRUD", func(t *testing.T) { testUserCRUD(t, open(t)) })
	t.Run("RepositoryCRUD", func(t *testing.T) { testRepositoryCRUD(t, open(t)) })
	t.Run("ReviewRoundTrip", func(t *testing.T) { testReviewRoundTrip(t, open(t)) })
	t.Run("ReviewRejectsInconsistentCounts", func(t *testing.T) { testReviewRejectsInconsistentCounts(t, open(t)) })
	t.Run("ListReviews", func(t *testing.T) { testListReviews(t, open(t)) })
	t.Run("MarkPostedOnce", func(t *testing.T) { testMarkPostedOnce(t, open(t)) })
}

func seedOwner(t *testing.T, s Store) (*models.User, *models.Repository) {
	t.Helper()
	ctx := context.Background()
	u := &models.User{GitHubLogin: "octocat-" + newULID(), AccessToken: "tok", AutoReviewEnabled: true, IsActive: true}
	require.NoError(t, s.CreateUser(ctx, u))
	r := &models.Repository{UserID: u.ID, FullName: "octocat/" + newULID(), AutoReviewOnPR: true, IsActive: true}
	require.NoError(t, s.CreateRepository(ctx, r))
	return u, r
}

func sampleReview(u *models.User, r *models.Repository, created time.Time) *models.Review {
	done := created.Add(time.Second)
	patch := "@@ -1 +1 @@"
	issues := []models.Issue{
		{File: "db.go", Line: models.IntPtr(12), Severity: models.SeverityHigh, Category: models.CategorySecurity, Description: "SQL injection", Suggestion: "use placeholders"},
		{File: "db.go", Severity: models.SeverityLow, Category: models.CategoryStyle, Description: "long line"},
	}
	rev := &models.Review{
		UserID:            u.ID,
		RepositoryID:      r.ID,
		PRNumber:          7,
		PRTitle:           "Add db layer",
		PRURL:             "https://github.com/" + r.FullName + "/pull/7",
		PRAuthor:          "octocat",
		Branch:            "feature",
		BaseBranch:        "main",
		CommitSHA:         "abc123",
		FilesChanged:      []models.FileChange{{Filename: "db.go", Status: models.FileStatusAdded, Additions: 3, Changes: 3, PatchPreview: &patch}},
		TotalAdditions:    3,
		TotalFilesChanged: 1,
		AgentResults: []models.AgentResult{{
			AgentName:    "pr_analyzer",
			AgentVersion: "1.0.0",
			Status:       models.AgentStatusCompleted,
			StartedAt:    created,
			CompletedAt:  &done,
			Output: models.AgentOutput{
				Summary:           "one security issue",
				CodeQualityIssues: issues,
				Vulnerabilities:   issues[:1],
				Recommendations:   []string{"Review all identified issues before merging"},
			},
		}},
		OverallStatus: models.ReviewStatusCompleted,
		TriggerSource: models.TriggerManual,
		CreatedAt:     created,
		CompletedAt:   &done,
	}
	rev.ApplyCounts(models.Tally(issues))
	return rev
}

func testUserCRUD(t *testing.T, s Store) {
	ctx := context.Background()

	u := &models.User{GitHubUserID: 42, GitHubLogin: "hubot", Email: "hubot@example.com", AccessToken: "secret", IsActive: true}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.NotEmpty(t, u.ID)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "hubot", got.GitHubLogin)
	assert.Equal(t, "secret", got.AccessToken)
	assert.Equal(t, int64(42), got.GitHubUserID)
	assert.True(t, got.IsActive)

	byLogin, err := s.GetUserByLogin(ctx, "hubot")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byLogin.ID)

	got.IsActive = false
	require.NoError(t, s.UpdateUser(ctx, got))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "not found")
}

func testRepositoryCRUD(t *testing.T, s Store) {
	ctx := context.Background()
	u, _ := seedOwner(t, s)

	r := &models.Repository{UserID: u.ID, FullName: "acme/widgets", AutoReviewOnPR: true, IsActive: true}
	require.NoError(t, s.CreateRepository(ctx, r))
	assert.Equal(t, "acme", r.Owner)
	assert.Equal(t, "widgets", r.Name)
	assert.Equal(t, "main", r.DefaultBranch)

	got, err := s.GetRepositoryByFullName(ctx, "acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.True(t, got.AutoReviewOnPR)

	got.AutoReviewOnPR = false
	require.NoError(t, s.UpdateRepository(ctx, got))
	got, err = s.GetRepository(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, got.AutoReviewOnPR)

	repos, err := s.ListRepositories(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, repos, 2)

	_, err = s.GetRepository(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateRepository(ctx, &models.Repository{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func testReviewRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	u, r := seedOwner(t, s)

	rev := sampleReview(u, r, time.Now().UTC().Truncate(time.Second))
	require.NoError(t, s.CreateReview(ctx, rev))
	require.NotEmpty(t, rev.ID)

	got, err := s.GetReview(ctx, rev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusCompleted, got.OverallStatus)
	assert.Equal(t, models.TriggerManual, got.TriggerSource)
	assert.Equal(t, 2, got.IssuesFound)
	assert.Equal(t, 1, got.CriticalIssues)
	assert.Equal(t, 1, got.HighIssues)
	assert.Equal(t, 1, got.LowIssues)
	require.NotNil(t, got.CompletedAt)
	require.Len(t, got.FilesChanged, 1)
	require.NotNil(t, got.FilesChanged[0].PatchPreview)
	assert.Equal(t, "@@ -1 +1 @@", *got.FilesChanged[0].PatchPreview)

	require.Len(t, got.AgentResults, 1)
	issues := got.AgentResults[0].Output.CodeQualityIssues
	require.Len(t, issues, 2)
	require.NotNil(t, issues[0].Line)
	assert.Equal(t, 12, *issues[0].Line)
	assert.Nil(t, issues[1].Line)
	assert.False(t, got.AgentResults[0].PostedToGitHub)
	assert.NoError(t, got.Validate())

	_, err = s.GetReview(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testReviewRejectsInconsistentCounts(t *testing.T, s Store) {
	ctx := context.Background()
	u, r := seedOwner(t, s)

	rev := sampleReview(u, r, time.Now().UTC())
	rev.HighIssues = 5
	err := s.CreateReview(ctx, rev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid review")

	list, err := s.ListReviews(ctx, ReviewListFilter{RepositoryID: r.ID})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testListReviews(t *testing.T, s Store) {
	ctx := context.Background()
	u, r := seedOwner(t, s)
	_, other := seedOwner(t, s)
	base := time.Now().UTC().Truncate(time.Second)

	var ids []string
	for i := 0; i < 3; i++ {
		rev := sampleReview(u, r, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.CreateReview(ctx, rev))
		ids = append(ids, rev.ID)
	}
	otherRev := sampleReview(u, other, base)
	otherRev.OverallStatus = models.ReviewStatusFailed
	require.NoError(t, s.CreateReview(ctx, otherRev))

	byRepo, err := s.ListReviewsByRepository(ctx, r.ID, 0)
	require.NoError(t, err)
	require.Len(t, byRepo, 3)
	assert.Equal(t, ids[2], byRepo[0].ID, "newest first")
	assert.Equal(t, ids[0], byRepo[2].ID)

	page, err := s.ListReviews(ctx, ReviewListFilter{UserID: u.ID, RepositoryID: r.ID, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)

	failed, err := s.ListReviews(ctx, ReviewListFilter{UserID: u.ID, Status: models.ReviewStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, otherRev.ID, failed[0].ID)

	none, err := s.ListReviews(ctx, ReviewListFilter{UserID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testMarkPostedOnce(t *testing.T, s Store) {
	ctx := context.Background()
	u, r := seedOwner(t, s)

	rev := sampleReview(u, r, time.Now().UTC())
	require.NoError(t, s.CreateReview(ctx, rev))

	err := s.MarkPosted(ctx, rev.ID, PostedComment{AgentIndex: 0, CommentID: 99, CommentURL: "https://github.com/c/99"})
	require.NoError(t, err)

	got, err := s.GetReview(ctx, rev.ID)
	require.NoError(t, err)
	ar := got.AgentResults[0]
	assert.True(t, ar.PostedToGitHub)
	require.NotNil(t, ar.GitHubCommentID)
	assert.Equal(t, int64(99), *ar.GitHubCommentID)
	assert.Equal(t, "https://github.com/c/99", ar.GitHubCommentURL)
	assert.Equal(t, 2, got.IssuesFound, "post-back leaves counts untouched")

	err = s.MarkPosted(ctx, rev.ID, PostedComment{AgentIndex: 0, CommentID: 100})
	assert.True(t, errors.Is(err, ErrAlreadyPosted))

	err = s.MarkPosted(ctx, "missing", PostedComment{})
	assert.ErrorIs(t, err, ErrNotFound)

	rev2 := sampleReview(u, r, time.Now().UTC())
	require.NoError(t, s.CreateReview(ctx, rev2))
	err = s.MarkPosted(ctx, rev2.ID, PostedComment{AgentIndex: 3})
	assert.Error(t, err)
}
