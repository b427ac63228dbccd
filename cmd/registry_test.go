package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetRegistryFlags(t *testing.T) {
	t.Helper()
	userToken, userEmail, userGitHubID, userNoAutoReview = "", "", 0, false
	repoUser, repoLanguage, repoDefaultBranch, repoNoAutoReview = "", "", "main", false
	t.Cleanup(func() {
		userToken, userEmail, userGitHubID, userNoAutoReview = "", "", 0, false
		repoUser, repoLanguage, repoDefaultBranch, repoNoAutoReview = "", "", "main", false
	})
}

func TestUserAndRepoAdd(t *testing.T) {
	testEnv(t)
	resetRegistryFlags(t)
	ctx := context.Background()

	userToken = "ghp_test"
	userEmail = "octo@example.com"
	require.NoError(t, userAddRun(ctx, "octocat"))

	repoUser = "octocat"
	repoLanguage = "go"
	repoNoAutoReview = true
	require.NoError(t, repoAddRun(ctx, "octocat/hello"))

	s, err := getStore()
	require.NoError(t, err)
	u, err := s.GetUserByLogin(ctx, "octocat")
	require.NoError(t, err)
	assert.Equal(t, "ghp_test", u.AccessToken)
	assert.True(t, u.IsActive)

	r, err := s.GetRepositoryByFullName(ctx, "octocat/hello")
	require.NoError(t, err)
	assert.Equal(t, u.ID, r.UserID)
	assert.Equal(t, "octocat", r.Owner)
	assert.Equal(t, "hello", r.Name)
	assert.Equal(t, "go", r.Language)
	assert.False(t, r.AutoReviewOnPR)

	assert.NoError(t, userListRun(ctx))
	assert.NoError(t, repoListRun(ctx))
}

func TestUserAdd_RequiresToken(t *testing.T) {
	testEnv(t)
	resetRegistryFlags(t)
	t.Setenv("GITHUB_TOKEN", "")

	err := userAddRun(context.Background(), "octocat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no GitHub token")
}

func TestRepoAdd_Errors(t *testing.T) {
	testEnv(t)
	resetRegistryFlags(t)
	ctx := context.Background()

	err := repoAddRun(ctx, "not-a-full-name")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner/name")

	repoUser = "ghost"
	err = repoAddRun(ctx, "ghost/repo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestReviewList_Empty(t *testing.T) {
	testEnv(t)
	reviewRepo, reviewStatus, reviewLimit = "", "", 20
	assert.NoError(t, reviewListRun(context.Background()))

	reviewStatus = "bogus"
	defer func() { reviewStatus = "" }()
	assert.Error(t, reviewListRun(context.Background()))
}

func TestReviewRun_UnknownRepository(t *testing.T) {
	testEnv(t)
	err := reviewRunRun(context.Background(), "nobody/nothing", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestReviewShow_NotFound(t *testing.T) {
	testEnv(t)
	assert.Error(t, reviewShowRun(context.Background(), "missing"))
}
