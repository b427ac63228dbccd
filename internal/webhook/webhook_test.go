package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/revy/internal/models"
	"github.com/joescharf/revy/internal/review"
	"github.com/joescharf/revy/internal/store"
	"github.com/joescharf/revy/internal/worker"
)

type fakeTriggerer struct {
	mu   sync.Mutex
	reqs []review.TriggerRequest
	err  error
}

func (f *fakeTriggerer) Trigger(ctx context.Context, req review.TriggerRequest) (*models.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Review{ID: "rev-1"}, nil
}

type fakeQueue struct {
	jobs []worker.Job
	err  error
}

func (q *fakeQueue) Enqueue(job worker.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type env struct {
	store   *store.SQLiteStore
	reviews *fakeTriggerer
	queue   *fakeQueue
	handler *Handler
	user    *models.User
	repo    *models.Repository
}

func newEnv(t *testing.T, secret string) *env {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "revy.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	u := &models.User{GitHubLogin: "octocat", AccessToken: "tok", AutoReviewEnabled: true, IsActive: true}
	require.NoError(t, s.CreateUser(ctx, u))
	r := &models.Repository{UserID: u.ID, FullName: "octocat/hello", AutoReviewOnPR: true, IsActive: true}
	require.NoError(t, s.CreateRepository(ctx, r))

	e := &env{store: s, reviews: &fakeTriggerer{}, queue: &fakeQueue{}, user: u, repo: r}
	e.handler = NewHandler(s, e.reviews, e.queue, secret, nil)
	return e
}

func prPayload(action, repo string, number int) []byte {
	return []byte(`{"action":"` + action + `","number":` + strconv.Itoa(number) +
		`,"pull_request":{"number":` + strconv.Itoa(number) + `},"repository":{"full_name":"` + repo + `"}}`)
}

func TestHandleEvent_Ping(t *testing.T) {
	e := newEnv(t, "")
	out, err := e.handler.HandleEvent(context.Background(), EventPing, "d1", []byte(`{"zen":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomePong, out)
	assert.Empty(t, e.queue.jobs)
}

func TestHandleEvent_OtherEventIgnored(t *testing.T) {
	e := newEnv(t, "")
	out, err := e.handler.HandleEvent(context.Background(), "push", "d1", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	assert.Empty(t, e.queue.jobs)
}

func TestHandleEvent_ClosedActionIgnored(t *testing.T) {
	e := newEnv(t, "")
	out, err := e.handler.HandleEvent(context.Background(), EventPullRequest, "d1", prPayload("closed", "octocat/hello", 7))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	assert.Empty(t, e.queue.jobs)
	assert.Empty(t, e.reviews.reqs)
}

func TestHandleEvent_OpenedRunsReview(t *testing.T) {
	for _, action := range []string{"opened", "synchronize", "reopened"} {
		t.Run(action, func(t *testing.T) {
			e := newEnv(t, "")
			out, err := e.handler.HandleEvent(context.Background(), EventPullRequest, "d1", prPayload(action, "octocat/hello", 7))
			require.NoError(t, err)
			assert.Equal(t, OutcomeEnqueued, out)
			require.Len(t, e.queue.jobs, 1)
			assert.Empty(t, e.reviews.reqs, "review must not run inline")

			require.NoError(t, e.queue.jobs[0].Run(context.Background()))
			require.Len(t, e.reviews.reqs, 1)
			req := e.reviews.reqs[0]
			assert.Equal(t, e.repo.ID, req.RepositoryID)
			assert.Equal(t, e.user.ID, req.UserID)
			assert.Equal(t, 7, req.PRNumber)
			assert.True(t, req.PostToGitHub)
			assert.Equal(t, models.TriggerWebhook, req.Source)
		})
	}
}

func TestHandleEvent_Skips(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, e *env)
		repo  string
	}{
		{name: "unknown repository", repo: "someone/else"},
		{name: "auto review off", repo: "octocat/hello", setup: func(t *testing.T, e *env) {
			e.repo.AutoReviewOnPR = false
			require.NoError(t, e.store.UpdateRepository(context.Background(), e.repo))
		}},
		{name: "inactive repository", repo: "octocat/hello", setup: func(t *testing.T, e *env) {
			e.repo.IsActive = false
			require.NoError(t, e.store.UpdateRepository(context.Background(), e.repo))
		}},
		{name: "inactive owner", repo: "octocat/hello", setup: func(t *testing.T, e *env) {
			e.user.IsActive = false
			require.NoError(t, e.store.UpdateUser(context.Background(), e.user))
		}},
		{name: "owner auto review off", repo: "octocat/hello", setup: func(t *testing.T, e *env) {
			e.user.AutoReviewEnabled = false
			require.NoError(t, e.store.UpdateUser(context.Background(), e.user))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, "")
			if tt.setup != nil {
				tt.setup(t, e)
			}
			out, err := e.handler.HandleEvent(context.Background(), EventPullRequest, "d1", prPayload("opened", tt.repo, 3))
			require.NoError(t, err)
			require.Equal(t, OutcomeEnqueued, out)
			require.Len(t, e.queue.jobs, 1)
			assert.NoError(t, e.queue.jobs[0].Run(context.Background()))
			assert.Empty(t, e.reviews.reqs)
		})
	}
}

func TestHandleEvent_TriggerErrorReturnedFromJob(t *testing.T) {
	e := newEnv(t, "")
	e.reviews.err = review.ErrSourceFetchFailed
	_, err := e.handler.HandleEvent(context.Background(), EventPullRequest, "d1", prPayload("opened", "octocat/hello", 3))
	require.NoError(t, err)
	require.Len(t, e.queue.jobs, 1)
	err = e.queue.jobs[0].Run(context.Background())
	assert.ErrorIs(t, err, review.ErrSourceFetchFailed)
}

func TestHandleEvent_QueueFull(t *testing.T) {
	e := newEnv(t, "")
	e.queue.err = worker.ErrQueueFull
	_, err := e.handler.HandleEvent(context.Background(), EventPullRequest, "d1", prPayload("opened", "octocat/hello", 3))
	assert.ErrorIs(t, err, worker.ErrQueueFull)
}

func TestHandleEvent_MalformedPayload(t *testing.T) {
	e := newEnv(t, "")
	_, err := e.handler.HandleEvent(context.Background(), EventPullRequest, "d1", []byte(`{not json`))
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestReadPayload_Signature(t *testing.T) {
	e := newEnv(t, "s3cret")
	body := prPayload("opened", "octocat/hello", 1)

	req := httptest.NewRequest("POST", "/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature-256", sign("s3cret", body))
	got, err := e.handler.ReadPayload(req)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	req = httptest.NewRequest("POST", "/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature-256", sign("wrong", body))
	_, err = e.handler.ReadPayload(req)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	req = httptest.NewRequest("POST", "/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	_, err = e.handler.ReadPayload(req)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestReadPayload_NoSecret(t *testing.T) {
	e := newEnv(t, "")
	body := []byte(`{"zen":"hi"}`)
	req := httptest.NewRequest("POST", "/webhook/github", bytes.NewReader(body))
	got, err := e.handler.ReadPayload(req)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}
