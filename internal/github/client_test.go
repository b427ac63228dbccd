package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/revy/internal/models"
)

func newTestProvider(t *testing.T, mux *http.ServeMux) Provider {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	conn, err := NewConnector(Config{APIURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return conn.ForToken("test-token")
}

func TestFetchPullRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{
			"number": 7, "title": "Add cache", "body": "adds an LRU", "state": "open",
			"html_url": "https://github.com/acme/widgets/pull/7",
			"user": {"login": "octocat"},
			"head": {"ref": "feature/cache", "sha": "deadbeef"},
			"base": {"ref": "main"}
		}`)
	})

	pr, err := newTestProvider(t, mux).FetchPullRequest(context.Background(), "acme/widgets", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, pr.Number)
	assert.Equal(t, "Add cache", pr.Title)
	assert.Equal(t, "adds an LRU", pr.Description)
	assert.Equal(t, "octocat", pr.Author)
	assert.Equal(t, "feature/cache", pr.HeadBranch)
	assert.Equal(t, "main", pr.BaseBranch)
	assert.Equal(t, "deadbeef", pr.HeadSHA)
	assert.Equal(t, "Add cache", pr.CommitMessage)
}

func TestFetchPullRequest_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/pulls/404", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})

	_, err := newTestProvider(t, mux).FetchPullRequest(context.Background(), "acme/widgets", 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchPullRequest_ServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/pulls/1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"message": "upstream"}`)
	})

	_, err := newTestProvider(t, mux).FetchPullRequest(context.Background(), "acme/widgets", 1)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestFetchPullRequest_InvalidName(t *testing.T) {
	_, err := newTestProvider(t, http.NewServeMux()).FetchPullRequest(context.Background(), "widgets", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchChangedFiles_Paginates(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/pulls/7/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		var files []map[string]any
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/widgets/pulls/7/files?per_page=100&page=2>; rel="next"`, srvURL))
			for i := 0; i < 100; i++ {
				files = append(files, map[string]any{"filename": fmt.Sprintf("f%03d.go", i), "status": "modified", "additions": 1, "patch": "@@ +1 @@"})
			}
		case "2":
			files = []map[string]any{
				{"filename": "logo.png", "status": "added", "additions": 0},
				{"filename": "old.go", "status": "removed", "deletions": 10},
			}
		}
		_ = json.NewEncoder(w).Encode(files)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	conn, err := NewConnector(Config{APIURL: srv.URL})
	require.NoError(t, err)

	files, err := conn.ForToken("t").FetchChangedFiles(context.Background(), "acme/widgets", 7)
	require.NoError(t, err)
	require.Len(t, files, 102)
	assert.Equal(t, "f000.go", files[0].Filename)
	require.NotNil(t, files[0].Patch)
	assert.Equal(t, models.FileStatusModified, files[0].Status)
	assert.Nil(t, files[100].Patch, "binary file has no patch")
	assert.Equal(t, models.FileStatusRemoved, files[101].Status)
}

func TestPostSummaryComment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/widgets/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["body"])
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 555, "html_url": "https://github.com/acme/widgets/pull/7#issuecomment-555"}`)
	})

	ref, err := newTestProvider(t, mux).PostSummaryComment(context.Background(), "acme/widgets", 7, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(555), ref.ID)
	assert.Contains(t, ref.URL, "issuecomment-555")
}

func TestPostInlineComment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/widgets/pulls/7/comments", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["line"] == float64(999) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"message": "Validation Failed"}`)
			return
		}
		assert.Equal(t, "RIGHT", body["side"])
		assert.Equal(t, "deadbeef", body["commit_id"])
		assert.Equal(t, "main.go", body["path"])
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 9, "html_url": "https://github.com/acme/widgets/pull/7#discussion_r9"}`)
	})
	p := newTestProvider(t, mux)
	ctx := context.Background()

	ref, err := p.PostInlineComment(ctx, "acme/widgets", 7, "deadbeef", "main.go", 3, "nit")
	require.NoError(t, err)
	assert.Equal(t, int64(9), ref.ID)

	_, err = p.PostInlineComment(ctx, "acme/widgets", 7, "deadbeef", "main.go", 999, "nit")
	assert.ErrorIs(t, err, ErrInvalidLineReference)

	_, err = p.PostInlineComment(ctx, "acme/widgets", 7, "deadbeef", "main.go", 0, "nit")
	assert.ErrorIs(t, err, ErrInvalidLineReference)
}

func TestClientTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/widgets/pulls/1", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	conn, err := NewConnector(Config{APIURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = conn.ForToken("t").FetchPullRequest(context.Background(), "acme/widgets", 1)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}
