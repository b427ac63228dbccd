package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/joescharf/revy/internal/models"
	"github.com/joescharf/revy/internal/review"
	"github.com/joescharf/revy/internal/store"
	"github.com/joescharf/revy/internal/webhook"
)

// UserHeader carries the ID of the calling user. Authentication happens in
// front of revy.
const UserHeader = "X-Revy-User"

// Reviews is the review service as seen by the HTTP layer.
type Reviews interface {
	Trigger(ctx context.Context, req review.TriggerRequest) (*models.Review, error)
	Get(ctx context.Context, reviewID, userID string) (*models.Review, error)
	List(ctx context.Context, userID string, filter store.ReviewListFilter) ([]*models.Review, error)
	ListForRepository(ctx context.Context, repositoryID, userID string, limit int) ([]*models.Review, error)
}

// Webhooks validates and dispatches GitHub deliveries.
type Webhooks interface {
	ReadPayload(r *http.Request) ([]byte, error)
	HandleEvent(ctx context.Context, eventType, deliveryID string, payload []byte) (webhook.Outcome, error)
}

// Server provides the REST API handlers.
type Server struct {
	store   store.Store
	reviews Reviews
	hooks   Webhooks
	logger  *slog.Logger
}

// NewServer creates a new API server.
func NewServer(s store.Store, reviews Reviews, hooks Webhooks, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:   s,
		reviews: reviews,
		hooks:   hooks,
		logger:  logger.With("component", "api"),
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthz)

	mux.HandleFunc("POST /webhook/github", s.githubWebhook)
	mux.HandleFunc("GET /webhook/test", s.webhookTest)

	mux.HandleFunc("POST /api/v1/reviews/analyze", s.requireUser(s.analyze))
	mux.HandleFunc("GET /api/v1/reviews", s.requireUser(s.listReviews))
	mux.HandleFunc("GET /api/v1/reviews/{id}", s.requireUser(s.getReview))
	mux.HandleFunc("GET /api/v1/reviews/repository/{repo_id}", s.requireUser(s.listRepositoryReviews))

	mux.HandleFunc("GET /api/v1/repositories", s.requireUser(s.listRepositories))
	mux.HandleFunc("POST /api/v1/repositories", s.requireUser(s.createRepository))
	mux.HandleFunc("GET /api/v1/repositories/{id}", s.requireUser(s.getRepository))

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

// requireUser rejects requests without a user header and stores the user ID
// in the request context.
func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	}
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service and store errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, review.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, review.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, review.ErrSourceFetchFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// queryInt parses an integer query parameter, returning def when absent.
func queryInt(r *http.Request, key string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	if n < min || (max > 0 && n > max) {
		if max > 0 {
			return 0, fmt.Errorf("%s must be between %d and %d", key, min, max)
		}
		return 0, fmt.Errorf("%s must be at least %d", key, min)
	}
	return n, nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Reviews ---

type analyzeRequest struct {
	RepositoryID string `json:"repository_id"`
	PRNumber     int    `json:"pr_number"`
	PostToGitHub *bool  `json:"post_to_github"`
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RepositoryID == "" {
		writeError(w, http.StatusBadRequest, "repository_id is required")
		return
	}
	if req.PRNumber <= 0 {
		writeError(w, http.StatusBadRequest, "pr_number must be positive")
		return
	}
	post := true
	if req.PostToGitHub != nil {
		post = *req.PostToGitHub
	}

	rev, err := s.reviews.Trigger(r.Context(), review.TriggerRequest{
		RepositoryID: req.RepositoryID,
		PRNumber:     req.PRNumber,
		UserID:       userFrom(r),
		PostToGitHub: post,
		Source:       models.TriggerManual,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rev.Summary())
}

func summaries(reviews []*models.Review) []models.ReviewSummary {
	out := make([]models.ReviewSummary, 0, len(reviews))
	for _, rev := range reviews {
		out = append(out, rev.Summary())
	}
	return out
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 10, 1, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	skip, err := queryInt(r, "skip", 0, 0, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := models.ReviewStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", status))
		return
	}

	reviews, err := s.reviews.List(r.Context(), userFrom(r), store.ReviewListFilter{
		RepositoryID: r.URL.Query().Get("repository_id"),
		Status:       status,
		Limit:        limit,
		Offset:       skip,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries(reviews))
}

// maxIssuesPerResult caps issues returned per agent result by getReview.
const maxIssuesPerResult = 20

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	rev, err := s.reviews.Get(r.Context(), r.PathValue("id"), userFrom(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := *rev
	out.AgentResults = make([]models.AgentResult, len(rev.AgentResults))
	for i, ar := range rev.AgentResults {
		if len(ar.Output.CodeQualityIssues) > maxIssuesPerResult {
			ar.Output.CodeQualityIssues = ar.Output.CodeQualityIssues[:maxIssuesPerResult]
		}
		out.AgentResults[i] = ar
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listRepositoryReviews(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 10, 1, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reviews, err := s.reviews.ListForRepository(r.Context(), r.PathValue("repo_id"), userFrom(r), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries(reviews))
}

// --- Repositories ---

func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.store.ListRepositories(r.Context(), userFrom(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if repos == nil {
		repos = []*models.Repository{}
	}
	writeJSON(w, http.StatusOK, repos)
}

type createRepositoryRequest struct {
	FullName       string `json:"full_name"`
	GitHubRepoID   int64  `json:"github_repo_id"`
	DefaultBranch  string `json:"default_branch"`
	Language       string `json:"language"`
	AutoReviewOnPR *bool  `json:"auto_review_on_pr"`
}

func (s *Server) createRepository(w http.ResponseWriter, r *http.Request) {
	var req createRepositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	owner, name, ok := strings.Cut(req.FullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusBadRequest, "full_name must be owner/name")
		return
	}
	userID := userFrom(r)
	if _, err := s.store.GetUser(r.Context(), userID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	repo := &models.Repository{
		UserID:         userID,
		GitHubRepoID:   req.GitHubRepoID,
		FullName:       req.FullName,
		Owner:          owner,
		Name:           name,
		DefaultBranch:  req.DefaultBranch,
		Language:       req.Language,
		AutoReviewOnPR: true,
		IsActive:       true,
	}
	if req.AutoReviewOnPR != nil {
		repo.AutoReviewOnPR = *req.AutoReviewOnPR
	}
	if err := s.store.CreateRepository(r.Context(), repo); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (s *Server) getRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := s.store.GetRepository(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if repo.UserID != userFrom(r) {
		writeError(w, http.StatusForbidden, "not authorized")
		return
	}
	writeJSON(w, http.StatusOK, repo)
}
