package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/revy/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyPosted is returned by MarkPosted when the review's post-back
	// fields were already written.
	ErrAlreadyPosted = errors.New("review already posted")
)

// ReviewListFilter specifies filters for listing reviews. Zero values match
// everything. A non-positive Limit means no limit.
type ReviewListFilter struct {
	UserID       string
	RepositoryID string
	Status       models.ReviewStatus
	Limit        int
	Offset       int
}

// PostedComment identifies the comment a review was posted as.
type PostedComment struct {
	AgentIndex int
	CommentID  int64
	CommentURL string
}

// Store defines the persistence interface for revy.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error

	// Repositories
	CreateRepository(ctx context.Context, r *models.Repository) error
	GetRepository(ctx context.Context, id string) (*models.Repository, error)
	GetRepositoryByFullName(ctx context.Context, fullName string) (*models.Repository, error)
	ListRepositories(ctx context.Context, userID string) ([]*models.Repository, error)
	UpdateRepository(ctx context.Context, r *models.Repository) error

	// Reviews
	CreateReview(ctx context.Context, r *models.Review) error
	GetReview(ctx context.Context, id string) (*models.Review, error)
	ListReviews(ctx context.Context, filter ReviewListFilter) ([]*models.Review, error)
	ListReviewsByRepository(ctx context.Context, repositoryID string, limit int) ([]*models.Review, error)
	// MarkPosted records the post-back of a review. It succeeds at most once
	// per review and returns ErrAlreadyPosted afterwards.
	MarkPosted(ctx context.Context, reviewID string, c PostedComment) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

func notFound(kind, key string) error {
	return fmt.Errorf("%s %w: %s", kind, ErrNotFound, key)
}

// prepareReview assigns identity and timestamps and checks the record before
// it is written.
func prepareReview(r *models.Review) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid review: %w", err)
	}
	if r.ID == "" {
		r.ID = newULID()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.FilesChanged == nil {
		r.FilesChanged = []models.FileChange{}
	}
	if r.AgentResults == nil {
		r.AgentResults = []models.AgentResult{}
	}
	return nil
}

type reviewJSON struct {
	files   []byte
	results []byte
}

func encodeReviewJSON(r *models.Review) (reviewJSON, error) {
	files, err := json.Marshal(r.FilesChanged)
	if err != nil {
		return reviewJSON{}, fmt.Errorf("encode files_changed: %w", err)
	}
	results, err := json.Marshal(r.AgentResults)
	if err != nil {
		return reviewJSON{}, fmt.Errorf("encode agent_results: %w", err)
	}
	return reviewJSON{files: files, results: results}, nil
}

func decodeReviewJSON(r *models.Review, files, results []byte) error {
	if len(files) > 0 {
		if err := json.Unmarshal(files, &r.FilesChanged); err != nil {
			return fmt.Errorf("decode files_changed: %w", err)
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &r.AgentResults); err != nil {
			return fmt.Errorf("decode agent_results: %w", err)
		}
	}
	return nil
}

// applyPosted sets the post-back fields on the agent result at c.AgentIndex
// and returns the re-encoded agent_results column.
func applyPosted(reviewID string, results []byte, c PostedComment) ([]byte, error) {
	var ars []models.AgentResult
	if err := json.Unmarshal(results, &ars); err != nil {
		return nil, fmt.Errorf("decode agent_results: %w", err)
	}
	if c.AgentIndex < 0 || c.AgentIndex >= len(ars) {
		return nil, fmt.Errorf("review %s has no agent result %d", reviewID, c.AgentIndex)
	}
	id := c.CommentID
	ars[c.AgentIndex].PostedToGitHub = true
	ars[c.AgentIndex].GitHubCommentID = &id
	ars[c.AgentIndex].GitHubCommentURL = c.CommentURL
	out, err := json.Marshal(ars)
	if err != nil {
		return nil, fmt.Errorf("encode agent_results: %w", err)
	}
	return out, nil
}
