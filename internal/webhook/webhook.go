// Package webhook turns GitHub webhook deliveries into background review
// jobs.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gogithub "github.com/google/go-github/v57/github"

	"github.com/joescharf/revy/internal/models"
	"github.com/joescharf/revy/internal/review"
	"github.com/joescharf/revy/internal/store"
	"github.com/joescharf/revy/internal/worker"
)

// Event types handled by revy.
const (
	EventPing        = "ping"
	EventPullRequest = "pull_request"
)

// ErrInvalidPayload is returned for deliveries that cannot be decoded or
// fail signature validation.
var ErrInvalidPayload = errors.New("webhook: invalid payload")

// Outcome describes what HandleEvent did with a delivery.
type Outcome string

const (
	OutcomePong     Outcome = "pong"
	OutcomeEnqueued Outcome = "enqueued"
	OutcomeIgnored  Outcome = "ignored"
)

// reviewActions are the pull_request actions that start a review.
var reviewActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

// Triggerer starts a review.
type Triggerer interface {
	Trigger(ctx context.Context, req review.TriggerRequest) (*models.Review, error)
}

// Enqueuer accepts background jobs.
type Enqueuer interface {
	Enqueue(job worker.Job) error
}

// Handler validates and dispatches webhook deliveries.
type Handler struct {
	store        store.Store
	reviews      Triggerer
	queue        Enqueuer
	secret       []byte
	storeTimeout time.Duration
	logger       *slog.Logger
}

// NewHandler creates a Handler. An empty secret disables signature
// validation.
func NewHandler(s store.Store, reviews Triggerer, queue Enqueuer, secret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:        s,
		reviews:      reviews,
		queue:        queue,
		secret:       []byte(secret),
		storeTimeout: 10 * time.Second,
		logger:       logger.With("component", "webhook"),
	}
}

// ReadPayload returns the delivery body, checking X-Hub-Signature-256 when
// a secret is configured.
func (h *Handler) ReadPayload(r *http.Request) ([]byte, error) {
	if len(h.secret) == 0 {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return body, nil
	}
	body, err := gogithub.ValidatePayload(r, h.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return body, nil
}

// HandleEvent inspects one delivery. Reviewable pull_request events are
// queued and the call returns without waiting for the review.
func (h *Handler) HandleEvent(ctx context.Context, eventType, deliveryID string, payload []byte) (Outcome, error) {
	log := h.logger.With("event", eventType, "delivery", deliveryID)

	switch eventType {
	case EventPing:
		log.Info("ping received")
		return OutcomePong, nil
	case EventPullRequest:
	default:
		log.Debug("event ignored")
		return OutcomeIgnored, nil
	}

	parsed, err := gogithub.ParseWebHook(eventType, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	event, ok := parsed.(*gogithub.PullRequestEvent)
	if !ok {
		return "", fmt.Errorf("%w: unexpected payload type %T", ErrInvalidPayload, parsed)
	}

	action := event.GetAction()
	fullName := event.GetRepo().GetFullName()
	number := event.GetNumber()
	if number == 0 {
		number = event.GetPullRequest().GetNumber()
	}
	log = log.With("action", action, "repo", fullName, "pr", number)

	if !reviewActions[action] {
		log.Info("pull request action ignored")
		return OutcomeIgnored, nil
	}
	if fullName == "" || number == 0 {
		return "", fmt.Errorf("%w: missing repository or pull request number", ErrInvalidPayload)
	}

	job := worker.Job{
		Name: fmt.Sprintf("review %s#%d (%s)", fullName, number, deliveryID),
		Run: func(ctx context.Context) error {
			return h.process(ctx, fullName, number, deliveryID)
		},
	}
	if err := h.queue.Enqueue(job); err != nil {
		log.Error("enqueue review failed", "error", err)
		return "", err
	}
	log.Info("review queued")
	return OutcomeEnqueued, nil
}

// process runs in a worker. Unknown repositories, disabled auto-review and
// inactive owners are logged and skipped.
func (h *Handler) process(ctx context.Context, fullName string, number int, deliveryID string) error {
	log := h.logger.With("repo", fullName, "pr", number, "delivery", deliveryID)

	sctx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()

	repo, err := h.store.GetRepositoryByFullName(sctx, fullName)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("repository not registered, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load repository %s: %w", fullName, err)
	}
	if !repo.IsActive || !repo.AutoReviewOnPR {
		log.Info("auto-review disabled, skipping")
		return nil
	}

	user, err := h.store.GetUser(sctx, repo.UserID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("repository owner not found, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load owner of %s: %w", fullName, err)
	}
	if !user.IsActive || !user.AutoReviewEnabled {
		log.Info("owner inactive or auto-review off, skipping")
		return nil
	}

	rev, err := h.reviews.Trigger(ctx, review.TriggerRequest{
		RepositoryID: repo.ID,
		PRNumber:     number,
		UserID:       user.ID,
		PostToGitHub: true,
		Source:       models.TriggerWebhook,
	})
	if err != nil {
		return fmt.Errorf("review %s#%d: %w", fullName, number, err)
	}
	log.Info("webhook review completed", "review_id", rev.ID, "issues", rev.IssuesFound)
	return nil
}
