// Package github talks to the GitHub REST API on behalf of a registered user.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"

	"github.com/joescharf/revy/internal/models"
)

var (
	// ErrNotFound means the repository or pull request does not exist or is
	// not visible with the supplied token.
	ErrNotFound = errors.New("github: not found")
	// ErrProviderUnavailable covers network failures, auth failures, rate
	// limiting, timeouts and 5xx responses.
	ErrProviderUnavailable = errors.New("github: provider unavailable")
	// ErrInvalidLineReference means an inline comment pointed at a line that
	// is not part of the diff.
	ErrInvalidLineReference = errors.New("github: invalid line reference")
)

const filesPerPage = 100

// CommentRef identifies a comment created on GitHub.
type CommentRef struct {
	ID  int64
	URL string
}

// Provider is the set of GitHub operations revy needs.
type Provider interface {
	FetchPullRequest(ctx context.Context, repoFullName string, number int) (*models.PullRequest, error)
	FetchChangedFiles(ctx context.Context, repoFullName string, number int) ([]models.FileDiff, error)
	PostSummaryComment(ctx context.Context, repoFullName string, number int, body string) (*CommentRef, error)
	PostInlineComment(ctx context.Context, repoFullName string, number int, commitSHA, path string, line int, body string) (*CommentRef, error)
}

// TokenSource hands out a Provider authenticated as a given user.
type TokenSource interface {
	ForToken(token string) Provider
}

// Config controls how the connector reaches GitHub.
type Config struct {
	APIURL     string        // empty means api.github.com
	Timeout    time.Duration // per call
	RateLimit  float64       // requests per second, shared by all tokens
	HTTPClient *http.Client
}

// Connector builds per-token clients that share one rate limiter.
type Connector struct {
	baseURL    *url.URL
	timeout    time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewConnector validates cfg and returns a Connector.
func NewConnector(cfg Config) (*Connector, error) {
	c := &Connector{
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if cfg.APIURL != "" {
		u, err := url.Parse(cfg.APIURL)
		if err != nil {
			return nil, fmt.Errorf("parse github api url: %w", err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		c.baseURL = u
	}
	return c, nil
}

// ForToken returns a Provider that authenticates with token.
func (c *Connector) ForToken(token string) Provider {
	gh := gogithub.NewClient(c.httpClient).WithAuthToken(token)
	if c.baseURL != nil {
		u := *c.baseURL
		gh.BaseURL = &u
	}
	return &Client{gh: gh, limiter: c.limiter, timeout: c.timeout}
}

// Client implements Provider on top of go-github.
type Client struct {
	gh      *gogithub.Client
	limiter *rate.Limiter
	timeout time.Duration
}

func splitRepo(fullName string) (string, string, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("%w: invalid repository name %q", ErrNotFound, fullName)
	}
	return owner, name, nil
}

// call bounds one API request by the client's timeout and the shared limiter.
func (c *Client) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ErrProviderUnavailable, err)
	}
	return fn(ctx)
}

// classify maps a go-github error onto the package sentinels.
func classify(op string, err error, inline bool) error {
	var errResp *gogithub.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		switch errResp.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s: %v", ErrNotFound, op, err)
		case http.StatusUnprocessableEntity:
			if inline {
				return fmt.Errorf("%w: %s: %v", ErrInvalidLineReference, op, err)
			}
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, op, err)
}

func (c *Client) FetchPullRequest(ctx context.Context, repoFullName string, number int) (*models.PullRequest, error) {
	owner, name, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	var pr *gogithub.PullRequest
	err = c.call(ctx, func(ctx context.Context) error {
		var err error
		pr, _, err = c.gh.PullRequests.Get(ctx, owner, name, number)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			return nil, err
		}
		return nil, classify("fetch pull request", err, false)
	}

	return &models.PullRequest{
		Number:        pr.GetNumber(),
		Title:         pr.GetTitle(),
		Description:   pr.GetBody(),
		URL:           pr.GetHTMLURL(),
		Author:        pr.GetUser().GetLogin(),
		HeadBranch:    pr.GetHead().GetRef(),
		BaseBranch:    pr.GetBase().GetRef(),
		HeadSHA:       pr.GetHead().GetSHA(),
		CommitMessage: pr.GetTitle(),
		State:         pr.GetState(),
	}, nil
}

func (c *Client) FetchChangedFiles(ctx context.Context, repoFullName string, number int) ([]models.FileDiff, error) {
	owner, name, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gogithub.ListOptions{PerPage: filesPerPage}
	var files []models.FileDiff
	for {
		var page []*gogithub.CommitFile
		var resp *gogithub.Response
		err := c.call(ctx, func(ctx context.Context) error {
			var err error
			page, resp, err = c.gh.PullRequests.ListFiles(ctx, owner, name, number, opts)
			return err
		})
		if err != nil {
			if errors.Is(err, ErrProviderUnavailable) {
				return nil, err
			}
			return nil, classify("list pull request files", err, false)
		}

		for _, f := range page {
			files = append(files, models.FileDiff{
				Filename:  f.GetFilename(),
				Status:    models.FileStatus(f.GetStatus()),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Changes:   f.GetChanges(),
				Patch:     f.Patch,
				BlobURL:   f.GetBlobURL(),
				RawURL:    f.GetRawURL(),
			})
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return files, nil
}

func (c *Client) PostSummaryComment(ctx context.Context, repoFullName string, number int, body string) (*CommentRef, error) {
	owner, name, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	var comment *gogithub.IssueComment
	err = c.call(ctx, func(ctx context.Context) error {
		var err error
		comment, _, err = c.gh.Issues.CreateComment(ctx, owner, name, number, &gogithub.IssueComment{Body: gogithub.String(body)})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			return nil, err
		}
		return nil, classify("create issue comment", err, false)
	}
	return &CommentRef{ID: comment.GetID(), URL: comment.GetHTMLURL()}, nil
}

func (c *Client) PostInlineComment(ctx context.Context, repoFullName string, number int, commitSHA, path string, line int, body string) (*CommentRef, error) {
	if line <= 0 {
		return nil, fmt.Errorf("%w: line %d", ErrInvalidLineReference, line)
	}
	owner, name, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	req := &gogithub.PullRequestComment{
		Body:     gogithub.String(body),
		CommitID: gogithub.String(commitSHA),
		Path:     gogithub.String(path),
		Line:     gogithub.Int(line),
		Side:     gogithub.String("RIGHT"),
	}
	var comment *gogithub.PullRequestComment
	err = c.call(ctx, func(ctx context.Context) error {
		var err error
		comment, _, err = c.gh.PullRequests.CreateComment(ctx, owner, name, number, req)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			return nil, err
		}
		return nil, classify("create review comment", err, true)
	}
	return &CommentRef{ID: comment.GetID(), URL: comment.GetHTMLURL()}, nil
}
