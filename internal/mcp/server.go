package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/revy/internal/models"
	"github.com/joescharf/revy/internal/review"
	"github.com/joescharf/revy/internal/store"
)

// Triggerer starts a review.
type Triggerer interface {
	Trigger(ctx context.Context, req review.TriggerRequest) (*models.Review, error)
}

// Server exposes the review service and store as MCP tools. Tools act on
// behalf of the repository owner.
type Server struct {
	store   store.Store
	reviews Triggerer
	version string
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, reviews Triggerer, version string) *Server {
	return &Server{store: s, reviews: reviews, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("revy", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.triggerReviewTool())
	srv.AddTool(s.getReviewTool())
	srv.AddTool(s.listReviewsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// revy_trigger_review
func (s *Server) triggerReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revy_trigger_review",
		mcp.WithDescription("Analyze a pull request of a registered repository and store the review. Returns the review summary as JSON."),
		mcp.WithString("repository", mcp.Required(), mcp.Description("Repository full name (owner/name)")),
		mcp.WithNumber("pr_number", mcp.Required(), mcp.Description("Pull request number")),
		mcp.WithBoolean("post_to_github", mcp.Description("Post the summary comment on the pull request (default: false)")),
	)
	return tool, s.handleTriggerReview
}

func (s *Server) handleTriggerReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fullName, err := request.RequireString("repository")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repository"), nil
	}
	number, err := request.RequireInt("pr_number")
	if err != nil || number <= 0 {
		return mcp.NewToolResultError("pr_number must be a positive integer"), nil
	}

	repo, err := s.store.GetRepositoryByFullName(ctx, fullName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("repository not found: %s", fullName)), nil
	}

	rev, err := s.reviews.Trigger(ctx, review.TriggerRequest{
		RepositoryID: repo.ID,
		PRNumber:     number,
		UserID:       repo.UserID,
		PostToGitHub: request.GetBool("post_to_github", false),
		Source:       models.TriggerManual,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("review failed: %v", err)), nil
	}

	type triggerOut struct {
		models.ReviewSummary
		Summary string `json:"summary"`
		Posted  bool   `json:"posted_to_github"`
	}
	out := triggerOut{ReviewSummary: rev.Summary(), Posted: rev.Posted()}
	if len(rev.AgentResults) > 0 {
		out.Summary = rev.AgentResults[0].Output.Summary
	}
	return jsonResult(out)
}

// revy_get_review
func (s *Server) getReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revy_get_review",
		mcp.WithDescription("Get a stored review by ID, including every issue found. Set format=markdown for the PR comment rendering."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Review ID")),
		mcp.WithString("format", mcp.Description("Output format: json or markdown (default: json)")),
	)
	return tool, s.handleGetReview
}

func (s *Server) handleGetReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	rev, err := s.store.GetReview(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("review not found: %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load review: %v", err)), nil
	}

	switch format := request.GetString("format", "json"); format {
	case "json":
		return jsonResult(rev)
	case "markdown":
		return mcp.NewToolResultText(review.FormatComment(rev, 0)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format: %s", format)), nil
	}
}

// revy_list_reviews
func (s *Server) listReviewsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revy_list_reviews",
		mcp.WithDescription("List stored reviews, newest first. Returns a JSON array of review summaries."),
		mcp.WithString("repository", mcp.Description("Filter by repository full name (owner/name)")),
		mcp.WithString("status", mcp.Description("Filter by status: pending, in_progress, completed, failed")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of reviews (default: 10)")),
	)
	return tool, s.handleListReviews
}

func (s *Server) handleListReviews(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.ReviewListFilter{
		Status: models.ReviewStatus(request.GetString("status", "")),
		Limit:  request.GetInt("limit", 10),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status: %s", filter.Status)), nil
	}
	if fullName := request.GetString("repository", ""); fullName != "" {
		repo, err := s.store.GetRepositoryByFullName(ctx, fullName)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("repository not found: %s", fullName)), nil
		}
		filter.RepositoryID = repo.ID
	}

	reviews, err := s.store.ListReviews(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reviews: %v", err)), nil
	}
	out := make([]models.ReviewSummary, len(reviews))
	for i, r := range reviews {
		out[i] = r.Summary()
	}
	return jsonResult(out)
}
