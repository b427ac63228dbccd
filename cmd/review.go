package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/revy/internal/models"
	"github.com/joescharf/revy/internal/output"
	"github.com/joescharf/revy/internal/review"
	"github.com/joescharf/revy/internal/store"
)

var (
	reviewPost    bool
	reviewComment bool
	reviewRepo    string
	reviewStatus  string
	reviewLimit   int
)

var reviewCmd = &cobra.Command{
	Use:     "review",
	Aliases: []string{"r"},
	Short:   "Run and inspect pull request reviews",
}

var reviewRunCmd = &cobra.Command{
	Use:   "run <owner/name> <pr-number>",
	Short: "Review a pull request now",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[1])
		if err != nil || number <= 0 {
			return fmt.Errorf("invalid pull request number %q", args[1])
		}
		return reviewRunRun(cmd.Context(), args[0], number)
	},
}

var reviewListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored reviews, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewListRun(cmd.Context())
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <review-id>",
	Short: "Show a review as its pull request comment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewShowRun(cmd.Context(), args[0])
	},
}

var reviewAnnotateCmd = &cobra.Command{
	Use:   "annotate <review-id>",
	Short: "Post one inline comment per issue with a line number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewAnnotateRun(cmd.Context(), args[0])
	},
}

func init() {
	reviewRunCmd.Flags().BoolVar(&reviewPost, "post", false, "Post the summary comment on the pull request")
	reviewRunCmd.Flags().BoolVar(&reviewComment, "comment", false, "Print the formatted comment after the review")

	reviewListCmd.Flags().StringVar(&reviewRepo, "repo", "", "Filter by repository (owner/name)")
	reviewListCmd.Flags().StringVar(&reviewStatus, "status", "", "Filter by status")
	reviewListCmd.Flags().IntVar(&reviewLimit, "limit", 20, "Maximum number of reviews")

	reviewCmd.AddCommand(reviewRunCmd)
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewShowCmd)
	reviewCmd.AddCommand(reviewAnnotateCmd)
	rootCmd.AddCommand(reviewCmd)
}

func reviewRunRun(ctx context.Context, fullName string, number int) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	repo, err := s.GetRepositoryByFullName(ctx, fullName)
	if err != nil {
		return fmt.Errorf("repository %s is not registered (use 'revy repo add'): %w", fullName, err)
	}

	if dryRun {
		ui.DryRunMsg("Would review %s#%d (post: %v)", fullName, number, reviewPost)
		return nil
	}

	svc, err := newReviewService(ctx)
	if err != nil {
		return err
	}
	ui.Info("Reviewing %s#%d...", output.Cyan(fullName), number)
	rev, err := svc.Trigger(ctx, review.TriggerRequest{
		RepositoryID: repo.ID,
		PRNumber:     number,
		UserID:       repo.UserID,
		PostToGitHub: reviewPost,
		Source:       models.TriggerManual,
	})
	if err != nil {
		return err
	}

	ui.Success("Review %s %s: %s issues (high/medium/low)", rev.ID, output.StatusColor(string(rev.OverallStatus)), output.IssueCounts(rev.Counts()))
	if rev.CriticalIssues > 0 {
		ui.Warning("%d critical security issue(s)", rev.CriticalIssues)
	}
	if reviewPost {
		if rev.Posted() {
			ui.Success("Comment posted: %s", rev.AgentResults[0].GitHubCommentURL)
		} else {
			ui.Warning("Comment was not posted (see logs)")
		}
	}
	if reviewComment {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, review.FormatComment(rev, review.DefaultConfig().CommentMaxIssues))
	}
	return nil
}

func reviewListRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	filter := store.ReviewListFilter{Status: models.ReviewStatus(reviewStatus), Limit: reviewLimit}
	if filter.Status != "" && !filter.Status.Valid() {
		return fmt.Errorf("invalid status %q", reviewStatus)
	}
	names := map[string]string{}
	if reviewRepo != "" {
		repo, err := s.GetRepositoryByFullName(ctx, reviewRepo)
		if err != nil {
			return err
		}
		filter.RepositoryID = repo.ID
		names[repo.ID] = repo.FullName
	}

	reviews, err := s.ListReviews(ctx, filter)
	if err != nil {
		return err
	}
	if len(reviews) == 0 {
		ui.Info("No reviews yet. Use 'revy review run <owner/name> <pr>' to start one.")
		return nil
	}

	table := ui.Table([]string{"ID", "Repository", "PR", "Status", "Issues", "Source", "Created"})
	for _, r := range reviews {
		name, ok := names[r.RepositoryID]
		if !ok {
			name = r.RepositoryID
			if repo, err := s.GetRepository(ctx, r.RepositoryID); err == nil {
				name = repo.FullName
			}
			names[r.RepositoryID] = name
		}
		table.Append([]string{
			output.Cyan(r.ID),
			name,
			fmt.Sprintf("#%d", r.PRNumber),
			output.StatusColor(string(r.OverallStatus)),
			output.IssueCounts(r.Counts()),
			string(r.TriggerSource),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return table.Render()
}

func reviewShowRun(ctx context.Context, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	rev, err := s.GetReview(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(ui.Out, review.FormatComment(rev, 0))
	ui.VerboseLog("status=%s trigger=%s posted=%v", rev.OverallStatus, rev.TriggerSource, rev.Posted())
	return nil
}

func reviewAnnotateRun(ctx context.Context, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	rev, err := s.GetReview(ctx, id)
	if err != nil {
		return err
	}

	if dryRun {
		for _, issue := range rev.AllIssues() {
			if issue.Line == nil {
				continue
			}
			ui.DryRunMsg("Would comment on %s:%d [%s] %s", issue.File, *issue.Line, output.SeverityColor(string(issue.Severity)), issue.Description)
		}
		return nil
	}

	svc, err := newReviewService(ctx)
	if err != nil {
		return err
	}
	res, err := svc.Annotate(ctx, rev.ID, rev.UserID)
	if err != nil {
		return err
	}
	ui.Success("Posted %d inline comment(s), skipped %d without a line", res.Posted, res.Skipped)
	for _, f := range res.Failures {
		ui.Warning("%s:%d: %s", f.File, f.Line, f.Error)
	}
	return nil
}
