package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/revy/internal/models"
	"github.com/joescharf/revy/internal/output"
)

var (
	repoUser          string
	repoLanguage      string
	repoDefaultBranch string
	repoNoAutoReview  bool
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage registered repositories",
}

var repoAddCmd = &cobra.Command{
	Use:   "add <owner/name>",
	Short: "Register a repository for reviews",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoAddRun(cmd.Context(), args[0])
	},
}

var repoListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoListRun(cmd.Context())
	},
}

func init() {
	repoAddCmd.Flags().StringVarP(&repoUser, "user", "u", "", "Owning user's GitHub login (required)")
	repoAddCmd.Flags().StringVar(&repoLanguage, "language", "", "Primary language")
	repoAddCmd.Flags().StringVar(&repoDefaultBranch, "default-branch", "main", "Default branch")
	repoAddCmd.Flags().BoolVar(&repoNoAutoReview, "no-auto-review", false, "Do not review pull requests from webhooks")
	_ = repoAddCmd.MarkFlagRequired("user")

	repoListCmd.Flags().StringVarP(&repoUser, "user", "u", "", "Only repositories of this GitHub login")

	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)
	rootCmd.AddCommand(repoCmd)
}

func repoAddRun(ctx context.Context, fullName string) error {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("repository must be owner/name, got %q", fullName)
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	u, err := s.GetUserByLogin(ctx, repoUser)
	if err != nil {
		return fmt.Errorf("user %s is not registered (use 'revy user add'): %w", repoUser, err)
	}

	repo := &models.Repository{
		UserID:         u.ID,
		FullName:       fullName,
		Owner:          owner,
		Name:           name,
		DefaultBranch:  repoDefaultBranch,
		Language:       repoLanguage,
		AutoReviewOnPR: !repoNoAutoReview,
		IsActive:       true,
	}
	if dryRun {
		ui.DryRunMsg("Would register %s for %s (auto-review: %v)", fullName, u.GitHubLogin, repo.AutoReviewOnPR)
		return nil
	}
	if err := s.CreateRepository(ctx, repo); err != nil {
		return err
	}
	ui.Success("Registered %s (%s)", output.Cyan(fullName), repo.ID)
	return nil
}

func repoListRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	var users []*models.User
	if repoUser != "" {
		u, err := s.GetUserByLogin(ctx, repoUser)
		if err != nil {
			return err
		}
		users = []*models.User{u}
	} else if users, err = s.ListUsers(ctx); err != nil {
		return err
	}

	table := ui.Table([]string{"ID", "Repository", "Owner", "Language", "Auto Review", "Active"})
	count := 0
	for _, u := range users {
		repos, err := s.ListRepositories(ctx, u.ID)
		if err != nil {
			return err
		}
		for _, r := range repos {
			count++
			table.Append([]string{
				r.ID,
				output.Cyan(r.FullName),
				u.GitHubLogin,
				r.Language,
				yesNo(r.AutoReviewOnPR),
				yesNo(r.IsActive),
			})
		}
	}
	if count == 0 {
		ui.Info("No repositories registered. Use 'revy repo add <owner/name> --user <login>'.")
		return nil
	}
	return table.Render()
}

func yesNo(b bool) string {
	if b {
		return output.Green("yes")
	}
	return output.Yellow("no")
}
