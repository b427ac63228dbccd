package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/revy/internal/models"
	"github.com/joescharf/revy/internal/output"
)

var (
	userToken        string
	userEmail        string
	userGitHubID     int64
	userNoAutoReview bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users whose GitHub tokens revy acts with",
}

var userAddCmd = &cobra.Command{
	Use:   "add <github-login>",
	Short: "Register a user",
	Long: `Register a user and the GitHub token revy uses for their repositories.

The token defaults to $GITHUB_TOKEN when --token is not given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAddRun(cmd.Context(), args[0])
	},
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun(cmd.Context())
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userToken, "token", "", "GitHub access token (default $GITHUB_TOKEN)")
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Email address")
	userAddCmd.Flags().Int64Var(&userGitHubID, "github-id", 0, "Numeric GitHub user ID")
	userAddCmd.Flags().BoolVar(&userNoAutoReview, "no-auto-review", false, "Disable webhook reviews for this user")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	rootCmd.AddCommand(userCmd)
}

func userAddRun(ctx context.Context, login string) error {
	token := userToken
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("no GitHub token: pass --token or set GITHUB_TOKEN")
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	u := &models.User{
		GitHubUserID:      userGitHubID,
		GitHubLogin:       login,
		Email:             userEmail,
		AccessToken:       token,
		AutoReviewEnabled: !userNoAutoReview,
		IsActive:          true,
	}
	if dryRun {
		ui.DryRunMsg("Would register user %s", login)
		return nil
	}
	if err := s.CreateUser(ctx, u); err != nil {
		return err
	}
	ui.Success("Registered user %s (%s)", output.Cyan(login), u.ID)
	return nil
}

func userListRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		ui.Info("No users registered. Use 'revy user add <login>'.")
		return nil
	}

	table := ui.Table([]string{"ID", "Login", "Email", "Auto Review", "Active"})
	for _, u := range users {
		table.Append([]string{u.ID, output.Cyan(u.GitHubLogin), u.Email, yesNo(u.AutoReviewEnabled), yesNo(u.IsActive)})
	}
	return table.Render()
}
