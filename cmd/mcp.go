package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/revy/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets MCP clients trigger and inspect reviews. Configure with:

  {
    "mcpServers": {
      "revy": { "command": "revy", "args": ["mcp"] }
    }
  }

Available tools: revy_trigger_review, revy_get_review, revy_list_reviews`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		svc, err := newReviewService(cmd.Context())
		if err != nil {
			return err
		}
		return mcp.NewServer(s, svc, buildVersion).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
