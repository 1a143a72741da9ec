package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joescharf/issuebot/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets MCP clients query and update the tracker natively. Configure
with:

  {
    "mcpServers": {
      "issuebot": { "command": "issuebot", "args": ["mcp"] }
    }
  }

Available tools: issuebot_list_projects, issuebot_create_project,
issuebot_list_issues, issuebot_create_issue, issuebot_show_issue,
issuebot_set_status, issuebot_assign, issuebot_unassign`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := mcp.NewServer(svc)
	return srv.ServeStdio(ctx)
}
