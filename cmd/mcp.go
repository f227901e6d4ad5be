package cmd

import (
	"github.com/spf13/cobra"

	"github.com/trkdev/trk/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for coding agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets coding agents query and manipulate the tracker natively.
Configure with:

  {
    "mcpServers": {
      "trk": { "command": "trk", "args": ["mcp"] }
    }
  }

Available tools: trk_list_projects, trk_list_issues, trk_create_issue,
trk_set_status, trk_close_issue, trk_assign_issue, trk_quarantined_issues`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		mgr, _, _, err := buildManager(s)
		if err != nil {
			return err
		}
		return mcp.NewServer(s, mgr).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
