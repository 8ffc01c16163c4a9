package cmd

import (
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/areastats/internal/mcptool"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the analyze_area tool over MCP stdio",
	Long: `Run a Model Context Protocol server on stdin/stdout exposing one tool,
analyze_area. Logs go to stderr so they do not corrupt the protocol stream.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	logger.Info("MCP server starting", "tool", mcptool.ToolName, "version", Version)
	srv := mcptool.NewServer(mcptool.NewHandler(a.analyzer, logger), Version)
	return mcptool.ServeStdio(srv)
}
