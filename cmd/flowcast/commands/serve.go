package commands

import (
	"flowcast/internal/mcp"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve forecasting tools to MCP clients over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openWarehouse(cmd.Context())
		if err != nil {
			return err
		}
		defer closeWarehouse(store)

		return mcp.NewServer(store, forecastSettings(), cfg.EnableMermaidCharts).Serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
