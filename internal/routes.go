package internal

import (
	"github.com/MrSnakeDoc/wxproxy/internal/config"
	"github.com/MrSnakeDoc/wxproxy/internal/logger"
	"github.com/MrSnakeDoc/wxproxy/internal/middleware"
	"github.com/MrSnakeDoc/wxproxy/internal/server"

	"github.com/spf13/cobra"
)

func NewRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the dispatch table for the loaded config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := middleware.Get[*config.Config](cmd, middleware.CtxKeyConfig)
			if err != nil {
				return err
			}

			table := logger.CreateTable(cmd.OutOrStdout(), []string{"Path", "Match", "Handler", "Upstream"})
			for _, rt := range server.Routes(cfg, nil) {
				if err := table.Append([]string{rt.Path, string(rt.Kind), rt.Handler, rt.Target}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
}
