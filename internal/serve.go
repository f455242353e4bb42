package internal

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/MrSnakeDoc/wxproxy/internal/config"
	"github.com/MrSnakeDoc/wxproxy/internal/logger"
	"github.com/MrSnakeDoc/wxproxy/internal/middleware"
	"github.com/MrSnakeDoc/wxproxy/internal/server"

	"github.com/spf13/cobra"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := middleware.Get[*config.Config](cmd, middleware.CtxKeyConfig)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("cache ttl %s, upstream timeout %s", cfg.CacheTTL, cfg.UpstreamTimeout)
			if cfg.RateLimit > 0 {
				logger.Info("rate limit %.2f req/s per client, burst %d", cfg.RateLimit, cfg.RateBurst)
			}

			return server.New(cfg, nil, nil).Run(ctx)
		},
	}

	cmd.Flags().StringP("addr", "a", config.DefaultAddr, "Listen address")
	return cmd
}
