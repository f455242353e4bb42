package middleware

import (
	"context"
	"fmt"

	"github.com/MrSnakeDoc/wxproxy/internal/config"
	"github.com/spf13/cobra"
)

// LoadConfig reads --config (defaults when unset), applies --addr, and
// stores the result under CtxKeyConfig.
func LoadConfig(cmd *cobra.Command, args []string, next func(cmd *cobra.Command, args []string) error) error {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if f := cmd.Flags().Lookup("addr"); f != nil && f.Changed {
		cfg.Addr = f.Value.String()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, CtxKeyConfig, cfg))

	return next(cmd, args)
}
