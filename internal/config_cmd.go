package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/MrSnakeDoc/wxproxy/internal/config"
	"github.com/MrSnakeDoc/wxproxy/internal/logger"
	"github.com/MrSnakeDoc/wxproxy/internal/middleware"

	"github.com/spf13/cobra"
)

const defaultConfigFile = "wxproxy.yaml"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the wxproxy config file",
	}
	cmd.AddCommand(middleware.UseMiddlewareChain(middleware.ConfigureLogger)(newConfigInitCmd)())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the built-in defaults to a YAML file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigFile
			if len(args) == 1 {
				path = args[0]
			}

			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			if err := config.Write(path, config.Default()); err != nil {
				return err
			}
			logger.Success("wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
	return cmd
}
