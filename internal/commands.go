package internal

import (
	"github.com/MrSnakeDoc/wxproxy/internal/middleware"
	"github.com/spf13/cobra"
)

var defaultCommands = []middleware.CommandFactory{
	middleware.UseMiddlewareChain(middleware.ConfigureLogger, middleware.LoadConfig)(NewServeCmd),
	middleware.UseMiddlewareChain(middleware.ConfigureLogger, middleware.LoadConfig)(NewRoutesCmd),
	NewConfigCmd,
	NewVersionCmd,
}

func RegisterSubCommands(cmd *cobra.Command) {
	for _, factory := range defaultCommands {
		cmd.AddCommand(factory())
	}
}
