package middleware

import (
	"github.com/MrSnakeDoc/wxproxy/internal/errs"
	"github.com/MrSnakeDoc/wxproxy/internal/logger"
	"github.com/spf13/cobra"
)

// ConfigureLogger applies the persistent verbosity flags once they are parsed.
func ConfigureLogger(cmd *cobra.Command, args []string, next func(cmd *cobra.Command, args []string) error) error {
	if logger.FlagQuiet && logger.FlagVerboseCount > 0 {
		return FlagComboError(errs.InvalidFlagCombination, "cannot combine --quiet with --verbose")
	}
	if logger.FlagSilent && logger.FlagVerboseCount > 0 {
		return FlagComboError(errs.InvalidFlagCombination, "cannot combine --silent with --verbose")
	}

	logger.ConfigureLoggerFromFlags()
	return next(cmd, args)
}
