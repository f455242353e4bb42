package internal

import (
	"os"
	"strings"

	"github.com/MrSnakeDoc/wxproxy/internal/logger"
	"github.com/MrSnakeDoc/wxproxy/internal/version"

	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wxproxy",
		Short: "Caching reverse proxy for Chinese weather services",
		Long: `wxproxy fronts the weather.com.cn, weathercn.com and Xiaomi weather APIs.
It forwards JSON calls, reshapes the weather-map and duanlin radar feeds,
proxies their images through opaque tokens and caches successful GETs.`,
		Example: `wxproxy serve --addr :8000 --config wxproxy.yaml`,
		Run: func(cmd *cobra.Command, _ []string) {
			if v, _ := cmd.Flags().GetBool("version"); v {
				version.Print(cmd.OutOrStdout())
				return
			}
			_ = cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().BoolP("version", "v", false, "Print version information")

	pf := cmd.PersistentFlags()
	pf.StringP("config", "c", "", "Path to a YAML config file (built-in defaults when empty)")
	pf.CountVarP(&logger.FlagVerboseCount, "verbose", "V", "Verbose output, including per-request access logs")
	pf.BoolVarP(&logger.FlagQuiet, "quiet", "q", false, "Only log errors")
	pf.BoolVarP(&logger.FlagSilent, "silent", "s", false, "Log nothing")
	pf.BoolVar(&logger.FlagJSON, "json", false, "Log JSON lines instead of colored text")

	RegisterSubCommands(cmd)

	return cmd
}

func Execute() error {
	root := NewRootCmd()

	if os.Getenv("COMP_LINE") != "" ||
		(len(os.Args) > 1 && strings.HasPrefix(os.Args[1], "__complete")) {
		return root.Execute()
	}

	if err := root.Execute(); err != nil {
		logger.Debug("Failed to execute root command: %v", err)
		return err
	}
	return nil
}
