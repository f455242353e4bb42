package version

import (
	"fmt"
	"io"
	"runtime"
)

// Set at link time with -ldflags "-X github.com/MrSnakeDoc/wxproxy/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	Date      = "unknown"
	GoVersion = runtime.Version()
)

func Print(w io.Writer) {
	fmt.Fprintln(w, "wxproxy - caching reverse proxy for weather.com.cn and Xiaomi weather")
	fmt.Fprintf(w, "  %-12s %s\n", "Version:", Version)
	fmt.Fprintf(w, "  %-12s %s\n", "Go Version:", GoVersion)
	fmt.Fprintf(w, "  %-12s %s\n", "Git Commit:", Commit)
	fmt.Fprintf(w, "  %-12s %s\n", "Built:", Date)
	fmt.Fprintf(w, "  %-12s %s/%s\n", "OS/Arch:", runtime.GOOS, runtime.GOARCH)
}
