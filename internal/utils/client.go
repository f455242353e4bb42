package utils

import (
	"github.com/MrSnakeDoc/wxproxy/internal/logger"
)

// Try runs a deferred cleanup and logs, rather than drops, its error.
func Try(f func() error) {
	if err := f(); err != nil {
		logger.LogError("deferred cleanup failed: %v", err)
	}
}
