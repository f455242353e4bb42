package main

import (
	"errors"
	"os"

	cmd "github.com/MrSnakeDoc/wxproxy/internal"
	"github.com/MrSnakeDoc/wxproxy/internal/logger"
	"github.com/MrSnakeDoc/wxproxy/internal/middleware"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, middleware.ErrLogged) {
			logger.LogError("%v", err)
		}
		os.Exit(1)
	}
}
