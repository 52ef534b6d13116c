// Package main is the entry point for the toolgate MCP gateway.
package main

import (
	"context"
	"os"

	"github.com/toolgate/toolgate/cmd/toolgate/app"
	"github.com/toolgate/toolgate/pkg/logger"
)

func main() {
	ctx := context.Background()
	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
