// Package main provides the flowplan-mcp binary, an MCP server over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ormasoftchile/flowplan/pkg/config"
	gmcp "github.com/ormasoftchile/flowplan/pkg/ecosystem/mcp"
)

var version = "dev"

func main() {
	cfg, err := config.Resolve("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger, err := cfg.Logger(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	s := gmcp.NewServer(version, cfg, logger)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
