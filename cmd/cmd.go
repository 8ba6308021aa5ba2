// Package cmd provides CLI commands for ragcache.
//
// Commands:
//   - serve: HTTP API server exposing query and ingestion endpoints
//   - version: version information
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/koopa0/ragcache/internal/log"
)

// Execute is the main entry point for the ragcache CLI application.
func Execute() error {
	logger := log.New(log.Config{
		Level: logLevel(),
		JSON:  os.Getenv("RAGCACHE_LOG_JSON") != "",
	})
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe(logger)
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

func logLevel() slog.Level {
	if os.Getenv("DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("ragcache - retrieval-augmented generation with layered caching")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  ragcache serve [addr]  Start HTTP API server (default: 127.0.0.1:3500)")
	fmt.Println("  ragcache --version     Show version information")
	fmt.Println("  ragcache --help        Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY            Required: Gemini API key")
	fmt.Println("  DEBUG                     Optional: Enable debug logging")
	fmt.Println("  RAGCACHE_LOG_JSON         Optional: JSON log output")
	fmt.Println("  RAGCACHE_INDEX_BACKEND    Optional: memory (default) or postgres")
	fmt.Println()
	fmt.Println("Configuration file: ~/.ragcache/config.yaml or ./config.yaml")
}
