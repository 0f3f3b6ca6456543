// ============================================================================
// shardkeeper - Main Entry Point
// ============================================================================
//
// File: cmd/shardkeeper/main.go
// Purpose: Application entry point and CLI initialization.
//
// Version Injection:
//   go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
//
// Usage:
//   ./shardkeeper run -c config.yaml
//   ./shardkeeper status -c config.yaml
//   ./shardkeeper replay --wal-dir ./data/wal --table-name events --table-id 7
// ============================================================================

package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/shardkeeper/internal/cli"
)

var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
