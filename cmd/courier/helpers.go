package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	courier "github.com/courierim/courier-go"
)

// getClient creates a client from the saved config. Commands that need
// authentication call getAuthClient instead.
func getClient() (*courier.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Default.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "No server configured. Run 'courier init <base-url>' first.")
		os.Exit(1)
	}

	opts := []courier.ClientOption{courier.WithBaseURL(cfg.Default.BaseURL)}
	if verbose {
		opts = append(opts, courier.WithLogger(getLogger()))
	}
	return courier.NewClient(cfg.Auth.Token, opts...), cfg
}

// getAuthClient creates a client and requires a saved token.
func getAuthClient() (*courier.Client, *Config) {
	client, cfg := getClient()
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'courier login <username>' first.")
		os.Exit(1)
	}
	return client, cfg
}

// getLogger builds the CLI logger: human-readable, debug level with -v.
func getLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// storePath returns the local state database path, creating its parent.
func storePath(cfg *Config) (string, error) {
	if cfg.Default.StorePath != "" {
		return cfg.Default.StorePath, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state"), nil
}

// formatTime renders a unix-seconds timestamp for terminal output.
func formatTime(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).Local().Format("2006-01-02 15:04")
}
