// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command uplink submits videos to the processing backend and follows them
// to a terminal state.
package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ManuGH/uplink/internal/config"
	xglog "github.com/ManuGH/uplink/internal/log"
	"github.com/ManuGH/uplink/internal/version"
)

func main() {
	// .env is optional
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	xglog.Configure(xglog.Config{Level: "info", Output: stderr, Version: version.Version})

	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		return 0
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:], stderr)
	case "submit":
		return runSubmit(args[1:], stdout, stderr)
	case "config":
		return runConfigCLI(args[1:], stdout, stderr)
	case "version", "--version", "-version":
		fmt.Fprintln(stdout, version.String())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  uplink serve  [-config uplink.yaml]")
	fmt.Fprintln(w, "  uplink submit [-config uplink.yaml] -file PATH | -url URL -consent")
	fmt.Fprintln(w, "  uplink config init|validate|dump ...")
	fmt.Fprintln(w, "  uplink version")
}

// loadConfig applies defaults, the optional file and UPLINK_* variables,
// then reconfigures logging from the result.
func loadConfig(path string, stderr io.Writer) (config.AppConfig, error) {
	cfg, err := config.NewLoader(strings.TrimSpace(path), version.Version).Load()
	if err != nil {
		return config.AppConfig{}, err
	}
	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Output: stderr, Version: cfg.Version})

	logger := xglog.WithComponent("cli")
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("path", path).
		Str("backend", maskURL(cfg.Backend.BaseURL)).
		Msg("configuration loaded")
	return cfg, nil
}

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}
