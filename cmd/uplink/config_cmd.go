// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/uplink/internal/config"
	"github.com/ManuGH/uplink/internal/version"
)

func runConfigCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage(stderr)
		return 0
	}

	switch args[0] {
	case "init":
		return runConfigInit(args[1:], stdout, stderr)
	case "validate":
		return runConfigValidate(args[1:], stdout, stderr)
	case "dump":
		return runConfigDump(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage(stderr)
		return 2
	}
}

func printConfigUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  uplink config init [-backend URL] PATH")
	fmt.Fprintln(w, "  uplink config validate [--file|-f uplink.yaml]")
	fmt.Fprintln(w, "  uplink config dump [--file|-f uplink.yaml] [--format=yaml|json]")
}

func runConfigInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("uplink config init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var backendURL string
	fs.StringVar(&backendURL, "backend", "http://localhost:8000", "backend base URL")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: exactly one PATH is required")
		return 2
	}

	path := fs.Arg(0)
	if err := config.NewManager(path).Init(backendURL); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "wrote %s\n", path)
	return 0
}

func runConfigValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("uplink config validate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if _, err := config.NewLoader(strings.TrimSpace(file), version.Version).Load(); err != nil {
		fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", describe(file), err)
		return 1
	}
	fmt.Fprintf(stdout, "%s is valid\n", describe(file))
	return 0
}

func runConfigDump(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("uplink config dump", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var file, format string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	fs.StringVar(&format, "format", "yaml", "output format: yaml or json")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.NewLoader(strings.TrimSpace(file), version.Version).Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", describe(file), err)
		return 1
	}
	fileCfg := config.ToFileConfig(cfg)
	redactFileConfigSecrets(&fileCfg)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(fileCfg); err != nil {
			fmt.Fprintf(stderr, "Failed to encode YAML: %v\n", err)
			return 1
		}
		_ = enc.Close()
		return 0
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(fileCfg); err != nil {
			fmt.Fprintf(stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(stderr, "Unsupported format: %s (use yaml or json)\n", format)
		return 2
	}
}

func describe(file string) string {
	if strings.TrimSpace(file) == "" {
		return "environment"
	}
	return file
}

func redactFileConfigSecrets(cfg *config.FileConfig) {
	if cfg == nil {
		return
	}
	if cfg.Backend.Token != "" {
		cfg.Backend.Token = "***"
	}
	if cfg.Archive.RedisPassword != "" {
		cfg.Archive.RedisPassword = "***"
	}
}
