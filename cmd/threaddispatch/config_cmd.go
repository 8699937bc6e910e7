package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattjoyce/threaddispatch/internal/config"
	"github.com/mattjoyce/threaddispatch/internal/doctor"
)

var configActions = []command{
	{
		name:  "check",
		usage: "config check [--config PATH] [--strict] [--json]",
		about: `Load the config (verifying .checksums when present) and report problems.

Exit codes:
  0  Valid
  1  Invalid or unreadable
  2  Warnings with --strict`,
		run: runConfigCheck,
	},
	{
		name:  "lock",
		usage: "config lock [--config PATH] [--dry-run] [-v]",
		about: "Write .checksums (BLAKE3) for config.yaml so later loads detect edits.",
		run:   runConfigLock,
	},
	{
		name:  "get",
		usage: "config get <path> [--config PATH] [--json]",
		about: "Print one resolved value, e.g. pool.workers.",
		run:   runConfigGet,
	},
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	target, _, err := resolveConfigTarget(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Printf("Config: %s\n", cfg.SourcePath)
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	target, dir, err := resolveConfigTarget(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve config: %v\n", err)
		return 1
	}

	report, err := config.Lock(dir, []string{filepath.Base(target)}, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config in %s: %v\n", dir, err)
		return 1
	}

	if isVerbose {
		for _, file := range report.Files {
			if !file.Present {
				fmt.Printf("  SKIP %s: not found\n", file.Name)
				continue
			}
			fmt.Printf("  HASH %s: %s\n", file.Name, file.Hash)
		}
		if dryRun {
			fmt.Printf("  DRY-RUN %s: %s (not written)\n", config.ChecksumFile, report.ManifestPath)
		} else {
			fmt.Printf("  WROTE %s: %s\n", config.ChecksumFile, report.ManifestPath)
		}
	}

	if dryRun {
		fmt.Printf("Dry run completed for %s (no files written)\n", dir)
		return 0
	}

	// A locked but invalid config would only fail later at serve time.
	if _, err := config.Load(target); err != nil {
		fmt.Fprintf(os.Stderr, "Locked, but config does not load: %v\n", err)
		return 1
	}
	fmt.Printf("Successfully locked configuration in %s\n", dir)
	return 0
}

func runConfigGet(args []string) int {
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.BoolVar(&jsonOut, "json", false, "Output in structured JSON format")

	flagArgs, positionals := splitFlagsAndPositionals(args, map[string]bool{"config": true})
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	positionals = append(positionals, fs.Args()...)
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: threaddispatch config get <path> [--json]")
		return 1
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	val, err := cfg.GetPath(positionals[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOut {
		data, _ := json.MarshalIndent(val, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Println(val)
	}
	return 0
}

// resolveConfigTarget returns the config file and its directory from --config
// or discovery.
func resolveConfigTarget(configPath string) (file, dir string, err error) {
	if configPath == "" {
		if configPath, err = config.DiscoverConfigDir(); err != nil {
			return "", "", err
		}
	}
	if file, err = config.ResolveFile(configPath); err != nil {
		return "", "", err
	}
	return file, filepath.Dir(file), nil
}
