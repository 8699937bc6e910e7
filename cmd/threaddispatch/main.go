package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/threaddispatch/internal/config"
	"github.com/mattjoyce/threaddispatch/internal/tui"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

// verbs are top-level commands. Nouns (config, journal) group actions.
var verbs = []command{
	{
		name:  "demo",
		usage: "demo [--config PATH] [--workers N] [--jobs N] [--workload KIND] [--duration D] [--json]",
		about: "Start a pool, dispatch jobs, and exercise single, multi and global waits before shutdown.",
		run:   runDemo,
	},
	{
		name:  "serve",
		usage: "serve [--config PATH]",
		about: "Host a pool with the journal, metrics, and HTTP API until SIGINT/SIGTERM, then drain.",
		run:   runServe,
	},
	{
		name:  "monitor",
		usage: "monitor [--api-url URL] [--api-key KEY]",
		about: "Launch the real-time TUI dashboard.",
		run:   runMonitor,
	},
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) == 0 {
		printUsage()
		return 1
	}

	name, args := cliArgs[0], cliArgs[1:]
	switch name {
	case "config":
		return runNoun("config", configActions, args)
	case "journal":
		return runNoun("journal", journalActions, args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	}

	if verb, ok := findCommand(verbs, name); ok {
		return verb.invoke(args)
	}
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
	printUsage()
	return 1
}

func printUsage() {
	fmt.Print(`threaddispatch - Fixed-size worker pool with per-job completion tracking

Usage:
  threaddispatch <command> [flags]
  threaddispatch <noun> <action> [flags]

Commands:
  demo              Run the reference scenario against a local pool
  serve             Host a pool behind the HTTP control API until signalled
  monitor           Real-time TUI for a serving pool

Config Commands:
  config check      Validate syntax, values, and integrity
  config lock       Authorize current state (write .checksums)
  config get <path> Print one resolved config value

Journal Commands:
  journal list      Show recorded pool runs
  journal show <id> Summarize one run and its jobs

General:
  version           Show version information
  help              Show this help message

Use 'threaddispatch <command> --help' for command-specific flags.
`)
}

// loadConfigForTool resolves --config or discovery, falling back to defaults.
func loadConfigForTool(configPath string) (*config.Config, error) {
	return config.LoadOrDefault(configPath)
}

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Pool API URL")
	apiKey := fs.String("api-key", os.Getenv("THREADDISPATCH_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or THREADDISPATCH_API_KEY env var.")
		return 1
	}

	if _, err := tea.NewProgram(tui.NewMonitor(*apiURL, *apiKey)).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
