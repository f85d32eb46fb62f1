package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"golang.org/x/term"

	"github.com/odvcencio/excella/pkg/config"
	"github.com/odvcencio/excella/pkg/telemetry"
	"github.com/odvcencio/excella/pkg/terminal"
)

// Build metadata, set with -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags, parsed before the subcommand.
var (
	quietMode  bool
	noColor    bool
	jsonOutput bool
	configPath string
)

type command struct {
	name  string
	usage string
	help  string
	run   func(args []string) error
}

var commands = []command{
	{"serve", "serve [--bind ADDR] [--token T]", "Run the HTTP API for an agent runtime", runServeCommand},
	{"snapshot", "snapshot", "Print the current workbook snapshot", runSnapshotCommand},
	{"validate", "validate --plan FILE", "Validate a plan against the current snapshot", runValidateCommand},
	{"execute", "execute --plan FILE [--mode M]", "Execute a plan (dry-run or apply)", runExecuteCommand},
	{"todos", "todos --session ID", "Show a session's reconstructed task list", runTodosCommand},
	{"history", "history --session ID", "Show a session's turn log", runHistoryCommand},
	{"approvals", "approvals [list|show|approve|reject|expire]", "Inspect and decide pending approvals", runApprovalsCommand},
	{"email", "email propose|send", "Draft or send an approved email", runEmailCommand},
	{"memory", "memory [show|note TEXT]", "Inspect or annotate agent memory", runMemoryCommand},
	{"tools", "tools [list|call NAME]", "List tools or call one in a session", runToolsCommand},
	{"config", "config [check|show|path]", "Inspect configuration", runConfigCommand},
	{"doctor", "doctor", "Check configuration, storage and recent errors", runDoctorCommand},
}

type startupOptions struct {
	args       []string
	quiet      bool
	noColor    bool
	json       bool
	configPath string
}

func main() {
	opts, err := parseStartupOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFailure)
	}
	quietMode, noColor, jsonOutput, configPath = opts.quiet, opts.noColor, opts.json, opts.configPath
	telemetry.Version = version
	if noColor {
		terminal.DisableColor()
	}

	if handled, code := dispatchSubcommand(opts.args); handled {
		os.Exit(code)
	}
	printHelp(os.Stdout)
	os.Exit(exitFailure)
}

// dispatchSubcommand runs args[0]. It reports false when there is nothing
// to run, leaving the caller to print help.
func dispatchSubcommand(args []string) (bool, int) {
	if len(args) == 0 {
		return false, exitOK
	}
	name, rest := args[0], args[1:]
	switch name {
	case "version", "--version", "-v":
		printVersion(os.Stdout)
		return true, exitOK
	case "help", "--help", "-h":
		printHelp(os.Stdout)
		return true, exitOK
	}
	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(rest); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return true, exitCodeForError(err)
		}
		return true, exitOK
	}

	kind := "command"
	if strings.HasPrefix(name, "-") {
		kind = "flag"
	}
	fmt.Fprintf(os.Stderr, "Error: unknown %s: %s\nRun 'excella --help' for usage.\n", kind, name)
	return true, exitFailure
}

// parseStartupOptions consumes global flags up to the first subcommand
// argument. Environment defaults apply first.
func parseStartupOptions(raw []string) (*startupOptions, error) {
	opts := &startupOptions{}
	if v, ok := parseBoolEnv("EXCELLA_QUIET"); ok {
		opts.quiet = v
	}
	if v, ok := parseBoolEnv("NO_COLOR"); ok {
		opts.noColor = v
	}

	for i := 0; i < len(raw); i++ {
		arg := raw[i]
		switch {
		case arg == "--quiet" || arg == "-q":
			opts.quiet = true
		case arg == "--no-color":
			opts.noColor = true
		case arg == "--json":
			opts.json = true
		case arg == "--config" || arg == "-c":
			if i+1 >= len(raw) {
				return nil, fmt.Errorf("%s requires a path argument", arg)
			}
			i++
			opts.configPath = raw[i]
		case strings.HasPrefix(arg, "--config="):
			opts.configPath = strings.TrimPrefix(arg, "--config=")
		default:
			opts.args = raw[i:]
			return opts, nil
		}
	}
	return opts, nil
}

// parseBoolEnv reads a boolean variable; ok is false when it is unset or
// not recognisable.
func parseBoolEnv(key string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// loadConfigFn allows tests to stub configuration loading.
var loadConfigFn = func() (*config.Config, error) {
	if strings.TrimSpace(configPath) != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func loadConfig() (*config.Config, error) {
	cfg, err := loadConfigFn()
	if err != nil {
		return nil, withExitCode(fmt.Errorf("load config: %w", err), exitConfig)
	}
	return cfg, nil
}

var isInteractiveTerminalFn = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, "Excella - approval-gated spreadsheet agent runtime\n\nUSAGE:\n  excella [FLAGS] COMMAND [ARGS]\n\nCOMMANDS:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-44s %s\n", c.usage, c.help)
	}
	fmt.Fprintf(w, "  %-44s %s\n", "version", "Print version information")
	fmt.Fprint(w, `
FLAGS:
  -c, --config PATH    Merge an extra config file
  -q, --quiet          Suppress informational output
      --json           Print machine-readable JSON
      --no-color       Disable colored output

ENVIRONMENT:
  EXCELLA_HOME           Data directory (default ~/.excella)
  EXCELLA_WORKBOOK       Workbook path
  EXCELLA_APPROVAL_MODE  ask or safe
  EXCELLA_SERVER_TOKEN   Bearer token for the HTTP API
`)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "Excella %s\n", version)
	if commit != "unknown" {
		fmt.Fprintf(w, "  commit: %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, "  built:  %s\n", buildDate)
	}
	fmt.Fprintf(w, "  go:     %s\n", runtime.Version())
}
