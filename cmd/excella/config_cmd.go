package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/excella/pkg/config"
	"github.com/odvcencio/excella/pkg/logging"
)

// doctorRecentErrors bounds how much of errors.jsonl doctor prints.
const doctorRecentErrors = 5

func runConfigCommand(args []string) error {
	sub := "check"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "check":
		return runConfigCheck()
	case "show":
		return runConfigShow()
	case "path":
		return runConfigPath()
	default:
		return withExitCode(fmt.Errorf("unknown config command: %s (use check, show or path)", sub), exitInvalid)
	}
}

func runConfigCheck() error {
	out := newWriter()
	for _, path := range config.SearchPaths() {
		if _, err := os.Stat(path); err == nil {
			out.Dim("  found   %s", path)
		} else {
			out.Dim("  missing %s", path)
		}
	}
	cfg, err := loadConfig()
	if err != nil {
		out.Error("%v", err)
		return err
	}
	for _, w := range cfg.ValidationWarnings() {
		out.Warn("%s", w)
	}
	if strings.TrimSpace(cfg.Workbook.Path) != "" {
		if _, err := os.Stat(cfg.Workbook.Path); err != nil {
			out.Warn("workbook %s is not readable: %v", cfg.Workbook.Path, err)
		}
	}
	out.Success("Configuration is valid")
	return nil
}

func runConfigShow() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	redacted := *cfg
	redacted.Server.AuthToken = redact(cfg.Server.AuthToken)
	redacted.Bus.NATS.Password = redact(cfg.Bus.NATS.Password)
	redacted.Bus.NATS.Token = redact(cfg.Bus.NATS.Token)
	if jsonOutput {
		return printJSON(redacted)
	}

	out := newWriter()
	out.Header("Excella configuration")
	out.Println("  workbook          %s", orDash(redacted.Workbook.Path))
	out.Println("  approval mode     %s", redacted.Approval.Mode)
	out.Println("  read-only         %t", redacted.Safety.ReadOnlyMode)
	out.Println("  max cells         %d", redacted.Safety.MaxCellsToWrite)
	out.Println("  memory            %s (cap %d)", redacted.Memory.Backend, redacted.Memory.Cap)
	out.Println("  storage           %s", orDash(redacted.Storage.Path))
	out.Println("  bus               %s", redacted.Bus.Backend)
	out.Println("  email from        %s (queue %s)", orDash(redacted.Email.From), redacted.Email.OutboxQueue)
	out.Println("  server            %s (token %s)", redacted.Server.Bind, orDash(redacted.Server.AuthToken))
	out.Println("  review ttl        %s", redacted.Tools.ReviewTTL)
	out.Println("  logs              %s (%s)", orDash(redacted.Logging.Dir), redacted.Logging.Level)
	return nil
}

func runConfigPath() error {
	paths := config.SearchPaths()
	if strings.TrimSpace(configPath) != "" {
		paths = append(paths, configPath)
	}
	if jsonOutput {
		return printJSON(map[string]any{"config": paths, "dataDir": config.DataDir()})
	}
	out := newWriter()
	for _, p := range paths {
		out.Println("%s", p)
	}
	out.Println("%s", config.DataDir())
	return nil
}

func redact(secret string) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}
	return "********"
}

type doctorReport struct {
	Warnings      []string        `json:"warnings,omitempty"`
	SchemaVersion int             `json:"schemaVersion,omitempty"`
	RecentErrors  []logging.Event `json:"recentErrors,omitempty"`
}

// runDoctorCommand checks the config, opens the store (running any pending
// migrations) and shows the latest logged errors.
func runDoctorCommand(args []string) error {
	if len(args) > 0 {
		return withExitCode(fmt.Errorf("doctor takes no arguments"), exitInvalid)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	report := doctorReport{Warnings: cfg.ValidationWarnings()}

	a, err := newAppFn(cfg, "", appOptions{logOut: io.Discard})
	if err != nil {
		return err
	}
	defer a.Close()
	if a.store != nil {
		if report.SchemaVersion, err = a.store.SchemaVersion(); err != nil {
			return err
		}
	}

	if dir := strings.TrimSpace(cfg.Logging.Dir); dir != "" {
		events, err := logging.Tail(filepath.Join(dir, logging.ErrorsFile), doctorRecentErrors)
		if err != nil && !stderrors.Is(err, os.ErrNotExist) {
			return err
		}
		report.RecentErrors = events
	}

	if jsonOutput {
		return printJSON(report)
	}
	out := newWriter()
	out.Header("Excella doctor")
	for _, w := range report.Warnings {
		out.Warn("%s", w)
	}
	if a.store == nil {
		out.Dim("  storage disabled")
	} else {
		out.Println("  schema version    %d", report.SchemaVersion)
	}
	if len(report.RecentErrors) == 0 {
		out.Success("No recent errors")
		return nil
	}
	out.Println("  recent errors:")
	for _, e := range report.RecentErrors {
		out.Println("    %s  %-10s %s", e.Timestamp.Format("2006-01-02 15:04:05"), e.Category, e.Message)
	}
	return nil
}
