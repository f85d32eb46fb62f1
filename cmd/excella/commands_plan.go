package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/odvcencio/excella/pkg/config"
	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/plan"
	"github.com/odvcencio/excella/pkg/terminal"
)

var stdout io.Writer = os.Stdout
var stdin io.Reader = os.Stdin

func newWriter() *terminal.Writer {
	return terminal.NewWithIO(stdin, stdout)
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readPlan reads a strict plan from path, or stdin when path is "-".
func readPlan(path string) (plan.Plan, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return plan.Plan{}, withExitCode(fmt.Errorf("--plan is required"), exitInvalid)
	}
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return plan.Plan{}, fmt.Errorf("read plan: %w", err)
	}
	p, err := conversation.DecodeStrict[plan.Plan](raw, func(p *plan.Plan) error { return p.Check() })
	if err != nil {
		return plan.Plan{}, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid plan").
			WithUserMessage("Invalid Excel plan payload.")
	}
	return p, nil
}

func runSnapshotCommand(args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newAppFn(cfg, "", appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.snapshot(context.Background())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(snap)
	}
	newWriter().Snapshot(snap)
	return nil
}

func runValidateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	planPath := fs.String("plan", "", "plan JSON file (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := readPlan(*planPath)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newAppFn(cfg, "", appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	snap, err := a.snapshot(ctx)
	if err != nil {
		return err
	}
	verdict := a.validator.Validate(ctx, p, snap)
	if jsonOutput {
		if err := printJSON(verdict); err != nil {
			return err
		}
	} else {
		newWriter().Verdict(verdict)
	}
	return verdict.Err()
}

func runExecuteCommand(args []string) error {
	fs := flag.NewFlagSet("execute", flag.ContinueOnError)
	planPath := fs.String("plan", "", "plan JSON file (- for stdin)")
	modeFlag := fs.String("mode", string(plan.ModeDryRun), "dry-run or apply")
	skipValidation := fs.Bool("skip-validation", false, "do not validate before executing")
	yes := fs.Bool("yes", false, "apply without an interactive confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mode, err := plan.ParseMode(*modeFlag)
	if err != nil {
		return withExitCode(err, exitInvalid)
	}
	p, err := readPlan(*planPath)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mode == plan.ModeApply && cfg.Approval.Mode == config.ApprovalModeSafe {
		return errors.New(errors.ErrCodeApprovalDenied, "approval mode is safe; apply is disabled").
			WithRemediation("Run with --mode dry-run or set approval.mode: ask.")
	}

	a, err := newAppFn(cfg, "", appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	snap, err := a.snapshot(ctx)
	if err != nil {
		return err
	}

	out := newWriter()
	if mode == plan.ModeApply && !*yes {
		if !isInteractiveTerminalFn() {
			return withExitCode(fmt.Errorf("apply needs --yes when stdin is not a terminal"), exitDenied)
		}
		out.Info(p.Summary())
		if !out.Confirm(fmt.Sprintf("Apply %d step(s) to %s?", len(p.Steps), snap.Meta.WorkbookName), false) {
			return withExitCode(errors.New(errors.ErrCodeApprovalDenied, "apply cancelled"), exitDenied)
		}
	}

	req := plan.Request{Plan: p, Snapshot: snap, Mode: mode, RequireValidation: !*skipValidation}
	var res plan.Result
	if mode == plan.ModeApply && !jsonOutput && !quietMode && isInteractiveTerminalFn() {
		res, _ = terminal.WithSpinner(os.Stderr, "Applying plan", func() (plan.Result, error) {
			return a.engine.Execute(ctx, req), nil
		})
	} else {
		res = a.engine.Execute(ctx, req)
	}

	if jsonOutput {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		out.PlanResult(res)
	}
	if !res.OK() {
		if res.Validation != nil && !res.Validation.IsValid {
			return withExitCode(fmt.Errorf("plan validation failed"), exitCodeForError(res.Validation.Err()))
		}
		return withExitCode(fmt.Errorf("plan execution reported %d error(s)", len(res.Errors)), exitFailure)
	}
	return nil
}
