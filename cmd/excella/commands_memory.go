package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/memory"
)

func runMemoryCommand(args []string) error {
	sub := "show"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
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
	if a.ownerID == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "no workbook configured").
			WithRemediation("Agent memory is kept per workbook; set workbook.path.")
	}

	ctx := context.Background()
	mem, err := a.memRepo.Load(ctx, a.ownerID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageRead, "load agent memory")
	}

	switch sub {
	case "show":
		return showMemory(mem)
	case "note":
		fs := flag.NewFlagSet("memory note", flag.ContinueOnError)
		importance := fs.String("importance", string(memory.ImportanceMedium), "low, medium or high")
		if err := fs.Parse(args); err != nil {
			return err
		}
		text := strings.Join(fs.Args(), " ")
		_, note, err := a.updater.AddNote(ctx, a.ownerID, mem, text, memory.Importance(*importance))
		if err != nil {
			return withExitCode(err, exitInvalid)
		}
		if jsonOutput {
			return printJSON(note)
		}
		newWriter().Success("noted %s", note.ID)
		return nil
	default:
		return withExitCode(fmt.Errorf("unknown memory command: %s (use show or note)", sub), exitInvalid)
	}
}

func showMemory(mem memory.AgentMemory) error {
	mem = mem.Normalize()
	if jsonOutput {
		return printJSON(mem)
	}
	out := newWriter()
	out.Header("Recent actions")
	if len(mem.RecentActions) == 0 {
		out.Dim("  none")
	}
	for _, a := range mem.RecentActions {
		out.Println("  %s  %-8s %-20s %s", a.Timestamp.Local().Format("2006-01-02 15:04"), a.Status, a.Kind, a.Description)
	}
	out.Header("Recent errors")
	if len(mem.RecentErrors) == 0 {
		out.Dim("  none")
	}
	for _, e := range mem.RecentErrors {
		out.Println("  %s  %s", e.Timestamp.Local().Format("2006-01-02 15:04"), e.Message)
	}
	out.Header("Notes")
	if len(mem.Notes) == 0 {
		out.Dim("  none")
	}
	for _, n := range mem.Notes {
		out.Println("  [%s] %s", n.Importance, n.Text)
	}
	return nil
}
