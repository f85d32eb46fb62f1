package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/email"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/terminal"
	"github.com/odvcencio/excella/pkg/todo"
	"github.com/odvcencio/excella/pkg/tool/builtin"
)

// loadSession restores a session's turn log from the store.
func loadSession(a *app, sessionID string) (*conversation.Conversation, error) {
	conv := conversation.New(sessionID)
	if a.store == nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "no store configured").
			WithRemediation("Set storage.path so sessions survive between commands.")
	}
	if err := conv.LoadFromStorage(a.store); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "load session").WithContext("session", sessionID)
	}
	return conv, nil
}

// openSession loads config, builds the runtime and restores sessionID.
func openSession(sessionID string) (*app, *conversation.Conversation, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := newAppFn(cfg, sessionID, appOptions{})
	if err != nil {
		return nil, nil, err
	}
	conv, err := loadSession(a, sessionID)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, conv, nil
}

func runTodosCommand(args []string) error {
	fs := flag.NewFlagSet("todos", flag.ContinueOnError)
	session := fs.String("session", "", "session id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sessionID, err := requireSession(*session)
	if err != nil {
		return err
	}
	a, conv, err := openSession(sessionID)
	if err != nil {
		return err
	}
	defer a.Close()

	tasks := todo.Reconstruct(conv.History())
	if jsonOutput {
		return printJSON(map[string]any{"todos": tasks, "counts": todo.Counts(tasks)})
	}
	newWriter().Todos(tasks)
	return nil
}

func runHistoryCommand(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	session := fs.String("session", "", "session id")
	format := fs.String("format", "markdown", "markdown or json")
	toolCalls := fs.Bool("tool-calls", true, "include tool calls and results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sessionID, err := requireSession(*session)
	if err != nil {
		return err
	}
	a, conv, err := openSession(sessionID)
	if err != nil {
		return err
	}
	defer a.Close()

	if jsonOutput || strings.EqualFold(*format, "json") {
		return printJSON(map[string]any{"sessionId": sessionID, "turns": conv.History()})
	}
	data, err := conversation.Export(sessionID, conv.History(), conversation.ExportOptions{
		Format:           conversation.ExportMarkdown,
		IncludeToolCalls: *toolCalls,
	})
	if err != nil {
		return err
	}
	if !isInteractiveTerminalFn() {
		_, err = stdout.Write(data)
		return err
	}
	return newWriter().Markdown(string(data))
}

func runToolsCommand(args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list":
		return runToolsList(args)
	case "call":
		return runToolsCall(args)
	default:
		return withExitCode(fmt.Errorf("unknown tools command: %s (use list or call)", sub), exitInvalid)
	}
}

func runToolsList(args []string) error {
	fs := flag.NewFlagSet("tools list", flag.ContinueOnError)
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

	registry := a.registry(nil)
	if jsonOutput {
		return printJSON(registry.Functions())
	}
	out := newWriter()
	out.Header(fmt.Sprintf("%d tools (approval mode: %s)", registry.Len(), registry.Mode()))
	for _, t := range registry.List() {
		out.Println("  %-24s %s", t.Name(), t.Description())
	}
	return nil
}

func runToolsCall(args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return withExitCode(fmt.Errorf("usage: excella tools call NAME --session ID [--params JSON]"), exitInvalid)
	}
	name, args := args[0], args[1:]
	fs := flag.NewFlagSet("tools call", flag.ContinueOnError)
	session := fs.String("session", "", "session id")
	params := fs.String("params", "{}", "tool parameters as a JSON object")
	callID := fs.String("call-id", "", "tool call id (default: generated)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(*params), &decoded); err != nil {
		return withExitCode(fmt.Errorf("--params must be a JSON object: %w", err), exitInvalid)
	}
	return callSessionTool(*session, *callID, name, decoded)
}

func runEmailCommand(args []string) error {
	if len(args) == 0 {
		return withExitCode(fmt.Errorf("usage: excella email propose|send --session ID ..."), exitInvalid)
	}
	sub, args := args[0], args[1:]
	switch sub {
	case "propose":
		fs := flag.NewFlagSet("email propose", flag.ContinueOnError)
		session := fs.String("session", "", "session id")
		to := fs.String("to", "", "recipient address")
		subject := fs.String("subject", "", "subject line")
		body := fs.String("body", "", "markdown body")
		bodyFile := fs.String("body-file", "", "read the markdown body from a file")
		if err := fs.Parse(args); err != nil {
			return err
		}
		text := *body
		if *bodyFile != "" {
			data, err := os.ReadFile(*bodyFile)
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			text = string(data)
		}
		return callSessionTool(*session, "", email.ToolProposeEmail, map[string]any{
			"to":      strings.TrimSpace(*to),
			"subject": *subject,
			"body":    text,
		})
	case "send":
		fs := flag.NewFlagSet("email send", flag.ContinueOnError)
		session := fs.String("session", "", "session id")
		handle := fs.String("handle", "", "email handle returned by propose")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return callSessionTool(*session, "", email.ToolSendEmail, map[string]any{"emailHandle": *handle})
	default:
		return withExitCode(fmt.Errorf("unknown email command: %s (use propose or send)", sub), exitInvalid)
	}
}

// callSessionTool runs one tool call through the gate in a stored session
// and records it there.
func callSessionTool(session, callID, name string, params map[string]any) error {
	sessionID, err := requireSession(session)
	if err != nil {
		return err
	}
	a, conv, err := openSession(sessionID)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := newWriter()
	registry := a.registry(pickReviewer(a, out))
	if strings.TrimSpace(callID) == "" {
		callID = "call_" + ulid.Make().String()
	}
	res, err := registry.Call(ctx, conv, callID, name, params)
	if err != nil {
		return err
	}
	return reportToolResult(out, callID, name, res)
}

func reportToolResult(out *terminal.Writer, callID, name string, res *builtin.Result) error {
	if jsonOutput {
		if err := printJSON(map[string]any{"callId": callID, "tool": name, "result": res}); err != nil {
			return err
		}
	} else if res.Success {
		out.Success("%s (%s)", name, callID)
		if len(res.Data) > 0 {
			if err := printJSON(res.Data); err != nil {
				return err
			}
		}
	} else {
		out.Error("%s: %s", name, res.Error)
	}
	if res.Success {
		return nil
	}
	return withExitCode(fmt.Errorf("%s failed", name), exitCodeForError(errors.New(errors.ErrorCode(res.Code), res.Error)))
}
