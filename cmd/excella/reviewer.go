package main

import (
	"context"
	"os/user"
	"strconv"
	"strings"

	"github.com/odvcencio/excella/pkg/approval"
	"github.com/odvcencio/excella/pkg/terminal"
	"github.com/odvcencio/excella/pkg/todo"
)

// terminalReviewer asks the person at the terminal. For plan reviews the
// task list can be edited before approving.
type terminalReviewer struct {
	out *terminal.Writer
}

func newTerminalReviewer(out *terminal.Writer) *terminalReviewer {
	return &terminalReviewer{out: out}
}

func (r *terminalReviewer) Review(ctx context.Context, rv approval.Review) (approval.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return approval.Outcome{}, err
	}
	r.out.Review(rv)

	outcome := approval.Outcome{DecidedBy: reviewerName()}
	if rv.Kind == approval.ReviewPlan && len(rv.Todos) > 0 && r.out.Confirm("Edit the task list first?", false) {
		outcome.Todos = r.editTodos(rv.Todos)
		r.out.Todos(outcome.Todos)
	}

	outcome.Approved = r.out.Confirm("Approve?", false)
	if !outcome.Approved {
		outcome.Reason = r.out.Prompt("Reason", "")
	}
	return outcome, ctx.Err()
}

// editTodos walks the list: Enter keeps a task, "-" drops it, anything
// else replaces its text. New tasks are appended until an empty line.
func (r *terminalReviewer) editTodos(tasks []todo.Task) []todo.Task {
	edited := make([]todo.Task, 0, len(tasks))
	for i, t := range tasks {
		answer := r.out.Prompt(strconv.Itoa(i)+". "+t.Text+" (Enter keeps, - drops)", "")
		switch answer {
		case "":
			edited = append(edited, t)
		case "-":
		default:
			edited = append(edited, todo.Task{Text: answer, Status: t.Status})
		}
	}
	for {
		text := r.out.Prompt("Add task (Enter to finish)", "")
		if text == "" {
			return edited
		}
		edited = append(edited, todo.Task{Text: text, Status: todo.StatusPending})
	}
}

func reviewerName() string {
	if u, err := user.Current(); err == nil && strings.TrimSpace(u.Username) != "" {
		return "cli:" + u.Username
	}
	return "cli"
}

// pickReviewer prefers the terminal when one is attached and otherwise
// queues the review in the store for another process to decide.
func pickReviewer(a *app, out *terminal.Writer) approval.Reviewer {
	if isInteractiveTerminalFn() {
		return newTerminalReviewer(out)
	}
	return a.storeReviewer()
}
