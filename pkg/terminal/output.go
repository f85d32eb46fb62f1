// Package terminal renders excella's command-line output: styled status
// lines, task lists, plan verdicts and the interactive review prompt.
package terminal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/odvcencio/excella/pkg/approval"
	"github.com/odvcencio/excella/pkg/plan"
	"github.com/odvcencio/excella/pkg/todo"
	"github.com/odvcencio/excella/pkg/workbook"
)

// DisableColor strips ANSI styling from every Writer.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

type tone int

const (
	plain tone = iota
	toneError
	toneWarn
	toneOK
	toneInfo
	toneDim
	toneBold
	toneHeader
)

func fg(light, dark string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: light, Dark: dark})
}

var rule = lipgloss.AdaptiveColor{Light: "#CCCCCC", Dark: "#444444"}

// palette maps each tone to its style. plain is the zero style.
var palette = map[tone]lipgloss.Style{
	toneError: fg("#D00000", "#FF5555").Bold(true),
	toneWarn:  fg("#B8860B", "#FFAA00"),
	toneOK:    fg("#008000", "#55FF55"),
	toneInfo:  fg("#0066CC", "#5599FF"),
	toneDim:   fg("#666666", "#888888"),
	toneBold:  lipgloss.NewStyle().Bold(true),
	toneHeader: fg("#333333", "#FFFFFF").Bold(true).
		BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(rule),
}

func paint(t tone, s string) string {
	if style, ok := palette[t]; ok {
		return style.Render(s)
	}
	return s
}

// Risk levels and task statuses reuse the status tones.
var (
	riskTones = map[workbook.RiskLevel]tone{
		workbook.RiskHigh:   toneError,
		workbook.RiskMedium: toneWarn,
		workbook.RiskLow:    toneOK,
	}
	todoTones = map[todo.Status]tone{
		todo.StatusDone:       toneDim,
		todo.StatusInProgress: toneInfo,
	}
	todoGlyphs = map[todo.Status]string{
		todo.StatusDone:       "●",
		todo.StatusInProgress: "◐",
		todo.StatusPending:    "◌",
	}
)

func glyph(s todo.Status) string {
	if g, ok := todoGlyphs[s]; ok {
		return g
	}
	return "○"
}

func riskText(level workbook.RiskLevel) string {
	t, ok := riskTones[level]
	if !ok {
		t = toneOK
	}
	return paint(t, string(level))
}

// Writer provides styled terminal output. Its methods are safe for
// concurrent use.
type Writer struct {
	mu       sync.Mutex
	out      io.Writer
	in       *bufio.Reader
	renderer *glamour.TermRenderer
}

// New creates a Writer on stdin and stdout.
func New() *Writer {
	return NewWithIO(os.Stdin, os.Stdout)
}

// NewWithOutput creates a Writer that never prompts.
func NewWithOutput(out io.Writer) *Writer {
	return NewWithIO(nil, out)
}

// NewWithIO creates a Writer that prompts on in and writes to out.
func NewWithIO(in io.Reader, out io.Writer) *Writer {
	w := &Writer{out: out}
	w.renderer, _ = glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if in != nil {
		w.in = bufio.NewReader(in)
	}
	return w
}

// lines writes each line under the lock so concurrent writers never
// interleave within one block.
func (w *Writer) lines(ls ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, l := range ls {
		fmt.Fprintln(w.out, l)
	}
}

func (w *Writer) say(t tone, prefix, format string, args ...any) {
	w.lines(paint(t, prefix+fmt.Sprintf(format, args...)))
}

// Println writes a formatted line.
func (w *Writer) Println(format string, args ...any) { w.say(plain, "", format, args...) }

func (w *Writer) Error(format string, args ...any) { w.say(toneError, "error: ", format, args...) }
func (w *Writer) Warn(format string, args ...any) { w.say(toneWarn, "warning: ", format, args...) }
func (w *Writer) Success(format string, args ...any) { w.say(toneOK, "✓ ", format, args...) }
func (w *Writer) Info(format string, args ...any) { w.say(toneInfo, "", format, args...) }

// Dim prints secondary text.
func (w *Writer) Dim(format string, args ...any) { w.say(toneDim, "", format, args...) }

func (w *Writer) Header(title string) { w.lines(paint(toneHeader, title)) }

// Markdown renders md, falling back to the raw text when rendering fails.
func (w *Writer) Markdown(md string) error {
	if w.renderer == nil {
		w.lines(md)
		return nil
	}
	rendered, err := w.renderer.Render(md)
	if err != nil {
		w.lines(md)
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = io.WriteString(w.out, rendered)
	return err
}

// Box renders content in a rounded box sized to the terminal.
func (w *Writer) Box(title, content string) {
	if title != "" {
		content = paint(toneBold, title) + "\n\n" + content
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(rule).
		Padding(0, 1).
		Width(min(terminalWidth()-4, 80))
	w.lines(box.Render(content))
}

func terminalWidth() int {
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	return 80
}

// Todos prints a task list with one glyph per status and a count footer.
func (w *Writer) Todos(tasks []todo.Task) {
	if len(tasks) == 0 {
		w.lines(paint(toneDim, "No tasks."))
		return
	}
	out := make([]string, 0, len(tasks)+1)
	for i, t := range tasks {
		out = append(out, paint(todoTones[t.Status], fmt.Sprintf("  %d. %s %s", i, glyph(t.Status), t.Text)))
	}
	n := todo.Counts(tasks)
	out = append(out, paint(toneDim, fmt.Sprintf("  %d new, %d pending, %d in progress, %d done",
		n[todo.StatusNew], n[todo.StatusPending], n[todo.StatusInProgress], n[todo.StatusDone])))
	w.lines(out...)
}

func verdictLines(v plan.Verdict) []string {
	head := paint(toneOK, "✓ Plan is valid")
	if !v.IsValid {
		head = paint(toneError, "✗ Plan is invalid")
	}
	out := []string{head, "  risk: " + riskText(v.Risk.Level)}
	for _, r := range v.Risk.Reasons {
		out = append(out, paint(toneDim, "    "+r))
	}
	for _, issue := range v.Issues {
		out = append(out, "  • "+issue)
	}
	return out
}

// Verdict prints a plan validation verdict.
func (w *Writer) Verdict(v plan.Verdict) { w.lines(verdictLines(v)...) }

// PlanResult prints an execution result, preceded by the verdict when
// validation rejected the plan.
func (w *Writer) PlanResult(res plan.Result) {
	var out []string
	if res.Validation != nil && !res.Validation.IsValid {
		out = verdictLines(*res.Validation)
	}
	if res.OK() {
		out = append(out, paint(toneOK, "✓ "+res.Summary))
	} else {
		out = append(out, paint(toneError, "✗ "+res.Summary))
	}
	for _, a := range res.Actions {
		target := a.TargetRange
		if a.TargetWorksheet != "" {
			target = a.TargetWorksheet + "!" + target
		}
		out = append(out, fmt.Sprintf("  %s %-16s %-24s %s", paint(toneDim, string(a.Status)), a.Kind, target, a.Description))
	}
	for _, e := range res.Errors {
		out = append(out, paint(toneError, "  ✗ "+e.Message))
		if e.Details != "" {
			out = append(out, paint(toneDim, "    "+e.Details))
		}
	}
	w.lines(out...)
}

// Snapshot prints the headline facts of a workbook snapshot.
func (w *Writer) Snapshot(snap workbook.Snapshot) {
	sheets := make([]string, len(snap.Workbook.Worksheets))
	for i, ws := range snap.Workbook.Worksheets {
		sheets[i] = ws.Name
	}
	out := []string{
		paint(toneHeader, snap.Meta.WorkbookName),
		"  snapshot:   " + snap.ID(),
		"  worksheets: " + strings.Join(sheets, ", "),
	}
	if sel := snap.Selection; sel != nil {
		out = append(out, fmt.Sprintf("  selection:  %s!%s (%dx%d)", sel.WorksheetName, sel.RangeAddress, sel.RowCount, sel.ColumnCount))
	}
	if r := snap.Safety.CurrentRisk; r != nil {
		out = append(out, "  risk:       "+riskText(r.Level))
	}
	if snap.Safety.Flags.ReadOnlyMode {
		out = append(out, paint(toneWarn, "  read-only mode"))
	}
	w.lines(out...)
}

// Review renders a pending review in a box for a human to decide on.
func (w *Writer) Review(r approval.Review) {
	body := []string{r.Summary}
	if r.SnapshotID != "" {
		body = append(body, "", "snapshot: "+r.SnapshotID)
	}
	if r.RiskLevel != "" {
		body = append(body, "risk:     "+riskText(workbook.RiskLevel(r.RiskLevel)))
		for _, reason := range r.RiskReasons {
			body = append(body, "  "+reason)
		}
	}
	if len(r.Todos) > 0 {
		body = append(body, "")
		for i, t := range r.Todos {
			body = append(body, fmt.Sprintf("%d. %s %s", i, glyph(t.Status), t.Text))
		}
	}
	w.Box(fmt.Sprintf("Approve %s? (%s)", r.Kind, r.ToolName), strings.Join(body, "\n"))
}

// Prompt asks for one line of input. A blank answer, or a Writer without
// input, yields defaultValue.
func (w *Writer) Prompt(prompt, defaultValue string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if defaultValue != "" {
		prompt += " [" + defaultValue + "]"
	}
	fmt.Fprint(w.out, prompt+": ")
	if w.in == nil {
		fmt.Fprintln(w.out)
		return defaultValue
	}
	line, _ := w.in.ReadString('\n')
	if line = strings.TrimSpace(line); line != "" {
		return line
	}
	return defaultValue
}

// Confirm prompts for yes or no.
func (w *Writer) Confirm(prompt string, defaultYes bool) bool {
	hint := " [y/N]"
	if defaultYes {
		hint = " [Y/n]"
	}
	switch strings.ToLower(w.Prompt(prompt+hint, "")) {
	case "":
		return defaultYes
	case "y", "yes":
		return true
	}
	return false
}
