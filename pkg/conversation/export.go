package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// ExportFormat selects how Export renders a history.
type ExportFormat string

const (
	ExportMarkdown ExportFormat = "markdown"
	ExportJSON     ExportFormat = "json"
)

// ExportOptions filters what Export includes. System turns and tool parts
// are omitted unless asked for.
type ExportOptions struct {
	Format           ExportFormat
	IncludeSystem    bool
	IncludeToolCalls bool
}

type export struct {
	SessionID  string    `json:"session_id"`
	ExportedAt time.Time `json:"exported_at"`
	Turns      []Turn    `json:"turns"`
}

var markdownExport = template.Must(template.New("export").Funcs(template.FuncMap{
	"upper": strings.ToUpper,
	"role":  func(r Role) string { return string(r) },
	"raw":   func(m json.RawMessage) string { return string(m) },
	"rfc":   func(t time.Time) string { return t.Format(time.RFC3339) },
}).Parse(`# Excella Conversation Export

Session: {{.SessionID}}
Exported: {{rfc .ExportedAt}}

---
{{range .Turns}}
### {{upper (role .Role)}}
{{range .Parts}}
{{- if eq .Kind "text"}}
{{.Text}}
{{else if eq .Kind "tool-call"}}
_call ` + "`{{.ToolName}}`" + ` ({{.ToolCallID}})_

` + "```json\n{{raw .Input}}\n```" + `
{{else if eq .Kind "tool-result"}}
{{- if eq .State "output-error"}}
_result ` + "`{{.ToolName}}`" + ` failed: {{.ErrorText}}_
{{else}}
_result ` + "`{{.ToolName}}`" + ` ({{.State}})_

` + "```json\n{{raw .Output}}\n```" + `
{{end}}
{{- end}}
{{- end}}
{{- end}}`))

// Export renders h as markdown for people or JSON for tooling.
func Export(sessionID string, h History, opts ExportOptions) ([]byte, error) {
	doc := export{SessionID: sessionID, ExportedAt: time.Now(), Turns: exportTurns(h, opts)}
	switch opts.Format {
	case "", ExportMarkdown:
		var buf bytes.Buffer
		if err := markdownExport.Execute(&buf, doc); err != nil {
			return nil, fmt.Errorf("render export: %w", err)
		}
		return buf.Bytes(), nil
	case ExportJSON:
		return json.MarshalIndent(doc, "", "  ")
	}
	return nil, fmt.Errorf("unknown export format %q", opts.Format)
}

// exportTurns applies opts to h. Turns left without parts are dropped.
func exportTurns(h History, opts ExportOptions) []Turn {
	var turns []Turn
	for _, t := range h {
		if t.Role == RoleSystem && !opts.IncludeSystem {
			continue
		}
		if !opts.IncludeToolCalls {
			var text []Part
			for _, p := range t.Parts {
				if p.Kind == PartText {
					text = append(text, p)
				}
			}
			t.Parts = text
		}
		if len(t.Parts) > 0 {
			turns = append(turns, t)
		}
	}
	return turns
}
