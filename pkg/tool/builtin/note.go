package builtin

import (
	"context"

	"github.com/odvcencio/excella/pkg/approval"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/memory"
)

const ToolAddNote = "add_note"

// NoteOutput is the add_note output.
type NoteOutput struct {
	Note  memory.Note `json:"note"`
	Notes int         `json:"notes"`
}

// AddNoteTool appends an observation to the workbook's agent memory.
type AddNoteTool struct {
	Updater *memory.Updater
	Repo    memory.Repository
	OwnerID string
}

func (t *AddNoteTool) Name() string { return ToolAddNote }

func (t *AddNoteTool) Description() string {
	return "Remember an observation about this workbook (layout conventions, user preferences, caveats). Notes are kept in agent memory and shown in later snapshots."
}

func (t *AddNoteTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"text": {Type: "string", Description: "The note"},
			"importance": {
				Type:        "string",
				Description: "How much the note matters",
				Enum:        []string{"low", "medium", "high"},
				Default:     "medium",
			},
		},
		Required: []string{"text"},
	}
}

// ApprovalRequest implements Gated.
func (t *AddNoteTool) ApprovalRequest(map[string]any) approval.Request {
	return approval.Request{Operation: approval.OpNote, Tool: t.Name(), Description: "add memory note"}
}

func (t *AddNoteTool) Execute(params map[string]any) (*Result, error) {
	return t.ExecuteWithContext(context.Background(), params)
}

func (t *AddNoteTool) ExecuteWithContext(ctx context.Context, params map[string]any) (*Result, error) {
	if t.Updater == nil {
		return Fail(errors.New(errors.ErrCodeConfigInvalid, "no memory updater configured")), nil
	}
	var in struct {
		Text       string            `json:"text"`
		Importance memory.Importance `json:"importance"`
	}
	if err := decodeParams(params, &in); err != nil {
		return Fail(err), nil
	}

	prev := memory.Empty()
	if t.Repo != nil {
		loaded, err := t.Repo.Load(ctx, t.OwnerID)
		if err != nil {
			return Fail(errors.Wrap(err, errors.ErrCodeStorageRead, "load memory")), nil
		}
		prev = loaded
	}

	updated, note, err := t.Updater.AddNote(ctx, t.OwnerID, prev, in.Text, in.Importance)
	if err != nil {
		if note.ID == "" {
			return Fail(errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid note").
				WithUserMessage("Invalid note: " + err.Error())), nil
		}
		return Fail(errors.Wrap(err, errors.ErrCodeStorageWrite, "save note")), nil
	}
	return Succeed(NoteOutput{Note: note, Notes: len(updated.Notes)})
}
