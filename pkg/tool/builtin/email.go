package builtin

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/odvcencio/excella/pkg/approval"
	"github.com/odvcencio/excella/pkg/email"
	"github.com/odvcencio/excella/pkg/errors"
)

// ProposeEmailTool puts a draft in front of the user. Only an approved
// draft yields a handle that send_email accepts.
type ProposeEmailTool struct {
	Reviewer approval.Reviewer
}

func (t *ProposeEmailTool) Name() string { return email.ToolProposeEmail }

func (t *ProposeEmailTool) Description() string {
	return "Propose an email for the user to review. Returns an emailHandle once the user approves the draft; pass that handle to send_email. Never restate the draft when sending."
}

func (t *ProposeEmailTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"to":      {Type: "string", Description: "Recipient email address"},
			"subject": {Type: "string", Description: "Subject line"},
			"body":    {Type: "string", Description: "Body text; markdown is rendered to HTML"},
		},
		Required: []string{"to", "subject", "body"},
	}
}

func (t *ProposeEmailTool) Execute(params map[string]any) (*Result, error) {
	return t.ExecuteWithContext(context.Background(), params)
}

func (t *ProposeEmailTool) ExecuteWithContext(ctx context.Context, params map[string]any) (*Result, error) {
	if t.Reviewer == nil {
		return Fail(errors.New(errors.ErrCodeConfigInvalid, "no reviewer configured").
			WithUserMessage("Email review is not available in this session.")), nil
	}
	var d email.Draft
	if err := decodeParams(params, &d); err != nil {
		return Fail(err), nil
	}
	if err := d.Validate(); err != nil {
		return Fail(errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid draft").
			WithUserMessage("Invalid email draft: " + err.Error())), nil
	}

	input, _ := json.Marshal(d)
	out, err := t.Reviewer.Review(ctx, approval.Review{
		Kind:      approval.ReviewEmail,
		SessionID: SessionFrom(ctx),
		ToolName:  t.Name(),
		Summary:   "Send email to " + strings.TrimSpace(d.To) + ": " + d.Subject,
		Input:     input,
	})
	if err != nil {
		return Fail(errors.Wrap(err, errors.ErrCodeApprovalRequired, "email review failed").
			WithUserMessage("The email could not be reviewed: " + err.Error())), nil
	}
	if !out.Approved {
		msg := "The user did not approve this email."
		if r := strings.TrimSpace(out.Reason); r != "" {
			msg = "The user did not approve this email: " + r
		}
		return Fail(errors.New(errors.ErrCodeApprovalDenied, "email draft rejected").WithUserMessage(msg)), nil
	}

	p, err := email.Propose(d)
	if err != nil {
		return Fail(errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid draft")), nil
	}
	return Succeed(p)
}

// SendEmailTool delivers a previously approved draft by handle.
type SendEmailTool struct {
	Sender *email.Sender
}

func (t *SendEmailTool) Name() string { return email.ToolSendEmail }

func (t *SendEmailTool) Description() string {
	return "Send an email that the user approved through propose_email. Takes only the emailHandle; the stored draft is sent."
}

func (t *SendEmailTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"emailHandle": {Type: "string", Description: "Handle returned by propose_email"},
		},
		Required: []string{"emailHandle"},
	}
}

// ApprovalRequest implements Gated.
func (t *SendEmailTool) ApprovalRequest(params map[string]any) approval.Request {
	handle, _ := params["emailHandle"].(string)
	return approval.Request{Operation: approval.OpEmailSend, Tool: t.Name(), Description: "send email " + handle}
}

func (t *SendEmailTool) Execute(params map[string]any) (*Result, error) {
	return t.ExecuteWithContext(context.Background(), params)
}

func (t *SendEmailTool) ExecuteWithContext(ctx context.Context, params map[string]any) (*Result, error) {
	if t.Sender == nil {
		return Fail(errors.New(errors.ErrCodeConfigInvalid, "no sender configured").
			WithUserMessage("Email sending is not configured. Ask the user to configure an email outbox.")), nil
	}
	var in struct {
		EmailHandle string `json:"emailHandle"`
	}
	if err := decodeParams(params, &in); err != nil {
		return Fail(err), nil
	}
	res, err := t.Sender.Send(ctx, HistoryFrom(ctx), strings.TrimSpace(in.EmailHandle))
	if err != nil {
		return Fail(err), nil
	}
	return Succeed(res)
}
