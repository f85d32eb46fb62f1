// Package email implements the propose-then-send flow for outgoing mail.
// A draft approved by the user becomes a propose_email result carrying a
// fresh handle; send_email resolves that handle from the conversation
// history and delivers the stored draft, never the model's restatement.
package email

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"

	"github.com/odvcencio/excella/pkg/conversation"
	"github.com/odvcencio/excella/pkg/deferred"
)

// Tool names for the propose/send family, with the aliases older clients
// record in history.
const (
	ToolProposeEmail = "propose_email"
	ToolSendEmail    = "send_email"
)

// InvalidHandleMessage is shown when a handle cannot be resolved.
const InvalidHandleMessage = "Invalid or expired email handle. Please propose the email again and request user approval before sending."

// SentResponse is the response text of a successful send.
const SentResponse = "Email sent successfully"

// Draft is what the agent proposes.
type Draft struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Validate checks the recipient address. Subject and body may be empty.
func (d Draft) Validate() error {
	to := strings.TrimSpace(d.To)
	if to == "" {
		return fmt.Errorf("recipient is required")
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	return nil
}

// Proposal is the accepted propose_email output.
type Proposal struct {
	EmailHandle string `json:"emailHandle"`
	To          string `json:"to"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

// Propose mints a handle for an approved draft.
func Propose(d Draft) (Proposal, error) {
	if err := d.Validate(); err != nil {
		return Proposal{}, err
	}
	return Proposal{
		EmailHandle: deferred.NewHandle(),
		To:          strings.TrimSpace(d.To),
		Subject:     d.Subject,
		Body:        d.Body,
	}, nil
}

// SendResult is the send_email output. A result with Sent=true consumes
// its handle.
type SendResult struct {
	Response    string `json:"response"`
	EmailHandle string `json:"emailHandle"`
	Sent        bool   `json:"sent"`
	MessageID   string `json:"messageId,omitempty"`
}

func decodeProposal(raw json.RawMessage) (Proposal, error) {
	if err := conversation.RequireKeys(raw, "emailHandle", "to", "subject", "body"); err != nil {
		return Proposal{}, err
	}
	return conversation.DecodeStrict[Proposal](raw, func(p *Proposal) error {
		if strings.TrimSpace(p.EmailHandle) == "" {
			return fmt.Errorf("empty handle")
		}
		return nil
	})
}

func consumedHandle(raw json.RawMessage) (string, bool) {
	res, err := conversation.DecodeStrict[SendResult](raw, nil)
	if err != nil || !res.Sent {
		return "", false
	}
	return res.EmailHandle, true
}

// Registry resolves email handles from history.
var Registry = deferred.Registry[Proposal]{
	ProposeTools:    []string{ToolProposeEmail, "propose-email", "proposeEmailTool"},
	Decode:          decodeProposal,
	Handle:          func(p Proposal) string { return p.EmailHandle },
	ConsumeTools:    []string{ToolSendEmail, "send-email", "sendEmailTool"},
	ConsumedHandle:  consumedHandle,
	NotFoundMessage: InvalidHandleMessage,
}
