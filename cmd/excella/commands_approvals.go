package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/excella/pkg/approval"
	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/storage"
)

func runApprovalsCommand(args []string) error {
	sub := "list"
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
	if a.store == nil {
		return errors.New(errors.ErrCodeConfigInvalid, "no store configured").
			WithRemediation("Approvals need storage.path to be set.")
	}

	switch sub {
	case "list":
		return listApprovals(a, args)
	case "show":
		return showApproval(a, args)
	case "approve":
		return decideApproval(a, args, true)
	case "reject":
		return decideApproval(a, args, false)
	case "expire":
		n, err := a.store.ExpirePendingApprovals()
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageWrite, "expire approvals")
		}
		newWriter().Info("%d approval(s) expired", n)
		return nil
	default:
		return withExitCode(fmt.Errorf("unknown approvals command: %s (use list, show, approve, reject or expire)", sub), exitInvalid)
	}
}

func listApprovals(a *app, args []string) error {
	fs := flag.NewFlagSet("approvals list", flag.ContinueOnError)
	session := fs.String("session", "", "only this session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pending, err := a.store.ListPendingApprovals(strings.TrimSpace(*session))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageRead, "list approvals")
	}
	if jsonOutput {
		if pending == nil {
			pending = []*storage.PendingApproval{}
		}
		return printJSON(pending)
	}
	out := newWriter()
	if len(pending) == 0 {
		out.Dim("No pending approvals.")
		return nil
	}
	now := time.Now()
	for _, p := range pending {
		review := decodeReview(p)
		out.Println("%s  %-22s %-12s %s", p.ID, p.ToolName, p.SessionID, review.Summary)
		out.Dim("    risk %s, expires in %s", orDash(p.RiskLevel), p.ExpiresAt.Sub(now).Round(time.Second))
	}
	return nil
}

func showApproval(a *app, args []string) error {
	if len(args) == 0 {
		return withExitCode(fmt.Errorf("usage: excella approvals show ID"), exitInvalid)
	}
	p, err := getApproval(a, args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(p)
	}
	out := newWriter()
	out.Review(decodeReview(p))
	out.Dim("status %s, session %s", p.Status, orDash(p.SessionID))
	if p.Decided() {
		out.Dim("decided by %s: %s", orDash(p.DecidedBy), orDash(p.DecisionReason))
	}
	return nil
}

func decideApproval(a *app, args []string, approved bool) error {
	verb := "approve"
	if !approved {
		verb = "reject"
	}
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return withExitCode(fmt.Errorf("usage: excella approvals %s ID [--reason TEXT]", verb), exitInvalid)
	}
	id, args := args[0], args[1:]
	fs := flag.NewFlagSet("approvals "+verb, flag.ContinueOnError)
	reason := fs.String("reason", "", "reason recorded with the decision")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := getApproval(a, id)
	if err != nil {
		return err
	}
	if p.Decided() {
		return withExitCode(fmt.Errorf("approval %s is already %s", p.ID, p.Status), exitConflict)
	}
	p.Status = storage.ApprovalRejected
	if approved {
		p.Status = storage.ApprovalApproved
	}
	p.DecidedBy = reviewerName()
	p.DecisionReason = strings.TrimSpace(*reason)
	if err := a.store.DecidePendingApproval(p); err != nil {
		return withExitCode(errors.Wrap(err, errors.ErrCodeStorageWrite, "decide approval"), exitConflict)
	}
	a.logger.Info(logging.CategoryApproval, "approval_decided", p.Status, map[string]any{
		"id":         p.ID,
		"tool":       p.ToolName,
		"decided_by": p.DecidedBy,
	})
	if jsonOutput {
		return printJSON(p)
	}
	newWriter().Success("%s %s", p.ID, p.Status)
	return nil
}

func getApproval(a *app, id string) (*storage.PendingApproval, error) {
	p, err := a.store.GetPendingApproval(strings.TrimSpace(id))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "get approval")
	}
	if p == nil {
		return nil, withExitCode(fmt.Errorf("approval not found: %s", id), exitInvalid)
	}
	return p, nil
}

// decodeReview recovers the review a StoreReviewer recorded as tool input.
// Rows written by older versions fall back to the row's own columns.
func decodeReview(p *storage.PendingApproval) approval.Review {
	var r approval.Review
	if err := json.Unmarshal([]byte(p.ToolInput), &r); err != nil || r.Summary == "" {
		r = approval.Review{
			ID:          p.ID,
			SessionID:   p.SessionID,
			ToolName:    p.ToolName,
			SnapshotID:  p.SnapshotID,
			Summary:     p.ToolName,
			RiskLevel:   p.RiskLevel,
			RiskReasons: p.RiskReasons,
		}
	}
	return r
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
