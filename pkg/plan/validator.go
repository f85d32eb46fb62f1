package plan

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/logging"
	"github.com/odvcencio/excella/pkg/telemetry"
	"github.com/odvcencio/excella/pkg/workbook"
)

// Issue messages, suitable for direct display.
const (
	IssueStaleSnapshot = "Plan was created for a different snapshot."
	IssueReadOnly      = "Workbook is in read-only mode; write operations are not allowed."
)

// Verdict is the outcome of validating a plan against a snapshot.
type Verdict struct {
	IsValid bool          `json:"isValid"`
	Risk    workbook.Risk `json:"risk"`
	Issues  []string      `json:"issues"`
}

// Validate checks p against snap. Staleness and read-only mode are issues;
// the snapshot's precomputed risk is a hard gate on top of them, so a plan
// with no issues but high risk is still invalid.
func Validate(p Plan, snap workbook.Snapshot) Verdict {
	issues := []string{}
	if p.SnapshotID != snap.ID() {
		issues = append(issues, IssueStaleSnapshot)
	}
	if snap.Safety.Flags.ReadOnlyMode {
		issues = append(issues, IssueReadOnly)
	}

	risk := workbook.BaseRisk()
	if snap.Safety.CurrentRisk != nil {
		risk = *snap.Safety.CurrentRisk
		risk.Reasons = append([]string{}, risk.Reasons...)
	}

	return Verdict{
		IsValid: len(issues) == 0 && risk.Level != workbook.RiskHigh,
		Risk:    risk,
		Issues:  issues,
	}
}

// Describe renders the verdict's failure reasons on one line.
func (v Verdict) Describe() string {
	parts := append([]string{}, v.Issues...)
	if v.Risk.Level == workbook.RiskHigh {
		reason := "Risk level is high."
		if len(v.Risk.Reasons) > 0 {
			reason = "Risk level is high: " + strings.Join(v.Risk.Reasons, " ")
		}
		parts = append(parts, reason)
	}
	return strings.Join(parts, "; ")
}

// Err maps an invalid verdict onto the structured error taxonomy. The first
// matching class wins: staleness, then read-only, then risk.
func (v Verdict) Err() error {
	if v.IsValid {
		return nil
	}
	for _, issue := range v.Issues {
		switch issue {
		case IssueStaleSnapshot:
			return errors.New(errors.ErrCodeStaleSnapshot, issue).
				WithRetryable(true).
				WithRemediation("Fetch a fresh snapshot and propose the plan again.")
		case IssueReadOnly:
			return errors.New(errors.ErrCodeReadOnly, issue)
		}
	}
	if v.Risk.Level == workbook.RiskHigh {
		return errors.New(errors.ErrCodeHighRisk, v.Describe()).
			WithRemediation("Narrow the selection or split the plan into smaller steps.")
	}
	return errors.New(errors.ErrCodeInvalidInput, v.Describe())
}

// Validator wraps Validate with logging, metrics and tracing.
type Validator struct {
	logger *logging.Logger
}

// NewValidator creates a Validator. logger may be nil.
func NewValidator(logger *logging.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate runs the pure check and records the outcome.
func (v *Validator) Validate(ctx context.Context, p Plan, snap workbook.Snapshot) Verdict {
	_, span := telemetry.StartSpan(ctx, "plan.validate")
	defer span.End()

	verdict := Validate(p, snap)

	span.SetAttributes(
		telemetry.AttrSnapshotID.String(snap.ID()),
		telemetry.AttrPlanSteps.Int(len(p.Steps)),
		telemetry.AttrValid.Bool(verdict.IsValid),
		telemetry.AttrRiskLevel.String(string(verdict.Risk.Level)),
		attribute.StringSlice("excella.validation.issues", verdict.Issues),
	)
	recordValidation(verdict)

	if v == nil {
		return verdict
	}
	details := map[string]any{
		"plan_snapshot": p.SnapshotID,
		"snapshot":      snap.ID(),
		"risk":          string(verdict.Risk.Level),
		"issues":        verdict.Issues,
		"steps":         len(p.Steps),
	}
	if verdict.IsValid {
		v.logger.Info(logging.CategoryValidation, "plan_valid", "plan passed validation", details)
	} else {
		v.logger.Warn(logging.CategoryValidation, "plan_invalid", fmt.Sprintf("plan rejected: %s", verdict.Describe()), details)
	}
	return verdict
}
