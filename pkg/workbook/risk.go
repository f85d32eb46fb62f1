package workbook

// RiskLevel is a coarse classification of how much of the workbook a
// change would touch.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Risk is a RiskAssessment.
type Risk struct {
	Level                  RiskLevel `json:"level"`
	Reasons                []string  `json:"reasons"`
	EstimatedCellsAffected int       `json:"estimatedCellsAffected,omitempty"`
	TouchesFormulas        bool      `json:"touchesFormulas,omitempty"`
	TouchesTables          bool      `json:"touchesTables,omitempty"`
	TouchesNamedRanges     bool      `json:"touchesNamedRanges,omitempty"`
}

// BaseRisk is what validation assumes when nothing has been assessed.
func BaseRisk() Risk {
	return Risk{Level: RiskLow, Reasons: []string{}}
}

// ReasonExceedsWriteLimit is attached to high-risk assessments.
const ReasonExceedsWriteLimit = "Selection exceeds maxCellsToWrite limit."

// AssessRisk classifies writing over sel. A missing or empty selection is
// not assessable and yields nil, which is not the same as low risk.
func AssessRisk(sel *Selection, limits Limits) *Risk {
	if sel == nil || sel.Type == SelectionNone || sel.Type == "" {
		return nil
	}

	units := sel.RowCount * sel.ColumnCount
	maxCells := limits.MaxCellsToWrite

	level := RiskLow
	switch {
	case units > maxCells:
		level = RiskHigh
	case units > maxCells/10:
		level = RiskMedium
	}

	reasons := []string{}
	if level == RiskHigh {
		reasons = append(reasons, ReasonExceedsWriteLimit)
	}

	return &Risk{
		Level:                  level,
		Reasons:                reasons,
		EstimatedCellsAffected: units,
		TouchesTables:          sel.Type == SelectionTable,
	}
}
