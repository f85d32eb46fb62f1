package workbook

import (
	"context"

	"github.com/odvcencio/excella/pkg/config"
)

// SafetyProvider supplies the limits and flags attached to each snapshot
// and assesses risk for the current selection.
type SafetyProvider interface {
	Limits(ctx context.Context) (Limits, error)
	Flags(ctx context.Context) (Flags, error)
	AssessRisk(ctx context.Context, sel *Selection) (*Risk, error)
}

// DefaultLimits are the built-in ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxCellsToWrite:                     config.DefaultMaxCellsToWrite,
		MaxRowsToDelete:                     config.DefaultMaxRowsToDelete,
		MaxColumnsToDelete:                  config.DefaultMaxColumnsToDelete,
		RequireConfirmationForWholeSheetOps: true,
		RequireBackupBeforeDestructiveOps:   true,
	}
}

// StaticSafety serves fixed limits and flags.
type StaticSafety struct {
	limits Limits
	flags  Flags
}

// NewStaticSafety creates a provider from explicit values.
func NewStaticSafety(limits Limits, flags Flags) *StaticSafety {
	return &StaticSafety{limits: limits, flags: flags}
}

// SafetyFromConfig builds a provider from the safety section of the config.
func SafetyFromConfig(cfg config.SafetyConfig) *StaticSafety {
	return NewStaticSafety(Limits{
		MaxCellsToWrite:                     cfg.MaxCellsToWrite,
		MaxRowsToDelete:                     cfg.MaxRowsToDelete,
		MaxColumnsToDelete:                  cfg.MaxColumnsToDelete,
		RequireConfirmationForWholeSheetOps: cfg.RequireConfirmationForWholeSheetOps,
		RequireBackupBeforeDestructiveOps:   cfg.RequireBackupBeforeDestructiveOps,
	}, Flags{
		ReadOnlyMode:                cfg.ReadOnlyMode,
		ExperimentalFeaturesEnabled: cfg.ExperimentalFeaturesEnabled,
	})
}

func (s *StaticSafety) Limits(context.Context) (Limits, error) { return s.limits, nil }

func (s *StaticSafety) Flags(context.Context) (Flags, error) { return s.flags, nil }

func (s *StaticSafety) AssessRisk(_ context.Context, sel *Selection) (*Risk, error) {
	return AssessRisk(sel, s.limits), nil
}
